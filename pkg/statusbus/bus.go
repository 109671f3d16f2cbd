// Package statusbus fans autosave status transitions out to watchers, in
// process over a Watermill go channel or across processes over Redis Streams.
package statusbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/scribe/pkg/autosave"
	"github.com/go-go-golems/scribe/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const topicPrefix = "autosave.status."

// Topic returns the topic carrying status events for documentID.
func Topic(documentID string) string {
	return topicPrefix + documentID
}

type Bus interface {
	Publish(ctx context.Context, status autosave.Status) error
	// Subscribe delivers status events for documentID published after the
	// call. The channel is closed once ctx is done or the bus is closed.
	Subscribe(ctx context.Context, documentID string) (<-chan autosave.Status, error)
	Close() error
}

type subscribeFunc func(ctx context.Context, topic string) (<-chan *message.Message, error)

// WatermillBus implements Bus on a Watermill publisher and subscriber.
type WatermillBus struct {
	pub       message.Publisher
	subscribe subscribeFunc
	closers   []func() error
	log       zerolog.Logger

	mu     sync.Mutex
	closed bool
}

var _ Bus = &WatermillBus{}

// Build returns a Redis Streams backed bus when s.Enabled and an in-memory
// bus otherwise.
func Build(ctx context.Context, s redisstream.Settings) (*WatermillBus, error) {
	if !s.Enabled {
		return NewInMemory(log.Logger), nil
	}
	s = s.Sanitized()
	client := redisstream.NewClient(s)
	if err := redisstream.Ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedis(client, s, log.Logger)
}

// NewInMemory returns a bus for a single process.
func NewInMemory(logger zerolog.Logger) *WatermillBus {
	// blocking until ack keeps events for one subscriber in publish order
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, redisstream.NewWatermillLogger(logger))
	return &WatermillBus{
		pub:       pubsub,
		subscribe: pubsub.Subscribe,
		closers:   []func() error{pubsub.Close},
		log:       logger.With().Str("component", "statusbus").Logger(),
	}
}

// NewRedis returns a bus on Redis Streams. Every subscription gets its own
// consumer group created at the stream tail, so each watcher sees every
// event published after it subscribed.
func NewRedis(client *redis.Client, s redisstream.Settings, logger zerolog.Logger) (*WatermillBus, error) {
	pub, err := redisstream.BuildPublisher(client, logger)
	if err != nil {
		return nil, err
	}
	busLog := logger.With().Str("component", "statusbus").Logger()

	subscribe := func(ctx context.Context, topic string) (<-chan *message.Message, error) {
		group := s.Group + "-" + uuid.NewString()
		if err := redisstream.EnsureGroupAtTail(ctx, client, topic, group); err != nil {
			return nil, err
		}
		sub, err := redisstream.BuildGroupSubscriber(client, group, s.Consumer, logger)
		if err != nil {
			return nil, err
		}
		msgs, err := sub.Subscribe(ctx, topic)
		if err != nil {
			_ = sub.Close()
			return nil, errors.Wrapf(err, "subscribe %s", topic)
		}
		go func() {
			<-ctx.Done()
			if err := sub.Close(); err != nil {
				busLog.Debug().Err(err).Str("topic", topic).Msg("closing subscriber")
			}
			// group is per subscription, nobody else reads from it
			if err := redisstream.DestroyGroup(context.Background(), client, topic, group); err != nil {
				busLog.Debug().Err(err).Str("topic", topic).Msg("destroying consumer group")
			}
		}()
		return msgs, nil
	}

	return &WatermillBus{
		pub:       pub,
		subscribe: subscribe,
		closers:   []func() error{pub.Close, client.Close},
		log:       busLog,
	}, nil
}

func (b *WatermillBus) Publish(ctx context.Context, status autosave.Status) error {
	if status.DocumentID == "" {
		return errors.New("statusbus: status without document id")
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return errors.Wrap(err, "statusbus: marshal status")
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("document_id", status.DocumentID)
	msg.Metadata.Set("state", string(status.State))
	msg.SetContext(ctx)
	if err := b.pub.Publish(Topic(status.DocumentID), msg); err != nil {
		return errors.Wrapf(err, "statusbus: publish %s", Topic(status.DocumentID))
	}
	return nil
}

func (b *WatermillBus) Subscribe(ctx context.Context, documentID string) (<-chan autosave.Status, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, errors.New("statusbus: closed")
	}
	topic := Topic(documentID)
	msgs, err := b.subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	out := make(chan autosave.Status, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			var st autosave.Status
			if err := json.Unmarshal(msg.Payload, &st); err != nil {
				b.log.Warn().Err(err).Str("topic", topic).Str("message_id", msg.UUID).Msg("dropping malformed status")
				msg.Ack()
				continue
			}
			msg.Ack()
			if ctx.Err() != nil {
				return
			}
			// a slow watcher only needs the newest snapshot
			select {
			case out <- st:
			default:
				select {
				case <-out:
				default:
				}
				out <- st
			}
		}
	}()
	return out, nil
}

func (b *WatermillBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Forward returns a listener publishing every status to bus. Publish errors
// are logged and otherwise ignored.
func Forward(ctx context.Context, bus Bus) autosave.StatusListener {
	return func(st autosave.Status) {
		if err := bus.Publish(ctx, st); err != nil {
			log.Warn().Err(err).Str("component", "statusbus").Str("document_id", st.DocumentID).Msg("status publish failed")
		}
	}
}
