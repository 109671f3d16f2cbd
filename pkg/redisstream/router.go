package redisstream

import (
	"context"
	"strings"

	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewClient returns a redis client for s.Addr.
func NewClient(s Settings) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: s.Addr})
}

// Ping checks that the redis server answers.
func Ping(ctx context.Context, client redis.UniversalClient) error {
	return errors.Wrap(client.Ping(ctx).Err(), "redis ping")
}

// BuildPublisher returns a Redis Streams publisher on client.
func BuildPublisher(client redis.UniversalClient, logger zerolog.Logger) (message.Publisher, error) {
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, NewWatermillLogger(logger))
	if err != nil {
		return nil, errors.Wrap(err, "redis stream publisher")
	}
	return pub, nil
}

// BuildGroupSubscriber returns a Redis Streams subscriber bound to the given
// consumer group/name.
func BuildGroupSubscriber(client redis.UniversalClient, group, consumer string, logger zerolog.Logger) (message.Subscriber, error) {
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      consumer,
	}, NewWatermillLogger(logger))
	if err != nil {
		return nil, errors.Wrap(err, "redis stream subscriber")
	}
	return sub, nil
}

// EnsureGroupAtTail creates the consumer group for a given stream at the tail
// ($) if it doesn't exist, so a new group skips the stream's history.
func EnsureGroupAtTail(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// BUSYGROUP: group already exists
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
	log.Debug().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}

// DestroyGroup removes a consumer group created for a short-lived subscriber.
func DestroyGroup(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	return errors.Wrapf(client.XGroupDestroy(ctx, stream, group).Err(), "destroy consumer group %s on %s", group, stream)
}
