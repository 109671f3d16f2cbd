package redisstream

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
)

const RedisSlug = "redis"

// NewSection returns the glazed section holding Settings as redis-* flags.
func NewSection() (schema.Section, error) {
	def := DefaultSettings()
	return schema.NewSection(
		RedisSlug,
		"Redis Streams transport for auto-save status events",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool,
				fields.WithHelp("Fan status events out over Redis Streams instead of in memory"),
				fields.WithDefault(def.Enabled)),
			fields.New("redis-addr", fields.TypeString,
				fields.WithHelp("Redis address host:port"),
				fields.WithDefault(def.Addr)),
			fields.New("redis-group", fields.TypeString,
				fields.WithHelp("Prefix of the per-watcher consumer groups"),
				fields.WithDefault(def.Group)),
			fields.New("redis-consumer", fields.TypeString,
				fields.WithHelp("Consumer name of this process"),
				fields.WithDefault(def.Consumer)),
		),
	)
}

// SettingsFromValues decodes the redis section. Fields left at their default
// keep the value of base.
func SettingsFromValues(parsed *values.Values, base Settings) (Settings, error) {
	var s Settings
	if err := parsed.DecodeSectionInto(RedisSlug, &s); err != nil {
		return base, errors.Wrap(err, "decode redis settings")
	}
	def := DefaultSettings()
	out := base
	if s.Enabled != def.Enabled {
		out.Enabled = s.Enabled
	}
	if s.Addr != def.Addr {
		out.Addr = s.Addr
	}
	if s.Group != def.Group {
		out.Group = s.Group
	}
	if s.Consumer != def.Consumer {
		out.Consumer = s.Consumer
	}
	return out, nil
}
