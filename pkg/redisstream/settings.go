package redisstream

import "strings"

// Settings holds Redis Streams transport configuration for Watermill.
type Settings struct {
	Enabled  bool   `yaml:"enabled" glazed:"redis-enabled"`
	Addr     string `yaml:"addr" glazed:"redis-addr"`
	Group    string `yaml:"group" glazed:"redis-group"`
	Consumer string `yaml:"consumer" glazed:"redis-consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		Addr:     "localhost:6379",
		Group:    "scribe-status",
		Consumer: "scribe-1",
	}
}

// Sanitized returns a copy with defaults filled in.
func (s Settings) Sanitized() Settings {
	def := DefaultSettings()
	out := s
	out.Addr = strings.TrimSpace(out.Addr)
	if out.Addr == "" {
		out.Addr = def.Addr
	}
	if strings.TrimSpace(out.Group) == "" {
		out.Group = def.Group
	}
	if strings.TrimSpace(out.Consumer) == "" {
		out.Consumer = def.Consumer
	}
	return out
}
