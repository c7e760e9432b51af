package redisstream

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const SectionSlug = "redis"

// Settings holds Redis Streams transport configuration for the notification bus.
type Settings struct {
	Enabled  bool   `glazed:"redis-enabled" glazed.default:"false" glazed.help:"Publish chat notifications on Redis Streams"`
	Addr     string `glazed:"redis-addr" glazed.default:"localhost:6379" glazed.help:"Redis address host:port"`
	Group    string `glazed:"redis-group" glazed.default:"streamchat" glazed.help:"Redis consumer group"`
	Consumer string `glazed:"redis-consumer" glazed.default:"streamchat-1" glazed.help:"Redis consumer name"`
	Topic    string `glazed:"redis-topic" glazed.default:"streamchat.notifications" glazed.help:"Redis stream carrying notifications"`
}

// NewSection returns a section definition for Redis Streams settings.
func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Redis Streams notification bus",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool, fields.WithDefault(false),
				fields.WithHelp("Publish chat notifications on Redis Streams")),
			fields.New("redis-addr", fields.TypeString, fields.WithDefault("localhost:6379"),
				fields.WithHelp("Redis address host:port")),
			fields.New("redis-group", fields.TypeString, fields.WithDefault("streamchat"),
				fields.WithHelp("Redis consumer group")),
			fields.New("redis-consumer", fields.TypeString, fields.WithDefault("streamchat-1"),
				fields.WithHelp("Redis consumer name")),
			fields.New("redis-topic", fields.TypeString, fields.WithDefault("streamchat.notifications"),
				fields.WithHelp("Redis stream carrying notifications")),
		),
	)
}
