package cmds

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/notify"
	"github.com/go-go-golems/streamchat/pkg/redisstream"
)

type WatchCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = &WatchCommand{}

type WatchSettings struct {
	Kinds []string `glazed:"kind"`
}

func NewWatchCommand() (*WatchCommand, error) {
	sections, err := backendSections()
	if err != nil {
		return nil, err
	}
	return &WatchCommand{
		CommandDescription: cmds.NewCommandDescription(
			"watch",
			cmds.WithShort("Follow chat notifications published by other clients"),
			cmds.WithLong("Print chat notifications (chat.bound, chat.title, chat.products, chat.finished) as JSON lines. Requires --redis-enabled."),
			cmds.WithFlags(
				fields.New("kind", fields.TypeStringList, fields.WithHelp("Only print these notification kinds")),
			),
			cmds.WithSections(sections...),
		),
	}, nil
}

func (c *WatchCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	s := &WatchSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode watch settings")
	}
	_, rs, err := loadSettings(parsed)
	if err != nil {
		return err
	}
	if !rs.Enabled {
		return errors.New("watch needs the redis notification bus (--redis-enabled)")
	}
	if err := redisstream.EnsureGroupAtTail(ctx, rs.Addr, rs.Topic, rs.Group); err != nil {
		return err
	}
	bus, err := redisstream.BuildBus(rs)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	bus.AddHandler("watch", notificationWriter(w, s.Kinds))
	log.Info().Str("component", "watch").Str("topic", bus.Topic()).Msg("watching notifications")
	if err := bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// notificationWriter encodes notifications as JSON lines, keeping only the
// given kinds when any are set.
func notificationWriter(w io.Writer, kinds []string) func(notify.Notification) error {
	allowed := map[notify.Kind]bool{}
	for _, k := range kinds {
		allowed[notify.Kind(k)] = true
	}
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(n notify.Notification) error {
		if len(allowed) > 0 && !allowed[n.Kind] {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(n)
	}
}
