package cmds

import (
	"context"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/streamchat/pkg/api"
	"github.com/go-go-golems/streamchat/pkg/chatlist"
	"github.com/go-go-golems/streamchat/pkg/engine"
	"github.com/go-go-golems/streamchat/pkg/notify"
	"github.com/go-go-golems/streamchat/pkg/ui"
)

type ChatCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = &ChatCommand{}

type ChatSettings struct {
	ChatID      string `glazed:"chat-id"`
	NoAltScreen bool   `glazed:"no-alt-screen"`
	ListSize    int    `glazed:"list-size"`
}

func NewChatCommand() (*ChatCommand, error) {
	sections, err := backendSections()
	if err != nil {
		return nil, err
	}
	return &ChatCommand{
		CommandDescription: cmds.NewCommandDescription(
			"chat",
			cmds.WithShort("Open the interactive chat"),
			cmds.WithLong(`Open a terminal chat against the backend. Answers stream in as they are produced.

Keys: enter sends, esc or ctrl+c stops the running answer (ctrl+c again quits),
ctrl+y copies the last answer, ctrl+n starts a new chat, ctrl+l toggles the chat list.`),
			cmds.WithFlags(
				fields.New("chat-id", fields.TypeString, fields.WithHelp("Resume an existing chat")),
				fields.New("no-alt-screen", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Render inline instead of the alternate screen")),
				fields.New("list-size", fields.TypeInteger, fields.WithDefault(api.DefaultPageSize), fields.WithHelp("Number of recent chats to load")),
			),
			cmds.WithSections(sections...),
		),
	}, nil
}

func (c *ChatCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &ChatSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode chat settings")
	}
	cfg, rs, err := loadSettings(parsed)
	if err != nil {
		return err
	}

	bridge := ui.NewBridge()
	defer bridge.Close()

	app, err := NewApp(ctx, cfg, rs, chatlist.WithChangeHook(bridge.ListChanged))
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	app.Bus.AddHandler("notification-log", func(n notify.Notification) error {
		log.Debug().Str("component", "chat").Str("kind", string(n.Kind)).Str("chat_id", n.ChatID).Msg("notification")
		return nil
	})

	session := app.NewSession(
		engine.WithRouter(bridge),
		engine.WithObserver(bridge.Observe),
		engine.WithEffectHandler(bridge.HandleEffect),
	)

	loadCtx, cancelLoad := withTimeout(ctx, 15*time.Second)
	if _, err := app.RefreshChatList(loadCtx, api.Page{Size: s.ListSize}); err != nil {
		log.Warn().Err(err).Str("component", "chat").Msg("could not load chat list")
	}
	if s.ChatID != "" {
		msgs, err := app.LoadChat(loadCtx, s.ChatID)
		if err != nil {
			cancelLoad()
			return errors.Wrapf(err, "load chat %s", s.ChatID)
		}
		if err := session.Load(s.ChatID, msgs); err != nil {
			cancelLoad()
			return err
		}
	}
	cancelLoad()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return app.Bus.Run(ctx)
	})
	if app.Mirror != nil {
		eg.Go(func() error {
			return app.Mirror.Serve(ctx, cfg.MirrorAddr)
		})
	}
	eg.Go(func() error {
		defer cancel()
		select {
		case <-app.Bus.Running():
		case <-ctx.Done():
			return ctx.Err()
		}

		options := []tea.ProgramOption{tea.WithContext(ctx)}
		if !isatty.IsTerminal(os.Stdout.Fd()) {
			options = append(options, tea.WithOutput(os.Stderr))
		} else if !s.NoAltScreen {
			options = append(options, tea.WithAltScreen())
		}

		model := ui.NewModel(ctx, session, bridge, ui.WithChatList(app.Chats), ui.WithPreview(app.Preview))
		_, err := tea.NewProgram(model, options...).Run()

		session.CancelActive()
		bridge.Close()
		session.Wait()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
