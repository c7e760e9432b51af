package cmds

import (
	"context"
	"net/http"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/api"
	"github.com/go-go-golems/streamchat/pkg/chat"
	"github.com/go-go-golems/streamchat/pkg/chatlist"
	"github.com/go-go-golems/streamchat/pkg/config"
	"github.com/go-go-golems/streamchat/pkg/engine"
	"github.com/go-go-golems/streamchat/pkg/mirror"
	"github.com/go-go-golems/streamchat/pkg/notify"
	"github.com/go-go-golems/streamchat/pkg/persistence/chatstore"
	"github.com/go-go-golems/streamchat/pkg/redisstream"
	"github.com/go-go-golems/streamchat/pkg/transport"
)

const transcriptPageSize = 100

// App holds the collaborators shared by every command: the backend clients,
// the local history and the in-process chat list.
type App struct {
	Settings  config.Settings
	Transport *transport.Client
	API       *api.Client
	History   chatstore.HistoryStore
	Chats     *chatlist.Store
	Preview   *chatlist.Preview
	Memories  *chatlist.Memories
	Bus       *notify.Bus
	Mirror    *mirror.Mirror
	Recorder  *chatstore.Recorder
}

// backendSections are added to every command talking to the backend.
func backendSections() ([]schema.Section, error) {
	cfgSection, err := config.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build config section")
	}
	redisSection, err := redisstream.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build redis section")
	}
	return []schema.Section{cfgSection, redisSection}, nil
}

// loadSettings resolves environment settings and overlays flag values.
func loadSettings(parsed *values.Values) (config.Settings, redisstream.Settings, error) {
	env, err := config.Load()
	if err != nil {
		return config.Settings{}, redisstream.Settings{}, err
	}
	flags := config.Settings{}
	if err := parsed.DecodeSectionInto(config.SectionSlug, &flags); err != nil {
		return config.Settings{}, redisstream.Settings{}, errors.Wrap(err, "decode streamchat settings")
	}
	cfg := env.Merge(flags).WithDefaults()
	if err := cfg.Validate(); err != nil {
		return config.Settings{}, redisstream.Settings{}, err
	}

	rs := redisstream.Settings{}
	if err := parsed.DecodeSectionInto(redisstream.SectionSlug, &rs); err != nil {
		return config.Settings{}, redisstream.Settings{}, errors.Wrap(err, "decode redis settings")
	}
	return cfg, rs, nil
}

func openHistory(path string) (chatstore.HistoryStore, error) {
	if path == "" {
		return chatstore.NewInMemoryHistoryStore(), nil
	}
	dsn, err := chatstore.SQLiteDSNForFile(path)
	if err != nil {
		return nil, err
	}
	return chatstore.NewSQLiteHistoryStore(dsn)
}

// NewApp wires the clients, the history store and the notification bus.
func NewApp(ctx context.Context, cfg config.Settings, rs redisstream.Settings, listOptions ...chatlist.Option) (*App, error) {
	t := transport.NewClient(cfg.BaseURL,
		transport.WithCredentials(cfg.Credentials(ctx)),
	)
	if d := cfg.RequestTimeout(); d > 0 {
		// bounds the wait for response headers, the body is bounded by ctx
		t.HTTPClient().Transport = headerTimeoutTransport(d)
	}

	history, err := openHistory(cfg.HistoryDB)
	if err != nil {
		return nil, errors.Wrap(err, "open history store")
	}
	bus, err := redisstream.BuildBus(rs)
	if err != nil {
		_ = history.Close()
		return nil, err
	}

	app := &App{
		Settings:  cfg,
		Transport: t,
		API:       api.NewClient(t),
		History:   history,
		Chats:     chatlist.NewStore(listOptions...),
		Preview:   chatlist.NewPreview(),
		Memories:  chatlist.NewMemories(),
		Bus:       bus,
		Recorder:  chatstore.NewRecorder(history),
	}
	if cfg.MirrorAddr != "" {
		app.Mirror = mirror.New()
	}
	return app, nil
}

// NewSession builds a session wired to the chat list, the product preview,
// the local history, the notification bus and the mirror.
func (a *App) NewSession(extra ...engine.Option) *engine.Session {
	options := []engine.Option{
		engine.WithTitleUpdater(a.Chats),
		engine.WithTitleUpdater(a.Recorder),
		engine.WithProductPreview(a.Preview),
		engine.WithEffectHandler(a.Bus.HandleEffect),
		engine.WithCompletionHook(a.Recorder.StreamFinished),
		engine.WithCompletionHook(a.Bus.StreamFinished),
	}
	if a.Settings.FailureMessage != "" {
		options = append(options, engine.WithReducerOptions(engine.WithFailureMessage(a.Settings.FailureMessage)))
	}
	if a.Mirror != nil {
		options = append(options,
			engine.WithObserver(a.Mirror.Observe),
			engine.WithEffectHandler(a.Mirror.HandleEffect),
		)
	}
	options = append(options, extra...)
	return engine.NewSession(engine.HTTPOpener(a.Transport), options...)
}

// LoadChat fetches the full transcript of chatID from the backend, falling
// back to the local history when the backend is unreachable.
func (a *App) LoadChat(ctx context.Context, chatID string) ([]chat.ChatMessage, error) {
	var msgs []chat.ChatMessage
	offset := 0
	for {
		detail, err := a.API.GetChat(ctx, chatID, api.Page{Offset: offset, Size: transcriptPageSize})
		if err != nil {
			if errors.Is(err, api.ErrChatNotFound) {
				return nil, err
			}
			log.Warn().Err(err).Str("component", "app").Str("chat_id", chatID).Msg("backend unavailable, using local history")
			local, ok, lerr := a.History.GetTranscript(ctx, chatID)
			if lerr != nil {
				return nil, lerr
			}
			if !ok {
				return nil, err
			}
			return local, nil
		}
		msgs = append(msgs, detail.Items...)
		if len(detail.Items) < transcriptPageSize {
			return msgs, nil
		}
		offset += len(detail.Items)
	}
}

// RefreshChatList loads the most recent chats into the chat list, from the
// backend when possible and from the local history otherwise.
func (a *App) RefreshChatList(ctx context.Context, page api.Page) ([]chat.ChatPreview, error) {
	list, err := a.API.ListChats(ctx, page)
	if err == nil {
		a.Chats.SetItems(list.Items)
		return list.Items, nil
	}
	log.Warn().Err(err).Str("component", "app").Msg("backend unavailable, listing local history")
	records, lerr := a.History.ListChats(ctx, page.Size)
	if lerr != nil {
		return nil, lerr
	}
	items := make([]chat.ChatPreview, 0, len(records))
	for _, r := range records {
		items = append(items, r.Preview())
	}
	a.Chats.SetItems(items)
	return items, nil
}

func (a *App) Close() error {
	var err error
	if a.Bus != nil {
		err = a.Bus.Close()
	}
	if a.History != nil {
		if herr := a.History.Close(); herr != nil && err == nil {
			err = herr
		}
	}
	return err
}

func headerTimeoutTransport(d time.Duration) http.RoundTripper {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = d
	return tr
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
