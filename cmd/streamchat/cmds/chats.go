package cmds

import (
	"context"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/streamchat/pkg/api"
	"github.com/go-go-golems/streamchat/pkg/chat"
	"github.com/go-go-golems/streamchat/pkg/tokens"
)

const (
	sourceRemote = "remote"
	sourceLocal  = "local"
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Browse chat history",
	Long:  "List conversations and print transcripts, from the backend or from the local history database.",
}

func addChatsCommands(root *cobra.Command) {
	listCmd, err := NewChatsListCommand()
	cobra.CheckErr(err)
	showCmd, err := NewChatsShowCommand()
	cobra.CheckErr(err)
	statsCmd, err := NewChatsStatsCommand()
	cobra.CheckErr(err)
	browseCmd, err := NewChatsBrowseCommand()
	cobra.CheckErr(err)

	for _, c := range []cmds.Command{listCmd, showCmd, statsCmd, browseCmd} {
		cobraCmd, err := cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(getMiddlewares))
		cobra.CheckErr(err)
		chatsCmd.AddCommand(cobraCmd)
	}
	root.AddCommand(chatsCmd)
}

func sourceFlags() []*fields.Definition {
	return []*fields.Definition{
		fields.New("source", fields.TypeChoice,
			fields.WithChoices(sourceRemote, sourceLocal),
			fields.WithDefault(sourceRemote),
			fields.WithHelp("Read from the backend or from the local history")),
		fields.New("offset", fields.TypeInteger, fields.WithDefault(0), fields.WithHelp("Page offset")),
		fields.New("size", fields.TypeInteger, fields.WithDefault(api.DefaultPageSize), fields.WithHelp("Page size")),
	}
}

func newGlazeDescription(name, short string, flags []*fields.Definition, arguments ...*fields.Definition) (*cmds.CommandDescription, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}
	sections, err := backendSections()
	if err != nil {
		return nil, err
	}
	options := []cmds.CommandDescriptionOption{
		cmds.WithShort(short),
		cmds.WithFlags(flags...),
		cmds.WithSections(append(sections, glazedSection, commandSettingsSection)...),
	}
	if len(arguments) > 0 {
		options = append(options, cmds.WithArguments(arguments...))
	}
	return cmds.NewCommandDescription(name, options...), nil
}

func openApp(ctx context.Context, parsed *values.Values) (*App, error) {
	cfg, rs, err := loadSettings(parsed)
	if err != nil {
		return nil, err
	}
	return NewApp(ctx, cfg, rs)
}

type ChatsListCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &ChatsListCommand{}

type ChatsListSettings struct {
	Source string `glazed:"source"`
	Offset int    `glazed:"offset"`
	Size   int    `glazed:"size"`
}

func NewChatsListCommand() (*ChatsListCommand, error) {
	desc, err := newGlazeDescription("list", "List recent chats", sourceFlags())
	if err != nil {
		return nil, err
	}
	return &ChatsListCommand{CommandDescription: desc}, nil
}

func (c *ChatsListCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &ChatsListSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	app, err := openApp(ctx, parsed)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	var items []chat.ChatPreview
	switch s.Source {
	case sourceLocal:
		records, err := app.History.ListChats(ctx, s.Offset+s.Size)
		if err != nil {
			return err
		}
		for i, r := range records {
			if i >= s.Offset {
				items = append(items, r.Preview())
			}
		}
	default:
		list, err := app.API.ListChats(ctx, api.Page{Offset: s.Offset, Size: s.Size})
		if err != nil {
			return err
		}
		items = list.Items
	}

	for _, it := range items {
		row := types.NewRow(
			types.MRP("chat_id", it.ChatID),
			types.MRP("title", it.Title),
			types.MRP("created_at", it.CreatedAt.Format(time.RFC3339)),
			types.MRP("updated_at", it.UpdatedAt.Format(time.RFC3339)),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

type ChatsShowCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &ChatsShowCommand{}

type ChatsShowSettings struct {
	ChatID string `glazed:"chat-id"`
	Source string `glazed:"source"`
	Offset int    `glazed:"offset"`
	Size   int    `glazed:"size"`
	All    bool   `glazed:"all"`
}

func NewChatsShowCommand() (*ChatsShowCommand, error) {
	flags := append(sourceFlags(),
		fields.New("all", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Fetch every page of the transcript")),
	)
	desc, err := newGlazeDescription("show", "Print the transcript of a chat", flags,
		fields.New("chat-id", fields.TypeString, fields.WithRequired(true), fields.WithHelp("Chat id")),
	)
	if err != nil {
		return nil, err
	}
	return &ChatsShowCommand{CommandDescription: desc}, nil
}

func (c *ChatsShowCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &ChatsShowSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	app, err := openApp(ctx, parsed)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	msgs, err := fetchTranscript(ctx, app, s.ChatID, s.Source, s.All, api.Page{Offset: s.Offset, Size: s.Size})
	if err != nil {
		return err
	}
	for i, m := range msgs {
		names := make([]string, 0, len(m.Content.Products))
		for _, p := range m.Content.Products {
			if p.Name != nil {
				names = append(names, *p.Name)
			}
		}
		row := types.NewRow(
			types.MRP("index", s.Offset+i),
			types.MRP("role", string(m.Role)),
			types.MRP("message", m.Content.Text()),
			types.MRP("products", names),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

type ChatsStatsCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &ChatsStatsCommand{}

type ChatsStatsSettings struct {
	ChatID   string `glazed:"chat-id"`
	Source   string `glazed:"source"`
	Backend  string `glazed:"backend"`
	Encoding string `glazed:"encoding"`
}

func NewChatsStatsCommand() (*ChatsStatsCommand, error) {
	flags := []*fields.Definition{
		fields.New("source", fields.TypeChoice,
			fields.WithChoices(sourceRemote, sourceLocal),
			fields.WithDefault(sourceRemote),
			fields.WithHelp("Read from the backend or from the local history")),
		fields.New("backend", fields.TypeChoice,
			fields.WithChoices(tokens.BackendTiktoken, tokens.BackendTokenizer),
			fields.WithDefault(tokens.BackendTiktoken),
			fields.WithHelp("Token counter implementation")),
		fields.New("encoding", fields.TypeString, fields.WithDefault(tokens.DefaultEncoding), fields.WithHelp("BPE encoding")),
	}
	desc, err := newGlazeDescription("stats", "Count messages, products and tokens of a chat", flags,
		fields.New("chat-id", fields.TypeString, fields.WithRequired(true), fields.WithHelp("Chat id")),
	)
	if err != nil {
		return nil, err
	}
	return &ChatsStatsCommand{CommandDescription: desc}, nil
}

func (c *ChatsStatsCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &ChatsStatsSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	app, err := openApp(ctx, parsed)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	backend := s.Backend
	if app.Settings.TokenBackend != "" {
		backend = app.Settings.TokenBackend
	}
	counter, err := tokens.NewCounter(backend, s.Encoding)
	if err != nil {
		return err
	}
	msgs, err := fetchTranscript(ctx, app, s.ChatID, s.Source, true, api.Page{})
	if err != nil {
		return err
	}
	stats, err := tokens.Measure(counter, msgs)
	if err != nil {
		return err
	}
	return gp.AddRow(ctx, types.NewRow(
		types.MRP("chat_id", s.ChatID),
		types.MRP("messages", stats.Messages),
		types.MRP("user_tokens", stats.UserTokens),
		types.MRP("assistant_tokens", stats.AssistantTokens),
		types.MRP("total_tokens", stats.Total()),
		types.MRP("products", stats.Products),
	))
}

func fetchTranscript(ctx context.Context, app *App, chatID, source string, all bool, page api.Page) ([]chat.ChatMessage, error) {
	if source == sourceLocal {
		msgs, ok, err := app.History.GetTranscript(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Wrapf(api.ErrChatNotFound, "local history has no chat %s", chatID)
		}
		if all {
			return msgs, nil
		}
		size := page.Size
		if size <= 0 {
			size = api.DefaultPageSize
		}
		if page.Offset >= len(msgs) {
			return nil, nil
		}
		end := page.Offset + size
		if end > len(msgs) {
			end = len(msgs)
		}
		return msgs[page.Offset:end], nil
	}
	if all {
		return app.LoadChat(ctx, chatID)
	}
	detail, err := app.API.GetChat(ctx, chatID, page)
	if err != nil {
		return nil, err
	}
	return detail.Items, nil
}
