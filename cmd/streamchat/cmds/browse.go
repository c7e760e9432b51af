package cmds

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"

	"github.com/go-go-golems/streamchat/pkg/api"
	"github.com/go-go-golems/streamchat/pkg/chat"
	"github.com/go-go-golems/streamchat/pkg/ui"
)

type ChatsBrowseCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = &ChatsBrowseCommand{}

type ChatsBrowseSettings struct {
	Source string `glazed:"source"`
	Size   int    `glazed:"size"`
}

func NewChatsBrowseCommand() (*ChatsBrowseCommand, error) {
	sections, err := backendSections()
	if err != nil {
		return nil, err
	}
	return &ChatsBrowseCommand{
		CommandDescription: cmds.NewCommandDescription(
			"browse",
			cmds.WithShort("Browse chats and their transcripts side by side"),
			cmds.WithLong("Open a two-pane browser over the chat history. Enter prints the selected chat id, so it can be fed to `streamchat chat --chat-id`."),
			cmds.WithFlags(
				fields.New("source", fields.TypeChoice,
					fields.WithChoices(sourceRemote, sourceLocal),
					fields.WithDefault(sourceRemote),
					fields.WithHelp("Read from the backend or from the local history")),
				fields.New("size", fields.TypeInteger, fields.WithDefault(50), fields.WithHelp("Number of chats to list")),
			),
			cmds.WithSections(sections...),
		),
	}, nil
}

func (c *ChatsBrowseCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &ChatsBrowseSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode browse settings")
	}
	app, err := openApp(ctx, parsed)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	items, err := browseItems(ctx, app, s.Source, s.Size)
	if err != nil {
		return err
	}
	load := func(ctx context.Context, chatID string) ([]chat.ChatMessage, error) {
		return fetchTranscript(ctx, app, chatID, s.Source, true, api.Page{})
	}

	final, err := tea.NewProgram(ui.NewBrowser(ctx, items, load),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithOutput(os.Stderr),
	).Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "run browser")
	}
	if b, ok := final.(ui.Browser); ok && b.Picked() != "" {
		fmt.Println(b.Picked())
	}
	return nil
}

func browseItems(ctx context.Context, app *App, source string, size int) ([]chat.ChatPreview, error) {
	if source == sourceLocal {
		records, err := app.History.ListChats(ctx, size)
		if err != nil {
			return nil, err
		}
		items := make([]chat.ChatPreview, 0, len(records))
		for _, r := range records {
			items = append(items, r.Preview())
		}
		return items, nil
	}
	return app.RefreshChatList(ctx, api.Page{Size: size})
}
