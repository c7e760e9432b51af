package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"

	"github.com/go-go-golems/streamchat/pkg/chat"
	"github.com/go-go-golems/streamchat/pkg/engine"
	"github.com/go-go-golems/streamchat/pkg/ui"
)

type SendCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = &SendCommand{}

type SendSettings struct {
	Message string `glazed:"message"`
	ChatID  string `glazed:"chat-id"`
	Raw     bool   `glazed:"raw"`
	Quiet   bool   `glazed:"quiet"`
}

func NewSendCommand() (*SendCommand, error) {
	sections, err := backendSections()
	if err != nil {
		return nil, err
	}
	return &SendCommand{
		CommandDescription: cmds.NewCommandDescription(
			"send",
			cmds.WithShort("Send one message and print the answer"),
			cmds.WithLong("Send a single message, streaming the answer to stdout. Without --chat-id a new chat is started and its id is printed to stderr."),
			cmds.WithArguments(
				fields.New("message", fields.TypeStringFromFiles, fields.WithHelp("Message text, or @file to read it from a file")),
			),
			cmds.WithFlags(
				fields.New("chat-id", fields.TypeString, fields.WithHelp("Continue an existing chat")),
				fields.New("raw", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Print plain text even on a terminal")),
				fields.New("quiet", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Do not print progress to stderr")),
			),
			cmds.WithSections(sections...),
		),
	}, nil
}

func (c *SendCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	s := &SendSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode send settings")
	}
	cfg, rs, err := loadSettings(parsed)
	if err != nil {
		return err
	}
	app, err := NewApp(ctx, cfg, rs)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	markdown := !s.Raw && isatty.IsTerminal(os.Stdout.Fd())
	printer := newStreamPrinter(w, markdown)
	progress := io.Writer(os.Stderr)
	if s.Quiet {
		progress = io.Discard
	}

	session := app.NewSession(
		engine.WithObserver(printer.Observe),
		engine.WithEffectHandler(func(e engine.Effect) {
			switch e := e.(type) {
			case engine.ChatBound:
				_, _ = fmt.Fprintf(progress, "chat: %s\n", e.ChatID)
			case engine.TitleChanged:
				_, _ = fmt.Fprintf(progress, "title: %s\n", e.Title)
			}
		}),
	)
	if s.ChatID != "" {
		msgs, err := app.LoadChat(ctx, s.ChatID)
		if err != nil {
			return errors.Wrapf(err, "load chat %s", s.ChatID)
		}
		if err := session.Load(s.ChatID, msgs); err != nil {
			return err
		}
	}

	if err := session.SendMessage(ctx, strings.TrimSpace(s.Message)); err != nil {
		return err
	}
	if err := printer.Finish(session.Snapshot()); err != nil {
		return err
	}
	if session.State() == engine.StateFailed {
		return errors.New("the answer failed")
	}
	return nil
}

// streamPrinter writes the answer of the current turn as it grows. In
// markdown mode nothing is written until the turn is final, since glamour
// needs the whole document.
type streamPrinter struct {
	w        io.Writer
	markdown bool

	mu      sync.Mutex
	printed string
}

func newStreamPrinter(w io.Writer, markdown bool) *streamPrinter {
	return &streamPrinter{w: w, markdown: markdown}
}

// Observe is meant for engine.WithObserver.
func (p *streamPrinter) Observe(snap engine.Snapshot) {
	if p.markdown || !snap.State.Active() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	text := answerText(snap.Messages)
	if len(text) > len(p.printed) && strings.HasPrefix(text, p.printed) {
		_, _ = io.WriteString(p.w, text[len(p.printed):])
		p.printed = text
	}
}

// Finish prints whatever has not been written yet, plus product cards. A
// failure placeholder that replaced partial output is printed on its own
// line.
func (p *streamPrinter) Finish(snap engine.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	text := answerText(snap.Messages)

	if p.markdown {
		out, err := glamour.Render(text, "dark")
		if err != nil {
			return errors.Wrap(err, "render answer")
		}
		if _, err := io.WriteString(p.w, out); err != nil {
			return err
		}
	} else {
		rest := text
		if strings.HasPrefix(text, p.printed) {
			rest = text[len(p.printed):]
		} else if p.printed != "" {
			rest = "\n" + text
		}
		if _, err := io.WriteString(p.w, rest+"\n"); err != nil {
			return err
		}
		p.printed = text
	}

	var products []chat.Product
	for _, m := range answerMessages(snap.Messages) {
		products = append(products, m.Content.Products...)
	}
	if len(products) > 0 {
		if _, err := fmt.Fprintln(p.w, ui.Products(products)); err != nil {
			return err
		}
	}
	return nil
}

// answerMessages returns the messages after the last user turn.
func answerMessages(msgs []chat.ChatMessage) []chat.ChatMessage {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleUser {
			return msgs[i+1:]
		}
	}
	return msgs
}

func answerText(msgs []chat.ChatMessage) string {
	var parts []string
	for _, m := range answerMessages(msgs) {
		if m.Role == chat.RoleAssistant && m.Content.HasMessage() {
			parts = append(parts, m.Content.Text())
		}
	}
	return strings.Join(parts, "\n\n")
}
