package cmds

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tcnksm/go-input"

	"github.com/go-go-golems/streamchat/pkg/config"
	"github.com/go-go-golems/streamchat/pkg/credentials"
)

type LoginCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = &LoginCommand{}

type LoginSettings struct {
	AccessToken string `glazed:"access-token"`
	Logout      bool   `glazed:"logout"`
}

func NewLoginCommand() (*LoginCommand, error) {
	cfgSection, err := config.NewSection()
	if err != nil {
		return nil, err
	}
	return &LoginCommand{
		CommandDescription: cmds.NewCommandDescription(
			"login",
			cmds.WithShort("Store the access token used for chat requests"),
			cmds.WithLong("Save an access token to the credentials file. Without --access-token the token is read from the terminal. --logout removes the stored token."),
			cmds.WithFlags(
				fields.New("access-token", fields.TypeString, fields.WithHelp("Token to store")),
				fields.New("logout", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Remove the stored token")),
			),
			cmds.WithSections(cfgSection),
		),
	}, nil
}

func (c *LoginCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &LoginSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode login settings")
	}
	env, err := config.Load()
	if err != nil {
		return err
	}
	flags := config.Settings{}
	if err := parsed.DecodeSectionInto(config.SectionSlug, &flags); err != nil {
		return errors.Wrap(err, "decode streamchat settings")
	}
	cfg := env.Merge(flags).WithDefaults()
	if cfg.CredentialsFile == "" {
		return errors.New("no credentials file configured")
	}
	file := credentials.NewFile(cfg.CredentialsFile)

	if s.Logout {
		if err := file.Clear(); err != nil {
			return err
		}
		log.Info().Str("component", "login").Str("file", file.Path).Msg("credentials removed")
		return nil
	}

	token := strings.TrimSpace(s.AccessToken)
	if token == "" {
		token, err = promptToken()
		if err != nil {
			return err
		}
	}
	if err := file.Save(token); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stderr, "token saved to %s\n", file.Path)
	return nil
}

func promptToken() (string, error) {
	tty_, err := os.Open("/dev/tty")
	if err != nil {
		return "", errors.Wrap(err, "open terminal (use --access-token when not interactive)")
	}
	defer func() {
		_ = tty_.Close()
	}()

	ui := &input.UI{
		Writer: os.Stderr,
		Reader: tty_,
	}
	answer, err := ui.Ask("Access token", &input.Options{
		Required:  true,
		Loop:      true,
		Mask:      true,
		HideOrder: true,
		ValidateFunc: func(answer string) error {
			if strings.TrimSpace(answer) == "" {
				return errors.New("token must not be empty")
			}
			return nil
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "read token")
	}
	return strings.TrimSpace(answer), nil
}
