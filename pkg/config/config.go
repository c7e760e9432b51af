// Package config resolves client settings from the environment, an optional
// .env file and command line flags.
package config

import (
	"context"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/go-go-golems/streamchat/pkg/credentials"
)

const (
	SectionSlug    = "streamchat"
	DefaultBaseURL = "http://localhost:8000"
	TokenEnvVar    = "STREAMCHAT_TOKEN"
)

type Settings struct {
	BaseURL               string `glazed:"base-url" env:"STREAMCHAT_BASE_URL"`
	Token                 string `glazed:"token" env:"STREAMCHAT_TOKEN"`
	CredentialsFile       string `glazed:"credentials-file" env:"STREAMCHAT_CREDENTIALS_FILE"`
	HistoryDB             string `glazed:"history-db" env:"STREAMCHAT_HISTORY_DB"`
	RequestTimeoutSeconds int    `glazed:"request-timeout" env:"STREAMCHAT_REQUEST_TIMEOUT"`
	MirrorAddr            string `glazed:"mirror-addr" env:"STREAMCHAT_MIRROR_ADDR"`
	FailureMessage        string `glazed:"failure-message" env:"STREAMCHAT_FAILURE_MESSAGE"`
	TokenBackend          string `glazed:"token-backend" env:"STREAMCHAT_TOKEN_BACKEND"`

	OAuthTokenURL     string `glazed:"oauth-token-url" env:"STREAMCHAT_OAUTH_TOKEN_URL"`
	OAuthClientID     string `glazed:"oauth-client-id" env:"STREAMCHAT_OAUTH_CLIENT_ID"`
	OAuthClientSecret string `glazed:"oauth-client-secret" env:"STREAMCHAT_OAUTH_CLIENT_SECRET"`
	OAuthScopes       string `glazed:"oauth-scopes" env:"STREAMCHAT_OAUTH_SCOPES"`
}

// Load reads settings from the process environment after loading envFiles
// (".env" when none are given). Missing env files are not an error.
func Load(envFiles ...string) (Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Settings{}, errors.Wrapf(err, "load %s", f)
		}
		log.Debug().Str("component", "config").Str("file", f).Msg("loaded env file")
	}

	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, errors.Wrap(err, "parse environment")
	}
	return s, nil
}

// NewSection returns the glazed section exposing Settings as flags. Flags
// have no defaults so that unset flags fall through to the environment.
func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Chat backend connection",
		schema.WithFields(
			fields.New("base-url", fields.TypeString, fields.WithHelp("Chat backend base URL (default "+DefaultBaseURL+")")),
			fields.New("token", fields.TypeString, fields.WithHelp("Access token sent as bearer credential")),
			fields.New("credentials-file", fields.TypeString, fields.WithHelp("YAML file holding the access token")),
			fields.New("history-db", fields.TypeString, fields.WithHelp("SQLite file for local chat history (empty = in memory)")),
			fields.New("request-timeout", fields.TypeInteger, fields.WithHelp("Per-request timeout in seconds (0 = none)")),
			fields.New("mirror-addr", fields.TypeString, fields.WithHelp("Serve live snapshots over websocket on this address")),
			fields.New("failure-message", fields.TypeString, fields.WithHelp("Text shown in place of a failed answer")),
			fields.New("token-backend", fields.TypeString, fields.WithHelp("Token counter backend (tiktoken, tokenizer)")),
			fields.New("oauth-token-url", fields.TypeString, fields.WithHelp("OAuth2 client-credentials token endpoint")),
			fields.New("oauth-client-id", fields.TypeString, fields.WithHelp("OAuth2 client id")),
			fields.New("oauth-client-secret", fields.TypeString, fields.WithHelp("OAuth2 client secret")),
			fields.New("oauth-scopes", fields.TypeString, fields.WithHelp("Comma separated OAuth2 scopes")),
		),
	)
}

// Merge returns s with every non-zero field of override applied.
func (s Settings) Merge(override Settings) Settings {
	pick := func(base, o string) string {
		if o != "" {
			return o
		}
		return base
	}
	s.BaseURL = pick(s.BaseURL, override.BaseURL)
	s.Token = pick(s.Token, override.Token)
	s.CredentialsFile = pick(s.CredentialsFile, override.CredentialsFile)
	s.HistoryDB = pick(s.HistoryDB, override.HistoryDB)
	s.MirrorAddr = pick(s.MirrorAddr, override.MirrorAddr)
	s.FailureMessage = pick(s.FailureMessage, override.FailureMessage)
	s.TokenBackend = pick(s.TokenBackend, override.TokenBackend)
	s.OAuthTokenURL = pick(s.OAuthTokenURL, override.OAuthTokenURL)
	s.OAuthClientID = pick(s.OAuthClientID, override.OAuthClientID)
	s.OAuthClientSecret = pick(s.OAuthClientSecret, override.OAuthClientSecret)
	s.OAuthScopes = pick(s.OAuthScopes, override.OAuthScopes)
	if override.RequestTimeoutSeconds != 0 {
		s.RequestTimeoutSeconds = override.RequestTimeoutSeconds
	}
	return s
}

// WithDefaults fills unset fields.
func (s Settings) WithDefaults() Settings {
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	if s.CredentialsFile == "" {
		if p, err := credentials.DefaultFilePath(); err == nil {
			s.CredentialsFile = p
		}
	}
	return s
}

func (s Settings) Validate() error {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return errors.Wrap(err, "invalid base-url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("base-url must be http or https, got %q", s.BaseURL)
	}
	if u.Host == "" {
		return errors.Errorf("base-url has no host: %q", s.BaseURL)
	}
	if s.RequestTimeoutSeconds < 0 {
		return errors.New("request-timeout must not be negative")
	}
	if s.OAuthTokenURL != "" && s.OAuthClientID == "" {
		return errors.New("oauth-client-id is required with oauth-token-url")
	}
	return nil
}

func (s Settings) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// Credentials builds the lookup chain: explicit token, OAuth2 client
// credentials, the token environment variable, then the credentials file.
func (s Settings) Credentials(ctx context.Context) credentials.Store {
	var chain credentials.Chain
	if s.Token != "" {
		chain = append(chain, credentials.Static(s.Token))
	}
	if s.OAuthTokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     s.OAuthClientID,
			ClientSecret: s.OAuthClientSecret,
			TokenURL:     s.OAuthTokenURL,
			Scopes:       splitScopes(s.OAuthScopes),
		}
		chain = append(chain, credentials.FromTokenSource(cc.TokenSource(ctx)))
	}
	chain = append(chain, credentials.Env(TokenEnvVar))
	if s.CredentialsFile != "" {
		chain = append(chain, credentials.NewFile(s.CredentialsFile))
	}
	return chain
}

func splitScopes(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
