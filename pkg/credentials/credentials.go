// Package credentials looks up the bearer token attached to outbound requests.
//
// A missing token is never fatal: callers get ErrNoToken and proceed without
// an Authorization header.
package credentials

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"
)

var ErrNoToken = errors.New("no access token")

type Store interface {
	Token(ctx context.Context) (string, error)
}

// Static is a fixed token, typically from a flag or environment variable.
type Static string

func (s Static) Token(_ context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNoToken
	}
	return strings.TrimSpace(string(s)), nil
}

// Env reads the token from an environment variable on every lookup.
type Env string

func (e Env) Token(_ context.Context) (string, error) {
	v := strings.TrimSpace(os.Getenv(string(e)))
	if v == "" {
		return "", ErrNoToken
	}
	return v, nil
}

type fileContents struct {
	AccessToken string `yaml:"access_token"`
}

// File stores the token in a small YAML document (`access_token: ...`).
type File struct {
	Path string
}

func NewFile(path string) *File {
	return &File{Path: path}
}

// DefaultFilePath is $XDG_CONFIG_HOME/streamchat/credentials.yaml.
func DefaultFilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve user config dir")
	}
	return filepath.Join(dir, "streamchat", "credentials.yaml"), nil
}

func (f *File) Token(_ context.Context) (string, error) {
	if f == nil || f.Path == "" {
		return "", ErrNoToken
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", errors.Wrapf(err, "read credentials file %s", f.Path)
	}
	var c fileContents
	if err := yaml.Unmarshal(b, &c); err != nil {
		return "", errors.Wrapf(err, "parse credentials file %s", f.Path)
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		return "", ErrNoToken
	}
	return strings.TrimSpace(c.AccessToken), nil
}

// Save writes token to the file, creating parent directories with 0700.
func (f *File) Save(token string) error {
	if f == nil || f.Path == "" {
		return errors.New("credentials file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return errors.Wrap(err, "create credentials dir")
	}
	b, err := yaml.Marshal(fileContents{AccessToken: strings.TrimSpace(token)})
	if err != nil {
		return errors.Wrap(err, "encode credentials")
	}
	return errors.Wrap(os.WriteFile(f.Path, b, 0o600), "write credentials file")
}

// Clear removes the stored token.
func (f *File) Clear() error {
	if f == nil || f.Path == "" {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove credentials file")
	}
	return nil
}

type tokenSourceStore struct {
	ts oauth2.TokenSource
}

// FromTokenSource adapts an oauth2.TokenSource. Refreshing, if any, happens
// inside the token source.
func FromTokenSource(ts oauth2.TokenSource) Store {
	return &tokenSourceStore{ts: ts}
}

func (s *tokenSourceStore) Token(_ context.Context) (string, error) {
	if s == nil || s.ts == nil {
		return "", ErrNoToken
	}
	tok, err := s.ts.Token()
	if err != nil {
		return "", errors.Wrap(err, "token source")
	}
	if tok == nil || tok.AccessToken == "" {
		return "", ErrNoToken
	}
	return tok.AccessToken, nil
}

// Chain returns the first token any store yields. Errors other than
// ErrNoToken are returned immediately.
type Chain []Store

func (c Chain) Token(ctx context.Context) (string, error) {
	for _, s := range c {
		if s == nil {
			continue
		}
		tok, err := s.Token(ctx)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, ErrNoToken) {
			return "", err
		}
	}
	return "", ErrNoToken
}
