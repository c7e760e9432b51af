// Package tokens estimates the size of a conversation in model tokens.
package tokens

import (
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
	"github.com/weaviate/tiktoken-go"

	"github.com/go-go-golems/streamchat/pkg/chat"
)

const (
	DefaultEncoding = "cl100k_base"

	BackendTiktoken  = "tiktoken"
	BackendTokenizer = "tokenizer"
)

type Counter interface {
	Count(text string) (int, error)
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) (int, error) {
	return len(c.enc.Encode(text, nil, nil)), nil
}

type tokenizerCounter struct {
	codec tokenizer.Codec
}

func (c *tokenizerCounter) Count(text string) (int, error) {
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "encode")
	}
	return len(ids), nil
}

// NewCounter returns a counter for encoding using the given backend. An empty
// backend selects tiktoken, an empty encoding selects DefaultEncoding.
func NewCounter(backend string, encoding string) (Counter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	switch backend {
	case "", BackendTiktoken:
		enc, err := tiktoken.GetEncoding(encoding)
		if err != nil {
			return nil, errors.Wrapf(err, "tiktoken encoding %s", encoding)
		}
		return &tiktokenCounter{enc: enc}, nil
	case BackendTokenizer:
		codec, err := tokenizer.Get(tokenizer.Encoding(encoding))
		if err != nil {
			return nil, errors.Wrapf(err, "tokenizer encoding %s", encoding)
		}
		return &tokenizerCounter{codec: codec}, nil
	default:
		return nil, errors.Errorf("unknown token counter backend %q", backend)
	}
}

type Stats struct {
	Messages        int
	UserTokens      int
	AssistantTokens int
	Products        int
}

func (s Stats) Total() int {
	return s.UserTokens + s.AssistantTokens
}

// Measure counts the text tokens of a transcript. Products are counted, not
// tokenized.
func Measure(c Counter, msgs []chat.ChatMessage) (Stats, error) {
	var s Stats
	for _, m := range msgs {
		s.Messages++
		s.Products += len(m.Content.Products)
		n, err := c.Count(m.Content.Text())
		if err != nil {
			return Stats{}, err
		}
		switch m.Role {
		case chat.RoleUser:
			s.UserTokens += n
		default:
			s.AssistantTokens += n
		}
	}
	return s, nil
}
