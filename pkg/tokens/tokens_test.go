package tokens

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/streamchat/pkg/chat"
)

type wordCounter struct{}

func (wordCounter) Count(text string) (int, error) {
	n := 0
	inWord := false
	for _, r := range text {
		if r == ' ' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n, nil
}

func TestMeasure(t *testing.T) {
	name := "P"
	msgs := []chat.ChatMessage{
		chat.UserMessage("one two three"),
		{Role: chat.RoleAssistant, Content: chat.MessageContent{
			Message:  chat.String("four five"),
			Products: []chat.Product{{Name: &name}, {Name: &name}},
		}},
		{Role: chat.RoleAssistant, Content: chat.MessageContent{Products: []chat.Product{{}}}},
	}
	s, err := Measure(wordCounter{}, msgs)
	require.NoError(t, err)
	require.Equal(t, Stats{Messages: 3, UserTokens: 3, AssistantTokens: 2, Products: 3}, s)
	require.Equal(t, 5, s.Total())
}

func TestNewCounter_UnknownBackend(t *testing.T) {
	_, err := NewCounter("nope", "")
	require.Error(t, err)
}

func TestNewCounter_Backends(t *testing.T) {
	if testing.Short() {
		t.Skip("loads BPE ranks")
	}
	for _, backend := range []string{BackendTiktoken, BackendTokenizer} {
		t.Run(backend, func(t *testing.T) {
			c, err := NewCounter(backend, "")
			require.NoError(t, err)
			n, err := c.Count("hello world")
			require.NoError(t, err)
			require.Equal(t, 2, n)
		})
	}
}
