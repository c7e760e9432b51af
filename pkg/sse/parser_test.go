package sse

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/streamchat/pkg/chat"
)

const sampleStream = "data: {\"chat_id\":\"c1\",\"status\":\"pending\",\"content\":{\"message\":\"검색 중\"}}\n" +
	": keep-alive\n" +
	"data: {\"chat_id\":\"c1\",\"status\":\"response\",\"content\":{\"message\":\"Hel\"}}\n" +
	"\n" +
	"data: {\"chat_id\":\"c1\",\"status\":\"response\",\"content\":{\"message\":\"lo\"}}\n" +
	"data: {\"chat_id\":\"c1\",\"status\":\"stop\",\"content\":null}\n" +
	"data: [DONE]\n"

func collect(chunks []string) ([]chat.SSEEvent, bool) {
	p := NewParser()
	var events []chat.SSEEvent
	for _, c := range chunks {
		res := p.Feed(c)
		events = append(events, res.Events...)
	}
	res := p.Flush()
	events = append(events, res.Events...)
	return events, p.Done()
}

func TestParseChunk_SingleChunk(t *testing.T) {
	res, carry := ParseChunk(sampleStream, "")
	require.Equal(t, "", carry)
	require.True(t, res.Done)
	require.Len(t, res.Events, 4)
	require.Equal(t, chat.StatusPending, res.Events[0].Status)
	require.Equal(t, "검색 중", res.Events[0].Content.Text())
	require.Equal(t, "Hel", res.Events[1].Content.Text())
	require.Equal(t, "lo", res.Events[2].Content.Text())
	require.Equal(t, chat.StatusStop, res.Events[3].Status)
	require.Nil(t, res.Events[3].Content)
}

func TestParseChunk_CarriesPartialLine(t *testing.T) {
	res, carry := ParseChunk("data: {\"chat_id\":\"c1\",\"sta", "")
	require.Empty(t, res.Events)
	require.Equal(t, "data: {\"chat_id\":\"c1\",\"sta", carry)

	res, carry = ParseChunk("tus\":\"stop\",\"content\":null}\ndata: {", carry)
	require.Len(t, res.Events, 1)
	require.Equal(t, chat.StatusStop, res.Events[0].Status)
	require.Equal(t, "data: {", carry)
}

func TestParser_ChunkBoundaryIndependence(t *testing.T) {
	whole, done := collect([]string{sampleStream})
	require.True(t, done)

	var bytewise []string
	for i := 0; i < len(sampleStream); i++ {
		bytewise = append(bytewise, sampleStream[i:i+1])
	}
	got, done := collect(bytewise)
	require.True(t, done)
	require.Equal(t, whole, got)

	for _, size := range []int{2, 3, 7, 13, 64} {
		var chunks []string
		for i := 0; i < len(sampleStream); i += size {
			end := i + size
			if end > len(sampleStream) {
				end = len(sampleStream)
			}
			chunks = append(chunks, sampleStream[i:end])
		}
		got, _ := collect(chunks)
		require.Equal(t, whole, got, "chunk size %d", size)
	}
}

func TestParser_MalformedFrameIsSkipped(t *testing.T) {
	p := NewParser()
	res := p.Feed("data: {bad json}\ndata: {\"chat_id\":\"c1\",\"status\":\"stop\",\"content\":null}\n")
	require.Len(t, res.Events, 1)
	require.Equal(t, chat.StatusStop, res.Events[0].Status)
	require.False(t, res.Done)
}

func TestParser_SentinelStopsParsing(t *testing.T) {
	p := NewParser()
	res := p.Feed("data: [DONE]\ndata: {\"chat_id\":\"c1\",\"status\":\"stop\",\"content\":null}\n")
	require.True(t, res.Done)
	require.Empty(t, res.Events)

	res = p.Feed("data: {\"chat_id\":\"c1\",\"status\":\"response\",\"content\":{\"message\":\"x\"}}\n")
	require.True(t, res.Done)
	require.Empty(t, res.Events)
}

func TestParser_SentinelWithSurroundingWhitespace(t *testing.T) {
	res, _ := ParseChunk("data:  [DONE]  \r\n", "")
	require.True(t, res.Done)
}

func TestParser_IgnoresNonDataLines(t *testing.T) {
	res, _ := ParseChunk("event: message\nid: 4\nretry: 100\ndata:{\"status\":\"stop\"}\n", "")
	require.Empty(t, res.Events)
}

func TestParser_FlushUnterminatedLine(t *testing.T) {
	p := NewParser()
	res := p.Feed("data: {\"chat_id\":\"c1\",\"status\":\"stop\",\"content\":null}")
	require.Empty(t, res.Events)
	require.NotEmpty(t, p.Pending())

	res = p.Flush()
	require.Len(t, res.Events, 1)
	require.Equal(t, "", p.Pending())

	res = p.Flush()
	require.Empty(t, res.Events)
}

func TestParser_CRLFLines(t *testing.T) {
	res, _ := ParseChunk("data: {\"chat_id\":\"c1\",\"status\":\"title\",\"content\":{\"message\":\"예금\"}}\r\n", "")
	require.Len(t, res.Events, 1)
	require.Equal(t, "예금", res.Events[0].Content.Text())
}

func TestParser_ProductsPresence(t *testing.T) {
	res, _ := ParseChunk(
		"data: {\"chat_id\":\"c1\",\"status\":\"response\",\"content\":{\"message\":\"a\"}}\n"+
			"data: {\"chat_id\":\"c1\",\"status\":\"response\",\"content\":{\"products\":[]}}\n"+
			"data: {\"chat_id\":\"c1\",\"status\":\"response\",\"content\":{\"products\":[{\"name\":\"P\",\"tags\":null}]}}\n",
		"")
	require.Len(t, res.Events, 3)
	require.False(t, res.Events[0].Content.HasProducts())
	require.True(t, res.Events[1].Content.HasProducts())
	require.Len(t, res.Events[1].Content.Products, 0)
	require.False(t, res.Events[1].Content.HasMessage())
	require.Equal(t, "P", *res.Events[2].Content.Products[0].Name)
	require.Nil(t, res.Events[2].Content.Products[0].Institution)
}
