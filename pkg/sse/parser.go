// Package sse splits raw event-stream text into chat events.
//
// Transport chunks do not line up with frame boundaries, so every call takes
// the unterminated tail of the previous call (the carry-over) and returns the
// new tail. Only lines starting with "data: " are significant.
package sse

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/chat"
)

const (
	DataPrefix   = "data: "
	DoneSentinel = "[DONE]"

	maxLoggedPayload = 256
)

// Result is what one chunk produced. Done is set when the end-of-stream
// sentinel was seen; frames after it are ignored.
type Result struct {
	Events []chat.SSEEvent
	Done   bool
}

// ParseChunk parses text prepended with carry and returns the decoded events
// together with the new carry-over.
func ParseChunk(text string, carry string) (Result, string) {
	buf := carry + text
	lines := strings.Split(buf, "\n")
	newCarry := lines[len(lines)-1]

	res := Result{}
	for _, line := range lines[:len(lines)-1] {
		parseLine(line, &res)
		if res.Done {
			return res, ""
		}
	}
	return res, newCarry
}

func parseLine(line string, res *Result) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, DataPrefix) {
		return
	}
	payload := strings.TrimSpace(line[len(DataPrefix):])
	if payload == DoneSentinel {
		res.Done = true
		return
	}

	var ev chat.SSEEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		log.Warn().Err(err).
			Str("component", "sse").
			Str("payload", truncate(payload, maxLoggedPayload)).
			Msg("skipping malformed frame")
		return
	}
	res.Events = append(res.Events, ev)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Parser keeps the carry-over between chunks of a single stream.
type Parser struct {
	carry string
	done  bool
}

func NewParser() *Parser {
	return &Parser{}
}

// Feed parses the next chunk. Once the sentinel was seen it returns empty
// results for all further input.
func (p *Parser) Feed(chunk string) Result {
	if p.done {
		return Result{Done: true}
	}
	res, carry := ParseChunk(chunk, p.carry)
	p.carry = carry
	if res.Done {
		p.done = true
	}
	return res
}

// Flush treats the pending carry-over as a complete final line. It is called
// once the connection closed without a trailing newline.
func (p *Parser) Flush() Result {
	if p.done || p.carry == "" {
		return Result{Done: p.done}
	}
	res := Result{}
	parseLine(p.carry, &res)
	p.carry = ""
	if res.Done {
		p.done = true
	}
	return res
}

func (p *Parser) Done() bool {
	return p.done
}

// Pending returns the buffered partial line.
func (p *Parser) Pending() string {
	return p.carry
}
