package cmds

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/streamchat/pkg/api"
	"github.com/go-go-golems/streamchat/pkg/chat"
	"github.com/go-go-golems/streamchat/pkg/config"
	"github.com/go-go-golems/streamchat/pkg/engine"
	"github.com/go-go-golems/streamchat/pkg/notify"
	"github.com/go-go-golems/streamchat/pkg/redisstream"
)

func newTestApp(t *testing.T, handler http.Handler) *App {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	app, err := NewApp(context.Background(), config.Settings{BaseURL: srv.URL}, redisstream.Settings{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func assistantMsg(text string) chat.ChatMessage {
	return chat.ChatMessage{Role: chat.RoleAssistant, Content: chat.MessageContent{Message: chat.String(text)}}
}

func TestApp_LoadChatPagesThroughBackend(t *testing.T) {
	var offsets []string
	app := newTestApp(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offsets = append(offsets, r.URL.Query().Get("offset"))
		n := transcriptPageSize
		if r.URL.Query().Get("offset") != "0" {
			n = 1
		}
		items := make([]string, n)
		for i := range items {
			items[i] = fmt.Sprintf(`{"role":"user","content":{"message":"m%d"}}`, i)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"size":%d,"offset":0,"items":[%s]}`, n, strings.Join(items, ","))
	}))

	msgs, err := app.LoadChat(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, transcriptPageSize+1)
	require.Equal(t, []string{"0", fmt.Sprint(transcriptPageSize)}, offsets)
}

func TestApp_LoadChatFallsBackToLocalHistory(t *testing.T) {
	app := newTestApp(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"boom"}`, http.StatusInternalServerError)
	}))
	ctx := context.Background()
	require.NoError(t, app.History.SaveTranscript(ctx, "c1", "stopped", []chat.ChatMessage{chat.UserMessage("q"), assistantMsg("a")}))

	msgs, err := app.LoadChat(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	_, err = app.LoadChat(ctx, "unknown")
	require.Error(t, err)
}

func TestApp_LoadChatNotFoundIsNotMasked(t *testing.T) {
	app := newTestApp(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Chat does not exists"}`))
	}))
	ctx := context.Background()
	require.NoError(t, app.History.SaveTranscript(ctx, "c1", "stopped", []chat.ChatMessage{chat.UserMessage("q")}))

	_, err := app.LoadChat(ctx, "c1")
	require.ErrorIs(t, err, api.ErrChatNotFound)
}

func TestApp_RefreshChatList(t *testing.T) {
	fail := false
	app := newTestApp(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"size":1,"offset":0,"items":[{"chat_id":"r1","title":"remote","created_at":"2024-05-01T10:00:00","updated_at":"2024-05-01T10:05:00"}]}`))
	}))
	ctx := context.Background()

	items, err := app.RefreshChatList(ctx, api.Page{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "remote", app.Chats.Items()[0].Title)

	fail = true
	require.NoError(t, app.History.SaveTranscript(ctx, "l1", "stopped", []chat.ChatMessage{chat.UserMessage("q")}))
	require.NoError(t, app.History.SetTitle(ctx, "l1", "local"))
	items, err = app.RefreshChatList(ctx, api.Page{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "l1", items[0].ChatID)
	require.Equal(t, "local", app.Chats.Items()[0].Title)
}

func TestApp_SessionRecordsHistory(t *testing.T) {
	app := newTestApp(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"chat_id\":\"s1\",\"status\":\"title\",\"content\":{\"message\":\"t\"}}\n" +
			"data: {\"chat_id\":\"s1\",\"status\":\"response\",\"content\":{\"message\":\"hello\"}}\n" +
			"data: {\"chat_id\":\"s1\",\"status\":\"stop\",\"content\":null}\n"))
	}))
	ctx := context.Background()

	session := app.NewSession()
	require.NoError(t, session.SendMessage(ctx, "hi"))
	require.Equal(t, engine.StateStopped, session.State())

	msgs, ok, err := app.History.GetTranscript(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, msgs, 2)

	rec, ok, err := app.History.GetChat(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "t", rec.Title)

	p, ok := app.Chats.Get("s1")
	require.True(t, ok)
	require.Equal(t, "t", p.Title)
}

func TestFetchTranscript_LocalPaging(t *testing.T) {
	app := newTestApp(t, http.NotFoundHandler())
	ctx := context.Background()
	msgs := []chat.ChatMessage{chat.UserMessage("1"), assistantMsg("2"), chat.UserMessage("3")}
	require.NoError(t, app.History.SaveTranscript(ctx, "c1", "stopped", msgs))

	got, err := fetchTranscript(ctx, app, "c1", sourceLocal, false, api.Page{Offset: 1, Size: 5})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = fetchTranscript(ctx, app, "c1", sourceLocal, false, api.Page{Offset: 9})
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = fetchTranscript(ctx, app, "nope", sourceLocal, true, api.Page{})
	require.ErrorIs(t, err, api.ErrChatNotFound)
}

func TestStreamPrinter_Raw(t *testing.T) {
	var buf bytes.Buffer
	p := newStreamPrinter(&buf, false)
	user := chat.UserMessage("q")

	p.Observe(engine.Snapshot{State: engine.StatePending, Messages: []chat.ChatMessage{user}})
	p.Observe(engine.Snapshot{State: engine.StateStreaming, Messages: []chat.ChatMessage{user, assistantMsg("Hel")}})
	p.Observe(engine.Snapshot{State: engine.StateStreaming, Messages: []chat.ChatMessage{user, assistantMsg("Hello")}})
	require.Equal(t, "Hello", buf.String())

	final := engine.Snapshot{State: engine.StateStopped, Messages: []chat.ChatMessage{
		user,
		{Role: chat.RoleAssistant, Content: chat.MessageContent{Message: chat.String("Hello!"), Products: []chat.Product{{Name: chat.String("Deposit")}}}},
	}}
	require.NoError(t, p.Finish(final))
	require.True(t, strings.HasPrefix(buf.String(), "Hello!\n"))
	require.Contains(t, buf.String(), "Deposit")
}

func TestStreamPrinter_FailureReplacesPartial(t *testing.T) {
	var buf bytes.Buffer
	p := newStreamPrinter(&buf, false)
	user := chat.UserMessage("q")
	p.Observe(engine.Snapshot{State: engine.StateStreaming, Messages: []chat.ChatMessage{user, assistantMsg("partial")}})
	require.NoError(t, p.Finish(engine.Snapshot{State: engine.StateFailed, Messages: []chat.ChatMessage{user, assistantMsg("failed")}}))
	require.Equal(t, "partial\nfailed\n", buf.String())
}

func TestAnswerText_OnlyCurrentTurn(t *testing.T) {
	msgs := []chat.ChatMessage{chat.UserMessage("q1"), assistantMsg("old"), chat.UserMessage("q2"), assistantMsg("new")}
	require.Equal(t, "new", answerText(msgs))
	require.Equal(t, "", answerText([]chat.ChatMessage{chat.UserMessage("q")}))
}

func TestNotificationWriter_FiltersKinds(t *testing.T) {
	var buf bytes.Buffer
	write := notificationWriter(&buf, []string{string(notify.KindTitleChanged)})
	require.NoError(t, write(notify.Notification{Kind: notify.KindChatBound, ChatID: "c1"}))
	require.NoError(t, write(notify.Notification{Kind: notify.KindTitleChanged, ChatID: "c1", Title: "t"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], `"kind":"chat.title"`)
}

func TestApp_MemoriesRefreshAndDelete(t *testing.T) {
	var deletes []string
	app := newTestApp(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"offset":0,"size":2,"items":[
				{"memory_id":"m1","content":"likes deposits","updated_at":"2025-08-01T10:00:00"},
				{"memory_id":"m2","content":"lives in Seoul","updated_at":"2025-08-01T10:00:00"}]}`))
		case http.MethodDelete:
			id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			deletes = append(deletes, id)
			switch id {
			case "gone":
				w.WriteHeader(http.StatusNotFound)
			case "boom":
				w.WriteHeader(http.StatusInternalServerError)
			}
		}
	}))
	ctx := context.Background()

	require.NoError(t, app.RefreshMemories(ctx, api.Page{}))
	require.Len(t, app.Memories.Items(), 2)

	results, err := app.DeleteMemories(ctx, []string{"m1", "gone"})
	require.NoError(t, err)
	require.Equal(t, []memoryDeletion{{MemoryID: "m1", Deleted: true}, {MemoryID: "gone"}}, results)
	require.Len(t, app.Memories.Items(), 1)
	require.Equal(t, "m2", app.Memories.Items()[0].MemoryID)

	results, err = app.DeleteMemories(ctx, []string{"boom", "m2"})
	require.Error(t, err)
	require.Empty(t, results)
	require.Len(t, app.Memories.Items(), 1)
	require.Equal(t, []string{"m1", "gone", "boom"}, deletes)
}
