package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/interfaces"
	"github.com/ternarybob/plexus/internal/models"
)

type fakeMailbox struct {
	address string
	body    string
	err     error
	from    string
}

func (m *fakeMailbox) Address(ctx context.Context) (string, error) { return m.address, nil }

func (m *fakeMailbox) WaitForMessage(ctx context.Context, from string) (*models.MailMessage, error) {
	m.from = from
	if m.err != nil {
		return nil, m.err
	}
	return &models.MailMessage{ID: "1", From: "team@site.test", Body: m.body}, nil
}

func siteBundle() models.Bundle {
	return models.Bundle{
		Headers: models.NewHeaders(map[string]string{"user-agent": "agent/1", "authority": "site.test"}),
		Cookies: models.NewCookies(
			[2]string{"next-auth.csrf-token", "csrf123%7Chash"},
			[2]string{"cf_clearance", "clear"},
		),
	}
}

// fakeBackend serves the sign-in endpoints and a Socket.IO endpoint that
// acknowledges every ask with answer
type fakeBackend struct {
	t         *testing.T
	answer    string
	signIns   int32
	callbacks int32
	asks      int32
}

func (b *fakeBackend) handler() http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux := http.NewServeMux()

	mux.HandleFunc(signInPath, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.signIns, 1)
		require.NoError(b.t, r.ParseForm())
		assert.Equal(b.t, "fresh@inbox.test", r.PostForm.Get("email"))
		assert.Equal(b.t, "csrf123", r.PostForm.Get("csrfToken"))
		assert.Equal(b.t, "agent/1", r.Header.Get("User-Agent"))
		cookie, err := r.Cookie("cf_clearance")
		require.NoError(b.t, err)
		assert.Equal(b.t, "clear", cookie.Value)
		w.Write([]byte(`{"url":"ok"}`))
	})

	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.callbacks, 1)
		assert.Equal(b.t, "tok", r.URL.Query().Get("token"))
		http.SetCookie(w, &http.Cookie{Name: "session-token", Value: "sess", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc(socketPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(b.t, "websocket", r.URL.Query().Get("transport"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"abc","pingInterval":25000,"pingTimeout":20000}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame := string(data)
			switch {
			case frame == "40":
				conn.WriteMessage(websocket.TextMessage, []byte(`2`))
				conn.WriteMessage(websocket.TextMessage, []byte(`40{"sid":"s1"}`))
			case strings.HasPrefix(frame, "42"):
				atomic.AddInt32(&b.asks, 1)
				id, body := splitAckID(frame[2:])
				var args []interface{}
				require.NoError(b.t, json.Unmarshal([]byte(body), &args))
				assert.Equal(b.t, askEvent, args[0])
				conn.WriteMessage(websocket.TextMessage, []byte(`42["query_progress",{"status":"pending"}]`))
				ack, _ := json.Marshal([]interface{}{map[string]interface{}{"status": "completed", "text": b.answer}})
				conn.WriteMessage(websocket.TextMessage, []byte("43"+itoa(id)+string(ack)))
			}
		}
	})

	return mux
}

func itoa(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}

func newTestClient(t *testing.T, backend *fakeBackend, mb *fakeMailbox) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(backend.handler())
	t.Cleanup(server.Close)

	mailboxes := func(mail models.Bundle) (interfaces.Mailbox, error) { return mb, nil }
	client, err := NewClient(Config{
		URL:           server.URL + "/",
		AnswerTimeout: 5 * time.Second,
		MailSender:    "site.test",
	}, siteBundle(), mailboxes, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, server
}

func TestCreateAccount(t *testing.T) {
	backend := &fakeBackend{t: t}
	mb := &fakeMailbox{address: "fresh@inbox.test"}
	client, server := newTestClient(t, backend, mb)
	mb.body = `<p><a href="` + server.URL + callbackPath + `?token=tok">Sign in</a></p>`

	require.NoError(t, client.CreateAccount(context.Background(), models.Bundle{}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.signIns))
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.callbacks))
	assert.Equal(t, "site.test", mb.from)
}

func TestCreateAccount_MailNeverArrives(t *testing.T) {
	backend := &fakeBackend{t: t}
	mb := &fakeMailbox{address: "fresh@inbox.test", err: models.ErrMailNotReceived}
	client, _ := newTestClient(t, backend, mb)

	err := client.CreateAccount(context.Background(), models.Bundle{})
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
	assert.ErrorIs(t, err, models.ErrMailNotReceived)
}

func TestSearch(t *testing.T) {
	backend := &fakeBackend{t: t, answer: `{"answer":"<p>Go is <b>great</b></p>","web_results":[{"url":"https://go.dev"}]}`}
	client, _ := newTestClient(t, backend, &fakeMailbox{})

	result, err := client.Search(context.Background(), "what is go", models.ModeConcise)
	require.NoError(t, err)
	assert.Equal(t, "what is go", result.Query)
	assert.Equal(t, models.ModeConcise, result.Mode)
	assert.Equal(t, "<p>Go is <b>great</b></p>", result.Answer)
	assert.Equal(t, "Go is **great**", result.Markdown)
	assert.Equal(t, []string{"https://go.dev"}, result.Sources)

	// The socket is reused for the next query
	_, err = client.Search(context.Background(), "again", models.ModeCopilot)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&backend.asks))
}

func TestSearch_AfterClose(t *testing.T) {
	client, _ := newTestClient(t, &fakeBackend{t: t}, &fakeMailbox{})
	require.NoError(t, client.Close())

	_, err := client.Search(context.Background(), "q", models.ModeConcise)
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
}

func TestSearch_Unreachable(t *testing.T) {
	client, err := NewClient(Config{URL: "http://127.0.0.1:1", RequestTimeout: time.Second}, siteBundle(),
		func(models.Bundle) (interfaces.Mailbox, error) { return nil, errors.New("unused") }, arbor.NewLogger())
	require.NoError(t, err)

	_, err = client.Search(context.Background(), "q", models.ModeConcise)
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
}

func TestParseAnswer(t *testing.T) {
	result, err := parseAnswer("q", models.ModeCopilot, json.RawMessage(`{"answer":"plain"}`))
	require.NoError(t, err)
	assert.Equal(t, "plain", result.Answer)

	result, err = parseAnswer("q", models.ModeCopilot, json.RawMessage(`{"text":"not json"}`))
	require.NoError(t, err)
	assert.Equal(t, "not json", result.Answer)

	_, err = parseAnswer("q", models.ModeCopilot, json.RawMessage(`{"status":"failed"}`))
	assert.Error(t, err)

	_, err = parseAnswer("q", models.ModeCopilot, json.RawMessage(`null`))
	assert.Error(t, err)
}

func TestEncodeEventAndAckID(t *testing.T) {
	frame, err := encodeEvent(3, "ask", "q", map[string]string{"mode": "concise"})
	require.NoError(t, err)
	assert.Equal(t, `423["ask","q",{"mode":"concise"}]`, frame)

	id, body := splitAckID(`12[{"a":1}]`)
	assert.Equal(t, 12, id)
	assert.Equal(t, `[{"a":1}]`, body)

	id, _ = splitAckID(`[1]`)
	assert.Equal(t, -1, id)
}

func TestCSRFToken(t *testing.T) {
	client, err := NewClient(Config{URL: "https://www.site.test"}, siteBundle(), nil, arbor.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, "csrf123", client.csrfToken())
	assert.Equal(t, "site.test", client.config.MailSender)
	assert.Equal(t, "wss://www.site.test/socket.io/?EIO=4&transport=websocket", socketURL(client.base))
}
