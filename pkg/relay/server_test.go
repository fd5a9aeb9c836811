package relay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/agentkit/pkg/agent"
	"github.com/harun/agentkit/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoAgent answers text with the same text split over a partial and a
// final event, and echoes blobs back as inline data.
type echoAgent struct{}

func (echoAgent) RunLive(ctx context.Context, _ *Session, q *LiveRequestQueue) (<-chan *session.Event, error) {
	out := make(chan *session.Event, 8)
	go func() {
		defer close(out)
		send := func(ev *session.Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			req, ok := q.Next(ctx)
			if !ok {
				return
			}
			if req.Content != nil {
				text := req.Content.Parts[0].Text
				partial := session.NewTextEvent("inv", "live_agent", text[:2])
				partial.Partial = true
				if !send(partial) || !send(session.NewTextEvent("inv", "live_agent", text[2:])) {
					return
				}
				continue
			}
			mime := "audio/pcm"
			if req.Blob.MIMEType == ImageMIMEType {
				mime = ImageMIMEType
			}
			if !send(blobEvent(mime, req.Blob.Data)) {
				return
			}
		}
	}()
	return out, nil
}

func newTestRelay(t *testing.T, live LiveAgent) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := NewServer(Config{
		AppName:    "live_app",
		Voice:      "Puck",
		Modalities: []string{"TEXT"},
		Agent:      live,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func wsURL(ts *httptest.Server, sessionID string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + sessionID
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestNewServer(t *testing.T) {
	t.Run("should require an agent", func(t *testing.T) {
		_, err := NewServer(Config{})
		assert.EqualError(t, err, "live agent is required")
	})

	t.Run("should reject invalid port", func(t *testing.T) {
		_, err := NewServer(Config{Agent: echoAgent{}, Port: 70000})
		assert.EqualError(t, err, "invalid port: 70000")
	})
}

func TestServer_Healthz(t *testing.T) {
	_, ts := newTestRelay(t, echoAgent{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestServer_RelaysBothDirections(t *testing.T) {
	srv, ts := newTestRelay(t, echoAgent{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "s1")+"?user_id=u1", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		live, err := srv.Sessions().Get("s1")
		return err == nil && live.UserID == "u1"
	}, time.Second, 10*time.Millisecond)

	live, err := srv.Sessions().Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "Puck", live.Voice)
	assert.Equal(t, []string{"TEXT"}, live.Modalities)
	assert.Equal(t, "live_app", live.AppName)
	assert.NotEmpty(t, live.ConnectionID)

	t.Run("should send accumulated text once", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "text", "data": "hello"}))
		msg := readMessage(t, conn)
		assert.Equal(t, "text", msg["type"])
		assert.Equal(t, "hello", msg["data"])
	})

	t.Run("should survive malformed and unknown frames", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "audio", "data": "%%%"}))
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "video", "data": "x"}))
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "audio", "data": "AAE="}))

		msg := readMessage(t, conn)
		assert.Equal(t, "audio", msg["type"])
		assert.Equal(t, "data:audio/pcm;base64,AAE=", msg["data"])
	})

	t.Run("should relay images as data uris", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "image", "data": "AQI="}))
		msg := readMessage(t, conn)
		assert.Equal(t, "image", msg["type"])
		assert.Equal(t, "data:image/jpeg;base64,AQI=", msg["data"])
	})

	t.Run("should reject a second connection for the same session", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "s1"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return srv.Sessions().Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// closingAgent ends its event stream right away.
type closingAgent struct{}

func (closingAgent) RunLive(context.Context, *Session, *LiveRequestQueue) (<-chan *session.Event, error) {
	out := make(chan *session.Event)
	close(out)
	return out, nil
}

func TestServer_AgentEndClosesConnection(t *testing.T) {
	srv, ts := newTestRelay(t, closingAgent{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "s2"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	require.Eventually(t, func() bool {
		return srv.Sessions().Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

type fakeTurnRunner struct {
	mu       sync.Mutex
	requests []agent.RunRequest
	aborted  bool
}

func (f *fakeTurnRunner) Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	aborted := f.aborted
	f.mu.Unlock()

	req.Sink.Emit(ctx, session.NewEvent("inv", "user", req.Message))
	reply := session.NewTextEvent("inv", "live_agent", "reply: "+req.Message.Parts[0].Text)
	req.Sink.Emit(ctx, reply)
	return &agent.RunResult{SessionID: req.SessionID, Response: reply.Text(), Aborted: aborted}, nil
}

func (f *fakeTurnRunner) snapshot() []agent.RunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.RunRequest(nil), f.requests...)
}

func TestRunnerLiveAgent(t *testing.T) {
	t.Run("should require a runner", func(t *testing.T) {
		_, err := NewRunnerLiveAgent(nil, zerolog.Nop())
		assert.EqualError(t, err, "agent runner is required")
	})

	t.Run("should attach buffered images and drop audio", func(t *testing.T) {
		runner := &fakeTurnRunner{}
		live, err := NewRunnerLiveAgent(runner, zerolog.Nop())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := NewLiveRequestQueue(8)
		events, err := live.RunLive(ctx, &Session{ID: "s1", AppName: "live_app", UserID: "u1"}, q)
		require.NoError(t, err)

		require.NoError(t, q.SendRealtime(&session.Blob{MIMEType: AudioMIMEType, Data: []byte{0}}))
		require.NoError(t, q.SendRealtime(&session.Blob{MIMEType: ImageMIMEType, Data: []byte{1}}))
		require.NoError(t, q.SendContent(session.NewTextContent("user", "what is this?")))

		select {
		case ev := <-events:
			assert.Equal(t, "live_agent", ev.Author)
			assert.Equal(t, "reply: what is this?", ev.Text())
		case <-time.After(time.Second):
			t.Fatal("no event received")
		}

		requests := runner.snapshot()
		require.Len(t, requests, 1)
		req := requests[0]
		assert.Equal(t, "s1", req.SessionID)
		assert.Equal(t, "u1", req.UserID)
		assert.Equal(t, "live_app", req.AppName)
		require.Len(t, req.Message.Parts, 2)
		assert.Equal(t, "what is this?", req.Message.Parts[0].Text)
		require.NotNil(t, req.Message.Parts[1].InlineData)
		assert.Equal(t, ImageMIMEType, req.Message.Parts[1].InlineData.MIMEType)

		require.NoError(t, q.SendContent(session.NewTextContent("user", "again")))
		<-events
		requests = runner.snapshot()
		require.Len(t, requests, 2)
		assert.Len(t, requests[1].Message.Parts, 1)

		q.Close()
		_, open := <-events
		assert.False(t, open)
	})

	t.Run("should emit an interruption when the run is aborted", func(t *testing.T) {
		runner := &fakeTurnRunner{aborted: true}
		live, err := NewRunnerLiveAgent(runner, zerolog.Nop())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := NewLiveRequestQueue(1)
		events, err := live.RunLive(ctx, &Session{ID: "s1"}, q)
		require.NoError(t, err)

		require.NoError(t, q.SendContent(session.NewTextContent("user", "stop")))
		<-events
		ev := <-events
		assert.True(t, ev.Interrupted)
	})

	t.Run("should validate arguments", func(t *testing.T) {
		live, err := NewRunnerLiveAgent(&fakeTurnRunner{}, zerolog.Nop())
		require.NoError(t, err)
		_, err = live.RunLive(context.Background(), nil, NewLiveRequestQueue(1))
		assert.Error(t, err)
		_, err = live.RunLive(context.Background(), &Session{ID: "s1"}, nil)
		assert.Error(t, err)
	})
}
