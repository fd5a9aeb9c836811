package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/harun/agentkit/pkg/agent"
	"github.com/harun/agentkit/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	requests []agent.RunRequest
	err      error
}

func (f *fakeRunner) Run(_ context.Context, req agent.RunRequest) (*agent.RunResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &agent.RunResult{SessionID: req.SessionID, Response: "echo: " + req.Message.Parts[0].Text}, nil
}

func newTestREPL(t *testing.T) (*chatREPL, *fakeRunner, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true

	mgr, err := session.NewManager(session.Config{Backend: session.NewMemoryBackend(nil)})
	require.NoError(t, err)

	runner := &fakeRunner{}
	out := &bytes.Buffer{}
	return &chatREPL{
		out:      out,
		sessions: mgr,
		runner:   runner,
		appName:  "chat_app",
		user:     defaultChatUser,
		session:  defaultChatSession,
		newID:    func() string { return "session_abcd1234" },
	}, runner, out
}

func TestChatREPL_Run(t *testing.T) {
	t.Run("should create the initial session and relay messages", func(t *testing.T) {
		repl, runner, out := newTestREPL(t)
		ctx := context.Background()

		err := repl.Run(ctx, strings.NewReader("hello\n/exit\n"))
		require.NoError(t, err)

		sess, err := repl.sessions.Get(ctx, defaultChatSession)
		require.NoError(t, err)
		assert.Equal(t, "chat_app", sess.AppName)
		assert.Equal(t, true, sess.State["conversation_started"])

		require.Len(t, runner.requests, 1)
		assert.Equal(t, defaultChatUser, runner.requests[0].UserID)
		assert.Equal(t, defaultChatSession, runner.requests[0].SessionID)
		assert.Contains(t, out.String(), "Assistant: echo: hello")
		assert.Contains(t, out.String(), "CHATBOT ENDED")
	})

	t.Run("should stop at end of input", func(t *testing.T) {
		repl, runner, _ := newTestREPL(t)
		require.NoError(t, repl.Run(context.Background(), strings.NewReader("one\ntwo\n")))
		assert.Len(t, runner.requests, 2)
	})

	t.Run("should stop on an empty line", func(t *testing.T) {
		repl, runner, _ := newTestREPL(t)
		require.NoError(t, repl.Run(context.Background(), strings.NewReader("\nignored\n")))
		assert.Empty(t, runner.requests)
	})

	t.Run("should keep going after a failed turn", func(t *testing.T) {
		repl, runner, out := newTestREPL(t)
		runner.err = errors.New("model unavailable")
		require.NoError(t, repl.Run(context.Background(), strings.NewReader("hi\nagain\n")))
		assert.Len(t, runner.requests, 2)
		assert.Contains(t, out.String(), "Error: model unavailable")
	})
}

func TestChatREPL_Commands(t *testing.T) {
	ctx := context.Background()

	t.Run("should switch user and create a missing session", func(t *testing.T) {
		repl, _, out := newTestREPL(t)

		done, err := repl.handle(ctx, "/user alice")
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, "alice", repl.user)
		assert.Contains(t, out.String(), "Switched to user: alice")

		sess, err := repl.sessions.Get(ctx, defaultChatSession)
		require.NoError(t, err)
		assert.Equal(t, "alice", sess.UserID)
	})

	t.Run("should print usage for malformed commands", func(t *testing.T) {
		repl, runner, out := newTestREPL(t)

		for _, line := range []string{"/user", "/session a b", "/new"} {
			done, err := repl.handle(ctx, line)
			require.NoError(t, err)
			assert.False(t, done)
		}
		assert.Contains(t, out.String(), "Usage: /user <user_id>")
		assert.Contains(t, out.String(), "Usage: /session <session_id>")
		assert.Contains(t, out.String(), "Usage: /new <session_id>")
		assert.Empty(t, runner.requests)
	})

	t.Run("should create a new session", func(t *testing.T) {
		repl, _, _ := newTestREPL(t)

		_, err := repl.handle(ctx, "/new trip_planning")
		require.NoError(t, err)
		assert.Equal(t, "trip_planning", repl.session)

		sess, err := repl.sessions.Get(ctx, "trip_planning")
		require.NoError(t, err)
		assert.Equal(t, true, sess.State["conversation_started"])
	})

	t.Run("should auto-create a session with a generated ID", func(t *testing.T) {
		repl, _, out := newTestREPL(t)

		_, err := repl.handle(ctx, "/auto")
		require.NoError(t, err)
		assert.Equal(t, "session_abcd1234", repl.session)
		assert.Contains(t, out.String(), "Auto-created session: session_abcd1234")

		_, err = repl.sessions.Get(ctx, "session_abcd1234")
		require.NoError(t, err)
	})

	t.Run("should end on exit words", func(t *testing.T) {
		repl, _, _ := newTestREPL(t)
		for _, line := range []string{"/exit", "exit", "QUIT"} {
			done, err := repl.handle(ctx, line)
			require.NoError(t, err)
			assert.True(t, done, line)
		}
	})
}

func TestChatREPL_AutoID(t *testing.T) {
	repl := &chatREPL{}
	id := repl.autoID()
	assert.True(t, strings.HasPrefix(id, "session_"))
	assert.Len(t, id, len("session_")+8)
}
