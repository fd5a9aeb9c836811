package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/harun/agentkit/internal/config"
	"github.com/harun/agentkit/internal/runtime"
	"github.com/harun/agentkit/pkg/agent"
	"github.com/harun/agentkit/pkg/session"
	"github.com/spf13/cobra"
)

const (
	defaultChatUser    = "user_1"
	defaultChatSession = "session_001"
)

var (
	chatAgent          string
	chatSessionBackend string
	chatUser           string
	chatSession        string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with an agent in the terminal",
	Long: `Start an interactive chat with a configured agent. Conversations are
kept in the session store, so a session can be resumed later.

Commands:
  /user <user_id>        switch user
  /session <session_id>  switch session
  /new <session_id>      create a new session
  /auto                  create a session with a generated ID
  /exit                  quit`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatAgent, "agent", "redis_agent", "agent ID to chat with")
	chatCmd.Flags().StringVar(&chatSessionBackend, "session-backend", "", "override session backend (redis, sqlite, memory)")
	chatCmd.Flags().StringVar(&chatUser, "user", defaultChatUser, "initial user ID")
	chatCmd.Flags().StringVar(&chatSession, "session", defaultChatSession, "initial session ID")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	opts := runOptions{
		stderrLogs: true,
		mutate: func(cfg *config.Config) {
			if chatSessionBackend != "" {
				cfg.Session.Backend = chatSessionBackend
			}
		},
	}
	return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime.Runtime) error {
		sessions, err := rt.Sessions(ctx)
		if err != nil {
			return err
		}
		runner, err := rt.Runner(ctx, chatAgent)
		if err != nil {
			return err
		}
		repl := &chatREPL{
			out:      cmd.OutOrStdout(),
			sessions: sessions,
			runner:   runner,
			appName:  rt.Config().Session.AppName,
			user:     chatUser,
			session:  chatSession,
		}
		return repl.Run(ctx, cmd.InOrStdin())
	})
}

type turnRunner interface {
	Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error)
}

// chatREPL is the line-oriented chat loop.
type chatREPL struct {
	out      io.Writer
	sessions session.Service
	runner   turnRunner
	appName  string
	user     string
	session  string
	newID    func() string
}

var (
	promptColor = color.New(color.FgCyan, color.Bold)
	agentColor  = color.New(color.FgGreen, color.Bold)
	noticeColor = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed)
)

func (c *chatREPL) Run(ctx context.Context, in io.Reader) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}

	fmt.Fprintln(c.out, "\n=========== MULTI USER / MULTI SESSION CHATBOT ===========")
	fmt.Fprintln(c.out, "Commands: /user <id>, /session <id>, /new <id>, /auto, /exit")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(c.out, "\n(User: %s | Session: %s)\n", c.user, c.session)
		promptColor.Fprint(c.out, "User: ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		done, err := c.handle(ctx, line)
		if err != nil {
			errorColor.Fprintf(c.out, "Error: %v\n", err)
		}
		if done || ctx.Err() != nil {
			break
		}
	}

	fmt.Fprintln(c.out, "\n================ CHATBOT ENDED ================")
	return scanner.Err()
}

// handle processes one input line and reports whether the loop should end.
func (c *chatREPL) handle(ctx context.Context, line string) (bool, error) {
	switch strings.ToLower(line) {
	case "", "/exit", "exit", "quit":
		return true, nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/user":
		if len(fields) != 2 {
			fmt.Fprintln(c.out, "Usage: /user <user_id>")
			return false, nil
		}
		c.user = fields[1]
		noticeColor.Fprintf(c.out, "Switched to user: %s\n", c.user)
		return false, c.ensureSession(ctx)
	case "/session":
		if len(fields) != 2 {
			fmt.Fprintln(c.out, "Usage: /session <session_id>")
			return false, nil
		}
		c.session = fields[1]
		noticeColor.Fprintf(c.out, "Switched to session: %s\n", c.session)
		return false, c.ensureSession(ctx)
	case "/new":
		if len(fields) != 2 {
			fmt.Fprintln(c.out, "Usage: /new <session_id>")
			return false, nil
		}
		c.session = fields[1]
		if err := c.createSession(ctx); err != nil {
			return false, err
		}
		noticeColor.Fprintf(c.out, "New session created: %s\n", c.session)
		return false, nil
	case "/auto":
		c.session = c.autoID()
		if err := c.createSession(ctx); err != nil {
			return false, err
		}
		noticeColor.Fprintf(c.out, "Auto-created session: %s\n", c.session)
		return false, nil
	}

	result, err := c.runner.Run(ctx, agent.RunRequest{
		AppName:   c.appName,
		UserID:    c.user,
		SessionID: c.session,
		Message:   session.NewTextContent("user", line),
	})
	if err != nil {
		return false, err
	}
	agentColor.Fprint(c.out, "Assistant: ")
	fmt.Fprintln(c.out, result.Response)
	return false, nil
}

func (c *chatREPL) autoID() string {
	if c.newID != nil {
		return c.newID()
	}
	return "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ensureSession creates the current session when it does not exist yet.
func (c *chatREPL) ensureSession(ctx context.Context) error {
	_, err := c.sessions.Get(ctx, c.session)
	if err == nil {
		return nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return err
	}
	return c.createSession(ctx)
}

func (c *chatREPL) createSession(ctx context.Context) error {
	sess, err := c.sessions.Create(ctx, c.session, c.appName, c.user)
	if err != nil {
		return err
	}
	if sess.State == nil {
		sess.State = map[string]any{}
	}
	sess.State["conversation_started"] = true
	return c.sessions.Update(ctx, sess.ID, sess)
}
