// Package agent runs session-aware LLM agents with a tool loop, provider
// failover and guardrail callbacks.
//
// Invariants:
// - Runs are serialized per session lane through commandqueue.
// - The session is loaded (or created) before the run and every
//   non-partial event is persisted through session.AppendEvent.
// - Tool calls route through toolexecutor only.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{
//		Agent:    def,
//		Sessions: sessions,
//		Tools:    executor,
//		Queue:    queue,
//		Profiles: profiles,
//	})
//	result, _ := runner.Run(ctx, agent.RunRequest{
//		AppName:   "demo_app",
//		UserID:    "user_1",
//		SessionID: "session_1",
//		Message:   session.NewTextContent("user", "hello"),
//	})
//	_ = result.Response
package agent
