// Package session stores agent conversation sessions (state and event
// history) in Redis, SQLite or memory.
//
// Invariants:
// - Records at rest use camelCase identifying fields (appName, userId).
//   Records written with snake_case names are normalized when read and when
//   updated; created_at is never returned to callers.
// - A stored event list whose first event has no author is treated as
//   foreign and read back as empty.
// - State keys prefixed with "temp:" never reach a backend.
// - Events are append-only; partial (streaming) events are not persisted.
// - Records expire TTL after their last write. Redis expires keys natively;
//   the SQLite and memory backends hide expired rows and a Reaper purges them.
//
// Usage:
//
//	mgr, _ := session.NewManager(session.Config{
//		Backend: session.NewRedisBackend(client, "adk:session"),
//		TTL:     time.Hour,
//	})
//	sess, _ := mgr.Create(ctx, "", "market_app", "user-1")
//	_ = session.AppendEvent(ctx, mgr, sess, session.NewTextEvent("user", "user", "hello"))
package session
