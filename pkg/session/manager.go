package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harun/agentkit/internal/observability"
	"github.com/harun/agentkit/internal/tracing"
	"github.com/harun/agentkit/pkg/hooks"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultAppName = "default_app"
	DefaultUserID  = "anonymous"
	DefaultTTL     = time.Hour
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Service is the session persistence API used by the runner and the relay.
type Service interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
	Create(ctx context.Context, sessionID, appName, userID string) (*Session, error)
	Update(ctx context.Context, sessionID string, rec any) error
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context, userID string) ([]*Session, error)
}

// Meta is the indexable part of a stored record.
type Meta struct {
	AppName string
	UserID  string
}

// Backend stores encoded session records. Load returns ErrNotFound for
// missing or expired records. A ttl of zero means no expiry.
type Backend interface {
	Name() string
	Load(ctx context.Context, sessionID string) ([]byte, error)
	Save(ctx context.Context, sessionID string, meta Meta, data []byte, ttl time.Duration) error
	Remove(ctx context.Context, sessionID string) error
	// Scan returns every live record. userID is a hint backends may use to
	// narrow the scan; callers filter the results regardless.
	Scan(ctx context.Context, userID string) ([][]byte, error)
	Close() error
}

// Config configures a Manager.
type Config struct {
	Backend Backend
	TTL     time.Duration
	Hooks   *hooks.Manager
	Logger  *zerolog.Logger
	Now     func() time.Time
}

// Manager implements Service on top of a Backend.
type Manager struct {
	backend Backend
	ttl     time.Duration
	hooks   *hooks.Manager
	logger  zerolog.Logger
	now     func() time.Time
}

// NewManager creates a session manager.
func NewManager(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()

	if cfg.Backend == nil {
		return nil, fmt.Errorf("session backend is required")
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("session TTL must be >= 0")
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	m := &Manager{
		backend: cfg.Backend,
		ttl:     cfg.TTL,
		hooks:   cfg.Hooks,
		logger:  logger.With().Str("component", "session").Str("backend", cfg.Backend.Name()).Logger(),
		now:     now,
	}
	m.logger.Info().Dur("ttl", cfg.TTL).Msg("Session manager initialized")
	return m, nil
}

// Backend returns the name of the storage backend.
func (m *Manager) Backend() string {
	return m.backend.Name()
}

// TTL returns the record expiry applied on every write.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Close releases the backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}

func validateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if len(id) > 256 {
		return fmt.Errorf("session ID too long")
	}
	if strings.ContainsAny(id, "\x00\r\n") {
		return fmt.Errorf("session ID cannot contain control characters")
	}
	return nil
}

func (m *Manager) start(ctx context.Context, op, sessionID string) (context.Context, func(*error)) {
	if ctx == nil {
		ctx = context.Background()
	}
	if sessionID != "" {
		ctx = tracing.WithSessionID(ctx, sessionID)
	}
	ctx, span := tracing.StartSpan(ctx, "agentkit.session", "session."+op,
		attribute.String("session_id", sessionID),
		attribute.String("backend", m.backend.Name()),
	)
	return ctx, func(errp *error) {
		err := *errp
		ok := err == nil || errors.Is(err, ErrNotFound)
		if !ok {
			tracing.Fail(span, err)
		}
		observability.RecordSessionOp(m.backend.Name(), op, ok)
		span.End()
	}
}

// Get fetches and normalizes a session.
func (m *Manager) Get(ctx context.Context, sessionID string) (sess *Session, err error) {
	ctx, done := m.start(ctx, "get", sessionID)
	defer done(&err)
	start := m.now()
	defer func() { observability.RecordSessionLoad(m.backend.Name(), time.Since(start)) }()

	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	data, err := m.backend.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	sess, err = decode(data)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return sess, nil
}

// Create stores a fresh session, overwriting any existing record with the
// same ID. Empty arguments get defaults: a random ID, DefaultAppName and
// DefaultUserID.
func (m *Manager) Create(ctx context.Context, sessionID, appName, userID string) (sess *Session, err error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if appName == "" {
		appName = DefaultAppName
	}
	if userID == "" {
		userID = DefaultUserID
	}

	ctx, done := m.start(ctx, "create", sessionID)
	defer done(&err)

	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	now := m.now()
	r := record{
		"id":             sessionID,
		"appName":        appName,
		"userId":         userID,
		"state":          map[string]any{},
		"events":         []any{},
		"lastUpdateTime": toUnix(now),
	}
	data, err := encode(sessionID, r, now.Unix())
	if err != nil {
		return nil, err
	}
	if err := m.save(ctx, sessionID, Meta{AppName: appName, UserID: userID}, data); err != nil {
		return nil, err
	}

	m.logger.Info().Str("session_id", sessionID).Str("app_name", appName).Str("user_id", userID).Msg("Session created")
	m.hooks.Fire(ctx, hooks.EventSessionCreated, map[string]any{
		"session_id": sessionID,
		"app_name":   appName,
		"user_id":    userID,
	})

	delete(r, createdAtKey)
	return r.session()
}

// Update replaces the stored record and refreshes its TTL. rec may be a
// *Session, Session, a raw map or JSON bytes; it is normalized the same way
// Get normalizes.
func (m *Manager) Update(ctx context.Context, sessionID string, rec any) (err error) {
	ctx, done := m.start(ctx, "update", sessionID)
	defer done(&err)

	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	r, err := toRecord(rec)
	if err != nil {
		return err
	}
	data, err := encode(sessionID, r, 0)
	if err != nil {
		return err
	}
	return m.save(ctx, sessionID, Meta{AppName: r.str("appName"), UserID: r.str("userId")}, data)
}

func (m *Manager) save(ctx context.Context, sessionID string, meta Meta, data []byte) error {
	start := m.now()
	defer func() { observability.RecordSessionSave(m.backend.Name(), time.Since(start)) }()

	if err := m.backend.Save(ctx, sessionID, meta, data, m.ttl); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sessionID, err)
	}
	return nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (m *Manager) Delete(ctx context.Context, sessionID string) (err error) {
	ctx, done := m.start(ctx, "delete", sessionID)
	defer done(&err)

	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	if err := m.backend.Remove(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}

	m.logger.Info().Str("session_id", sessionID).Msg("Session deleted")
	m.hooks.Fire(ctx, hooks.EventSessionDeleted, map[string]any{"session_id": sessionID})
	return nil
}

// List returns every live session, filtered by userID when it is non-empty.
// Records that fail to decode are logged and skipped.
func (m *Manager) List(ctx context.Context, userID string) (out []*Session, err error) {
	ctx, done := m.start(ctx, "list", "")
	defer done(&err)

	records, err := m.backend.Scan(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, m.logger)
	out = make([]*Session, 0, len(records))
	for _, data := range records {
		sess, err := decode(data)
		if err != nil {
			logger.Warn().Err(err).Msg("Skipping unreadable session record")
			continue
		}
		if userID != "" && sess.UserID != userID {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// AppendEvent applies ev to sess in memory and persists the result through
// svc. Partial events only update memory. State deltas are applied before
// the event is appended; temp: keys stay visible on sess but are not stored.
func AppendEvent(ctx context.Context, svc Service, sess *Session, ev *Event) error {
	if sess == nil || ev == nil {
		return fmt.Errorf("session and event are required")
	}
	if ev.Partial {
		return nil
	}
	if sess.State == nil {
		sess.State = map[string]any{}
	}
	for k, v := range ev.Actions.StateDelta {
		sess.State[k] = v
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = toUnix(time.Now())
	}
	sess.Events = append(sess.Events, ev)
	sess.LastUpdateTime = ev.Timestamp

	return svc.Update(ctx, sess.ID, sess)
}

// ClearTempState removes temp: keys from sess once its turn is over.
func ClearTempState(sess *Session) {
	if sess != nil {
		dropTempKeys(sess.State)
	}
}
