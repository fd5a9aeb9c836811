package artifact

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/harun/agentkit/internal/observability"
	"github.com/harun/agentkit/pkg/session"
)

// MemoryService keeps artifacts in process memory. Parts are copied on the
// way in and out.
type MemoryService struct {
	mu       sync.RWMutex
	versions map[string][]*session.Part
}

func NewMemoryService() *MemoryService {
	return &MemoryService{versions: make(map[string][]*session.Part)}
}

func copyPart(p *session.Part) *session.Part {
	out := *p
	if p.InlineData != nil {
		blob := *p.InlineData
		blob.Data = append([]byte(nil), p.InlineData.Data...)
		out.InlineData = &blob
	}
	out.FunctionCall, out.FunctionResponse = nil, nil
	return &out
}

func (m *MemoryService) Save(_ context.Context, key Key, part *session.Part) (v int, err error) {
	defer func() { observability.RecordArtifactOp("memory", "save", err == nil) }()
	if err := key.validate(); err != nil {
		return 0, err
	}
	if _, _, err := partBytes(part); err != nil {
		return 0, err
	}

	name := objectPrefix(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[name] = append(m.versions[name], copyPart(part))
	return len(m.versions[name]) - 1, nil
}

func (m *MemoryService) Load(_ context.Context, key Key, version *int) (p *session.Part, err error) {
	defer func() { observability.RecordArtifactOp("memory", "load", err == nil) }()
	if err := key.validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.versions[objectPrefix(key)]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	v := len(versions) - 1
	if version != nil {
		v = *version
	}
	if v < 0 || v >= len(versions) {
		return nil, ErrNotFound
	}
	return copyPart(versions[v]), nil
}

func (m *MemoryService) ListKeys(_ context.Context, appName, userID, sessionID string) ([]string, error) {
	prefixes := []string{
		sessionPrefix(appName, userID, sessionID),
		userPrefix(appName, userID),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for name := range m.versions {
		for _, p := range prefixes {
			if strings.HasPrefix(name, p) {
				keys = append(keys, strings.TrimSuffix(strings.TrimPrefix(name, p), "/"))
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryService) ListVersions(_ context.Context, key Key) ([]int, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.versions[objectPrefix(key)])
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out, nil
}

func (m *MemoryService) Delete(_ context.Context, key Key) error {
	if err := key.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.versions, objectPrefix(key))
	return nil
}
