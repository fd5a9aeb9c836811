package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Stored records may come from writers that use snake_case field names. The
// codec below is the only place that knows about either spelling.

const createdAtKey = "created_at"

// recordKeys renames top-level session fields.
var recordKeys = map[string]string{
	"app_name":         "appName",
	"user_id":          "userId",
	"last_update_time": "lastUpdateTime",
}

// eventKeys renames fields inside events, their content and actions. User
// payloads (state values, function args and responses) are never touched.
var eventKeys = map[string]string{
	"invocation_id":     "invocationId",
	"turn_complete":     "turnComplete",
	"state_delta":       "stateDelta",
	"inline_data":       "inlineData",
	"mime_type":         "mimeType",
	"function_call":     "functionCall",
	"function_response": "functionResponse",
}

// record is the at-rest shape of a session.
type record map[string]any

func (r record) str(key string) string {
	s, _ := r[key].(string)
	return s
}

// normalize rewrites r in place into the canonical camelCase form:
// snake_case identifying fields are renamed, created_at is dropped and an
// event list whose first entry has no author is emptied.
func normalize(r record) {
	renameKeys(r, recordKeys)
	delete(r, createdAtKey)

	if _, ok := r["state"].(map[string]any); !ok {
		r["state"] = map[string]any{}
	}

	events, _ := r["events"].([]any)
	if len(events) > 0 {
		first, ok := events[0].(map[string]any)
		if !ok || first["author"] == nil {
			events = nil
		}
	}
	for _, raw := range events {
		if ev, ok := raw.(map[string]any); ok {
			normalizeEvent(ev)
		}
	}
	if events == nil {
		events = []any{}
	}
	r["events"] = events
}

func normalizeEvent(ev map[string]any) {
	renameKeys(ev, eventKeys)
	if actions, ok := ev["actions"].(map[string]any); ok {
		renameKeys(actions, eventKeys)
	}
	content, ok := ev["content"].(map[string]any)
	if !ok {
		return
	}
	parts, _ := content["parts"].([]any)
	for _, raw := range parts {
		part, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		renameKeys(part, eventKeys)
		if blob, ok := part["inlineData"].(map[string]any); ok {
			renameKeys(blob, eventKeys)
		}
	}
}

// renameKeys moves snake_case keys onto their camelCase names. A snake_case
// value replaces an existing camelCase value.
func renameKeys(m map[string]any, names map[string]string) {
	for from, to := range names {
		if v, ok := m[from]; ok {
			m[to] = v
			delete(m, from)
		}
	}
}

// stripTemp removes turn-scoped keys from the record state and from every
// event's state delta.
func stripTemp(r record) {
	if state, ok := r["state"].(map[string]any); ok {
		dropTempKeys(state)
	}
	events, _ := r["events"].([]any)
	for _, raw := range events {
		ev, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		actions, ok := ev["actions"].(map[string]any)
		if !ok {
			continue
		}
		if delta, ok := actions["stateDelta"].(map[string]any); ok {
			dropTempKeys(delta)
		}
	}
}

func dropTempKeys(m map[string]any) {
	for k := range m {
		if strings.HasPrefix(k, StateTempPrefix) {
			delete(m, k)
		}
	}
}

// toRecord converts whatever a caller hands to Update into a record.
// Accepted: *Session, Session, map[string]any, record, []byte,
// json.RawMessage, string, or any value that marshals to a JSON object.
func toRecord(v any) (record, error) {
	var data []byte
	switch t := v.(type) {
	case nil:
		return nil, fmt.Errorf("session record is nil")
	case record:
		return deepCopy(map[string]any(t))
	case map[string]any:
		return deepCopy(t)
	case []byte:
		data = t
	case json.RawMessage:
		data = t
	case string:
		data = []byte(t)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session record: %w", err)
		}
		data = b
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}
	if r == nil {
		return nil, fmt.Errorf("session record is not a JSON object")
	}
	return r, nil
}

func deepCopy(m map[string]any) (record, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session record: %w", err)
	}
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("failed to copy session record: %w", err)
	}
	return r, nil
}

// decode turns stored bytes into a Session.
func decode(data []byte) (*Session, error) {
	r, err := toRecord(data)
	if err != nil {
		return nil, err
	}
	normalize(r)
	return r.session()
}

func (r record) session() (*Session, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session record: %w", err)
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if s.State == nil {
		s.State = map[string]any{}
	}
	if s.Events == nil {
		s.Events = []*Event{}
	}
	return &s, nil
}

// encode prepares r for storage: normalized, temp keys stripped, id pinned.
// A non-zero createdAt is stamped as created_at.
func encode(id string, r record, createdAt int64) ([]byte, error) {
	normalize(r)
	stripTemp(r)
	r["id"] = id
	if createdAt > 0 {
		r[createdAtKey] = createdAt
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return data, nil
}
