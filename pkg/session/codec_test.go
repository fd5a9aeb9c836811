package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		check  func(t *testing.T, r record)
	}{
		{
			name:  "renames identifying fields",
			input: `{"app_name":"a","user_id":"u","last_update_time":12.5}`,
			check: func(t *testing.T, r record) {
				assert.Equal(t, "a", r["appName"])
				assert.Equal(t, "u", r["userId"])
				assert.Equal(t, 12.5, r["lastUpdateTime"])
				assert.NotContains(t, r, "app_name")
			},
		},
		{
			name:  "snake_case wins over camelCase",
			input: `{"appName":"old","app_name":"new"}`,
			check: func(t *testing.T, r record) {
				assert.Equal(t, "new", r["appName"])
			},
		},
		{
			name:  "drops created_at",
			input: `{"created_at":1}`,
			check: func(t *testing.T, r record) {
				assert.NotContains(t, r, "created_at")
			},
		},
		{
			name:  "empties events when the first lacks an author",
			input: `{"events":[{"id":"e1"},{"author":"user"}]}`,
			check: func(t *testing.T, r record) {
				assert.Equal(t, []any{}, r["events"])
			},
		},
		{
			name:  "keeps events when the first has an author",
			input: `{"events":[{"author":"user"},{"id":"no-author"}]}`,
			check: func(t *testing.T, r record) {
				assert.Len(t, r["events"], 2)
			},
		},
		{
			name:  "fills missing state and events",
			input: `{}`,
			check: func(t *testing.T, r record) {
				assert.Equal(t, map[string]any{}, r["state"])
				assert.Equal(t, []any{}, r["events"])
			},
		},
		{
			name: "renames event fields but not user payloads",
			input: `{"events":[{"author":"agent","turn_complete":true,
				"actions":{"state_delta":{"user_pref":1}},
				"content":{"parts":[{"inline_data":{"mime_type":"image/png","data":""}},
					{"function_call":{"name":"t","args":{"snake_arg":1}}}]}}]}`,
			check: func(t *testing.T, r record) {
				ev := r["events"].([]any)[0].(map[string]any)
				assert.Equal(t, true, ev["turnComplete"])
				delta := ev["actions"].(map[string]any)["stateDelta"].(map[string]any)
				assert.Contains(t, delta, "user_pref")
				parts := ev["content"].(map[string]any)["parts"].([]any)
				blob := parts[0].(map[string]any)["inlineData"].(map[string]any)
				assert.Equal(t, "image/png", blob["mimeType"])
				args := parts[1].(map[string]any)["functionCall"].(map[string]any)["args"].(map[string]any)
				assert.Contains(t, args, "snake_arg")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r record
			require.NoError(t, json.Unmarshal([]byte(tt.input), &r))
			normalize(r)
			tt.check(t, r)
		})
	}
}

func TestToRecord(t *testing.T) {
	sess := &Session{ID: "s", AppName: "a", UserID: "u", State: map[string]any{"k": "v"}}

	inputs := map[string]any{
		"pointer":     sess,
		"value":       *sess,
		"map":         map[string]any{"id": "s", "appName": "a", "userId": "u", "state": map[string]any{"k": "v"}},
		"bytes":       []byte(`{"id":"s","appName":"a","userId":"u","state":{"k":"v"}}`),
		"raw message": json.RawMessage(`{"id":"s","appName":"a","userId":"u","state":{"k":"v"}}`),
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			r, err := toRecord(in)
			require.NoError(t, err)
			assert.Equal(t, "a", r.str("appName"))
			assert.Equal(t, "u", r.str("userId"))
		})
	}

	t.Run("copies maps", func(t *testing.T) {
		src := map[string]any{"state": map[string]any{"temp:x": 1}}
		r, err := toRecord(src)
		require.NoError(t, err)
		stripTemp(r)
		assert.Contains(t, src["state"], "temp:x")
	})

	t.Run("rejects non-objects", func(t *testing.T) {
		_, err := toRecord([]byte(`[1,2]`))
		assert.Error(t, err)
		_, err = toRecord(nil)
		assert.Error(t, err)
		_, err = toRecord([]byte(`null`))
		assert.Error(t, err)
	})
}

func TestEncodeDecode(t *testing.T) {
	r := record{
		"appName": "a",
		"userId":  "u",
		"state":   map[string]any{"temp:t": 1, "keep": "yes"},
		"events":  []any{},
	}
	data, err := encode("sid", r, 1700000000)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"created_at":1700000000`)
	assert.NotContains(t, string(data), "temp:t")

	sess, err := decode(data)
	require.NoError(t, err)
	assert.Equal(t, "sid", sess.ID)
	assert.Equal(t, "yes", sess.State["keep"])
}
