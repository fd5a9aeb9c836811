package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// StateTempPrefix marks state keys that live only for the current turn.
const StateTempPrefix = "temp:"

// Session is one conversation between a user and an app.
type Session struct {
	ID             string         `json:"id"`
	AppName        string         `json:"appName"`
	UserID         string         `json:"userId"`
	State          map[string]any `json:"state"`
	Events         []*Event       `json:"events"`
	LastUpdateTime float64        `json:"lastUpdateTime"`
}

// UpdatedAt returns LastUpdateTime as a time.
func (s *Session) UpdatedAt() time.Time {
	return fromUnix(s.LastUpdateTime)
}

// Event is one entry of the conversation history.
type Event struct {
	ID           string       `json:"id"`
	InvocationID string       `json:"invocationId,omitempty"`
	Author       string       `json:"author"`
	Content      *Content     `json:"content,omitempty"`
	Partial      bool         `json:"partial,omitempty"`
	TurnComplete bool         `json:"turnComplete,omitempty"`
	Interrupted  bool         `json:"interrupted,omitempty"`
	Actions      EventActions `json:"actions"`
	Timestamp    float64      `json:"timestamp"`
}

// EventActions carries side effects of an event.
type EventActions struct {
	StateDelta map[string]any `json:"stateDelta,omitempty"`
}

// Content is a role-tagged list of parts.
type Content struct {
	Role  string  `json:"role"`
	Parts []*Part `json:"parts"`
}

// Part holds exactly one of its fields.
type Part struct {
	Text             string            `json:"text,omitempty"`
	InlineData       *Blob             `json:"inlineData,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// Blob is inline binary data.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// NewEvent returns an event with a fresh ID and the current timestamp.
func NewEvent(invocationID, author string, content *Content) *Event {
	return &Event{
		ID:           uuid.NewString(),
		InvocationID: invocationID,
		Author:       author,
		Content:      content,
		Timestamp:    toUnix(time.Now()),
	}
}

// NewTextEvent is NewEvent with a single text part.
func NewTextEvent(invocationID, author, text string) *Event {
	role := "model"
	if author == "user" {
		role = "user"
	}
	return NewEvent(invocationID, author, NewTextContent(role, text))
}

// NewTextContent builds content with one text part.
func NewTextContent(role, text string) *Content {
	return &Content{Role: role, Parts: []*Part{{Text: text}}}
}

// Text concatenates the text parts of the event.
func (e *Event) Text() string {
	if e == nil || e.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range e.Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// FunctionCalls returns the function calls carried by the event.
func (e *Event) FunctionCalls() []*FunctionCall {
	if e == nil || e.Content == nil {
		return nil
	}
	var calls []*FunctionCall
	for _, p := range e.Content.Parts {
		if p != nil && p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

// FirstPart returns the first part of the event content, or nil.
func (e *Event) FirstPart() *Part {
	if e == nil || e.Content == nil || len(e.Content.Parts) == 0 {
		return nil
	}
	return e.Content.Parts[0]
}

func toUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnix(sec float64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(sec*float64(time.Second)))
}
