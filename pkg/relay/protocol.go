package relay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/agentkit/pkg/session"
)

// Outbound message types.
const (
	TypeInterruption = "interruption"
	TypeToolCall     = "tool_call"
	TypeToolResult   = "tool_result"
	TypeText         = "text"
	TypeImage        = "image"
	TypeAudio        = "audio"
)

// InterruptionMessage is the data of an interruption message.
const InterruptionMessage = "Response stream interrupted by user."

// Inbound blob mime types.
const (
	AudioMIMEType = "audio/pcm"
	ImageMIMEType = "image/jpeg"
)

// Message is the wire frame in both directions.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ToolCallData is the data of a tool_call message.
type ToolCallData struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResultData is the data of a tool_result message.
type ToolResultData struct {
	Name   string         `json:"name"`
	Output map[string]any `json:"output"`
}

// Encoder turns agent events into outbound messages. Text from partial
// events is buffered until the closing non-partial event arrives. An
// Encoder belongs to a single connection.
type Encoder struct {
	text strings.Builder
}

// Encode returns the message for ev, or false when nothing should be sent.
// Only the first part of an event is looked at.
func (e *Encoder) Encode(ev *session.Event) (Message, bool) {
	if ev == nil {
		return Message{}, false
	}
	if ev.Interrupted {
		return Message{Type: TypeInterruption, Data: InterruptionMessage}, true
	}

	part := ev.FirstPart()
	if part == nil {
		return Message{}, false
	}

	switch {
	case part.FunctionCall != nil:
		return Message{Type: TypeToolCall, Data: ToolCallData{
			Name: part.FunctionCall.Name,
			Args: part.FunctionCall.Args,
		}}, true

	case part.FunctionResponse != nil:
		return Message{Type: TypeToolResult, Data: ToolResultData{
			Name:   part.FunctionResponse.Name,
			Output: part.FunctionResponse.Response,
		}}, true

	case part.Text != "":
		e.text.WriteString(part.Text)
		if ev.Partial {
			return Message{}, false
		}
		full := e.text.String()
		e.text.Reset()
		return Message{Type: TypeText, Data: full}, true

	case part.InlineData != nil:
		blob := part.InlineData
		switch {
		case strings.HasPrefix(blob.MIMEType, "image/"):
			return Message{Type: TypeImage, Data: DataURI(blob)}, true
		case strings.HasPrefix(blob.MIMEType, "audio/pcm"):
			return Message{Type: TypeAudio, Data: DataURI(blob)}, true
		}
	}
	return Message{}, false
}

// DataURI renders blob as data:<mime>;base64,<payload>.
func DataURI(blob *session.Blob) string {
	return "data:" + blob.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(blob.Data)
}

// LiveRequest is one item pushed from the client towards the agent. Exactly
// one field is set.
type LiveRequest struct {
	Blob    *session.Blob
	Content *session.Content
}

type inboundMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// DecodeInbound parses a client frame. Unknown message types yield a nil
// request and no error.
func DecodeInbound(raw []byte) (*LiveRequest, string, error) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, "", fmt.Errorf("failed to decode message: %w", err)
	}

	switch msg.Type {
	case TypeAudio, TypeImage:
		data, err := decodeBase64(msg.Data)
		if err != nil {
			return nil, msg.Type, fmt.Errorf("failed to decode %s payload: %w", msg.Type, err)
		}
		mime := AudioMIMEType
		if msg.Type == TypeImage {
			mime = ImageMIMEType
		}
		return &LiveRequest{Blob: &session.Blob{MIMEType: mime, Data: data}}, msg.Type, nil
	case TypeText:
		return &LiveRequest{Content: session.NewTextContent("user", msg.Data)}, msg.Type, nil
	default:
		return nil, msg.Type, nil
	}
}

// decodeBase64 accepts plain base64 as well as a data URI.
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ";base64,"); i >= 0 {
			s = s[i+len(";base64,"):]
		}
	}
	return base64.StdEncoding.DecodeString(s)
}
