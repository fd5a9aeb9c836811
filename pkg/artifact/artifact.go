// Package artifact stores versioned binary artifacts (files produced or
// consumed by agents) in Google Cloud Storage or in memory.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/agentkit/pkg/session"
)

// UserNamespacePrefix marks a filename shared by every session of a user.
const UserNamespacePrefix = "user:"

// ErrNotFound is returned when an artifact or version does not exist.
var ErrNotFound = errors.New("artifact not found")

// Key identifies an artifact across its versions.
type Key struct {
	AppName   string
	UserID    string
	SessionID string
	Filename  string
}

// UserScoped reports whether the filename lives in the user namespace.
func (k Key) UserScoped() bool {
	return strings.HasPrefix(k.Filename, UserNamespacePrefix)
}

func (k Key) validate() error {
	switch {
	case k.AppName == "":
		return errors.New("app name is required")
	case k.UserID == "":
		return errors.New("user ID is required")
	case k.Filename == "":
		return errors.New("filename is required")
	case !k.UserScoped() && k.SessionID == "":
		return errors.New("session ID is required")
	case strings.Contains(k.Filename, "/"):
		return fmt.Errorf("filename %q must not contain '/'", k.Filename)
	}
	return nil
}

// Service is implemented by every artifact backend. Versions start at 0 and
// grow by one on every Save.
type Service interface {
	Save(ctx context.Context, key Key, part *session.Part) (int, error)
	// Load returns the given version, or the latest when version is nil.
	Load(ctx context.Context, key Key, version *int) (*session.Part, error)
	// ListKeys returns the filenames visible to a session, including the
	// user-scoped ones, sorted.
	ListKeys(ctx context.Context, appName, userID, sessionID string) ([]string, error)
	ListVersions(ctx context.Context, key Key) ([]int, error)
	Delete(ctx context.Context, key Key) error
}

// partBytes returns the payload and MIME type stored for part. Text parts
// are stored as text/plain.
func partBytes(part *session.Part) ([]byte, string, error) {
	switch {
	case part == nil:
		return nil, "", errors.New("artifact part is required")
	case part.InlineData != nil:
		mime := part.InlineData.MIMEType
		if mime == "" {
			mime = "application/octet-stream"
		}
		return part.InlineData.Data, mime, nil
	case part.Text != "":
		return []byte(part.Text), "text/plain", nil
	default:
		return nil, "", errors.New("artifact part has no data")
	}
}

// NewBytesPart builds an inline-data part.
func NewBytesPart(data []byte, mimeType string) *session.Part {
	return &session.Part{InlineData: &session.Blob{MIMEType: mimeType, Data: data}}
}
