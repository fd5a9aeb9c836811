package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/harun/agentkit/internal/observability"
	"github.com/harun/agentkit/internal/tracing"
	"github.com/harun/agentkit/pkg/session"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Object names follow app/user/session/filename/version, with "user" in
// place of the session for user-scoped files.

func sessionPrefix(app, user, sessionID string) string {
	return app + "/" + user + "/" + sessionID + "/"
}

func userPrefix(app, user string) string {
	return app + "/" + user + "/user/"
}

// objectPrefix is the name shared by every version of key, ending in "/".
func objectPrefix(k Key) string {
	if k.UserScoped() {
		return userPrefix(k.AppName, k.UserID) + k.Filename + "/"
	}
	return sessionPrefix(k.AppName, k.UserID, k.SessionID) + k.Filename + "/"
}

func objectName(k Key, version int) string {
	return objectPrefix(k) + strconv.Itoa(version)
}

type GCSConfig struct {
	Bucket          string
	CredentialsFile string
	// Endpoint overrides the storage API endpoint, e.g. for an emulator.
	Endpoint string
}

// GCSService stores artifacts as objects in one bucket. The part MIME type
// becomes the object ContentType.
type GCSService struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// NewGCSService creates a storage client from cfg. An empty CredentialsFile
// falls back to application default credentials.
func NewGCSService(ctx context.Context, cfg GCSConfig) (*GCSService, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return NewGCSServiceWithClient(client, cfg.Bucket)
}

// NewGCSServiceWithClient wraps an existing client.
func NewGCSServiceWithClient(client *storage.Client, bucket string) (*GCSService, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &GCSService{client: client, bucket: client.Bucket(bucket), name: bucket}, nil
}

func (g *GCSService) Close() error { return g.client.Close() }

func (g *GCSService) span(ctx context.Context, op string, key Key) (context.Context, func(*error)) {
	ctx, span := tracing.StartSpan(ctx, "agentkit.artifact", "artifact."+op,
		attribute.String("bucket", g.name),
		attribute.String("filename", key.Filename),
	)
	return ctx, func(errp *error) {
		ok := *errp == nil || errors.Is(*errp, ErrNotFound)
		if !ok {
			tracing.Fail(span, *errp)
		}
		observability.RecordArtifactOp("gcs", op, ok)
		span.End()
	}
}

func (g *GCSService) Save(ctx context.Context, key Key, part *session.Part) (version int, err error) {
	ctx, done := g.span(ctx, "save", key)
	defer done(&err)

	if err := key.validate(); err != nil {
		return 0, err
	}
	data, mime, err := partBytes(part)
	if err != nil {
		return 0, err
	}

	versions, err := g.ListVersions(ctx, key)
	if err != nil {
		return 0, err
	}
	if len(versions) > 0 {
		version = versions[len(versions)-1] + 1
	}

	// DoesNotExist makes a concurrent writer of the same version fail
	// instead of overwriting.
	w := g.bucket.Object(objectName(key, version)).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = mime
	if _, err := w.Write(data); err != nil {
		w.Close()
		return 0, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to write artifact: %w", err)
	}
	return version, nil
}

func (g *GCSService) Load(ctx context.Context, key Key, version *int) (part *session.Part, err error) {
	ctx, done := g.span(ctx, "load", key)
	defer done(&err)

	if err := key.validate(); err != nil {
		return nil, err
	}
	v := 0
	if version != nil {
		v = *version
	} else {
		versions, err := g.ListVersions(ctx, key)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, ErrNotFound
		}
		v = versions[len(versions)-1]
	}

	r, err := g.bucket.Object(objectName(key, v)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return NewBytesPart(data, r.Attrs.ContentType), nil
}

// list returns the object names under prefix.
func (g *GCSService) list(ctx context.Context, prefix string) ([]string, error) {
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list artifacts: %w", err)
		}
		names = append(names, attrs.Name)
	}
}

func (g *GCSService) ListKeys(ctx context.Context, appName, userID, sessionID string) ([]string, error) {
	seen := map[string]bool{}
	for _, prefix := range []string{sessionPrefix(appName, userID, sessionID), userPrefix(appName, userID)} {
		names, err := g.list(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if filename, _, ok := splitObjectName(strings.TrimPrefix(n, prefix)); ok {
				seen[filename] = true
			}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (g *GCSService) ListVersions(ctx context.Context, key Key) ([]int, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	prefix := objectPrefix(key)
	names, err := g.list(ctx, prefix)
	if err != nil {
		return nil, err
	}
	versions := make([]int, 0, len(names))
	for _, n := range names {
		if v, err := strconv.Atoi(strings.TrimPrefix(n, prefix)); err == nil {
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)
	return versions, nil
}

func (g *GCSService) Delete(ctx context.Context, key Key) (err error) {
	ctx, done := g.span(ctx, "delete", key)
	defer done(&err)

	versions, err := g.ListVersions(ctx, key)
	if err != nil {
		return err
	}
	for _, v := range versions {
		err := g.bucket.Object(objectName(key, v)).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("failed to delete artifact version %d: %w", v, err)
		}
	}
	return nil
}

// splitObjectName splits "filename/version" relative to a scope prefix.
func splitObjectName(rel string) (string, int, bool) {
	i := strings.LastIndex(rel, "/")
	if i <= 0 {
		return "", 0, false
	}
	v, err := strconv.Atoi(rel[i+1:])
	if err != nil {
		return "", 0, false
	}
	return rel[:i], v, true
}
