package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	size        int64
	uploadedAt  time.Time
	contentType string
	metadata    map[string]string
}

// Memory is an in-process Store for local runs and tests.
type Memory struct {
	mu      sync.Mutex
	bucket  string
	root    string
	objects map[string]*memObject
	failing map[string]error
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory(bucket, root string) *Memory {
	return &Memory{
		bucket:  bucket,
		root:    root,
		objects: make(map[string]*memObject),
		failing: make(map[string]error),
		now:     time.Now,
	}
}

// Put stores an object as if a client had uploaded it.
func (m *Memory) Put(path string, size int64, uploadedAt time.Time, contentType string, metadata map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = &memObject{size: size, uploadedAt: uploadedAt, contentType: contentType, metadata: metadata}
}

// Exists reports whether path is stored.
func (m *Memory) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok
}

// Metadata returns the custom metadata of a stored object.
func (m *Memory) Metadata(path string) (map[string]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[path]
	if !ok {
		return nil, false
	}
	return o.metadata, true
}

// FailDeletes makes Delete on path return err until cleared with a nil err.
func (m *Memory) FailDeletes(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failing, path)
		return
	}
	m.failing[path] = err
}

func (m *Memory) IssueUploadCredential(_ context.Context, req UploadRequest) (UploadCredential, error) {
	if !slices.Contains(req.AllowedTypes, req.ContentType) {
		return UploadCredential{}, fmt.Errorf("content type %q not allowed", req.ContentType)
	}
	expires := m.now().Add(req.TTL)
	return UploadCredential{
		URL:       m.url(req.Path, expires),
		Method:    "PUT",
		Headers:   uploadHeaders(req),
		ExpiresAt: expires,
	}, nil
}

func (m *Memory) SignedReadURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	if !m.Exists(path) {
		return "", fmt.Errorf("object %s does not exist", path)
	}
	return m.url(path, m.now().Add(ttl)), nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Object, 0, len(m.objects))
	for p, o := range m.objects {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		out = append(out, Object{
			Path:        p,
			OwnerPrefix: OwnerPrefix(m.root, p),
			SizeBytes:   o.size,
			UploadedAt:  o.uploadedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failing[path]; ok {
		return err
	}
	delete(m.objects, path)
	return nil
}

func (m *Memory) url(path string, expires time.Time) string {
	u := url.URL{Scheme: "memory", Host: m.bucket, Path: "/" + path}
	q := u.Query()
	q.Set("expires", fmt.Sprint(expires.Unix()))
	u.RawQuery = q.Encode()
	return u.String()
}
