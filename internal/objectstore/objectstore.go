// Package objectstore is the remote object storage collaborator: upload
// credentials, signed reads, listing and deletes, namespaced by owner prefix.
package objectstore

import (
	"context"
	"path"
	"strings"
	"time"
)

// Object describes one stored object. It is read from the store, never persisted.
type Object struct {
	Path        string    `json:"path"`
	OwnerPrefix string    `json:"owner_prefix"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// UploadRequest asks for a credential to PUT one object.
type UploadRequest struct {
	Path        string
	ContentType string
	// AllowedTypes is the feature's allowed set; ContentType must be one of them.
	AllowedTypes []string
	// Metadata is attached to the object (x-goog-meta-* headers).
	Metadata map[string]string
	TTL      time.Duration
}

// UploadCredential is what a client needs to upload directly to the store.
type UploadCredential struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Store is implemented by the GCS and in-memory backends.
type Store interface {
	IssueUploadCredential(ctx context.Context, req UploadRequest) (UploadCredential, error)
	SignedReadURL(ctx context.Context, path string, ttl time.Duration) (string, error)
	// List returns every object under prefix ("" for all).
	List(ctx context.Context, prefix string) ([]Object, error)
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error
}

// MetadataHeader is the header prefix for custom object metadata.
const MetadataHeader = "x-goog-meta-"

// OwnerPrefix returns the "{root}/{owner}/" prefix of an object path.
// Paths without an owner segment return "".
func OwnerPrefix(root, objectPath string) string {
	rest := objectPath
	if root != "" {
		r := strings.TrimSuffix(root, "/") + "/"
		if !strings.HasPrefix(objectPath, r) {
			return ""
		}
		rest = strings.TrimPrefix(objectPath, r)
		owner, _, ok := strings.Cut(rest, "/")
		if !ok || owner == "" {
			return ""
		}
		return r + owner + "/"
	}
	owner, _, ok := strings.Cut(rest, "/")
	if !ok || owner == "" {
		return ""
	}
	return owner + "/"
}

// OwnerFromPrefix extracts the owner id from an owner prefix.
func OwnerFromPrefix(prefix string) string {
	return path.Base(strings.TrimSuffix(prefix, "/"))
}

// ObjectPath builds "{root}/{owner}/{name}".
func ObjectPath(root, owner, name string) string {
	if root == "" {
		return owner + "/" + name
	}
	return strings.TrimSuffix(root, "/") + "/" + owner + "/" + name
}

// uploadHeaders returns the headers a client must send with the PUT.
func uploadHeaders(req UploadRequest) map[string]string {
	h := map[string]string{"Content-Type": req.ContentType}
	for k, v := range req.Metadata {
		h[MetadataHeader+k] = v
	}
	return h
}
