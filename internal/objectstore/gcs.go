package objectstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS is a Store backed by a Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	root   string
}

// NewGCS opens a client for bucket. credentialsFile may be empty to use
// application default credentials.
func NewGCS(ctx context.Context, bucket, root, credentialsFile string) (*GCS, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{client: client, bucket: client.Bucket(bucket), root: root}, nil
}

// Close releases the client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// IssueUploadCredential signs a V4 PUT URL bound to the content type and metadata headers.
func (g *GCS) IssueUploadCredential(_ context.Context, req UploadRequest) (UploadCredential, error) {
	if !slices.Contains(req.AllowedTypes, req.ContentType) {
		return UploadCredential{}, fmt.Errorf("content type %q not allowed", req.ContentType)
	}

	expires := time.Now().Add(req.TTL)
	headers := uploadHeaders(req)

	var signed []string
	for k, v := range headers {
		if k == "Content-Type" {
			continue
		}
		signed = append(signed, k+":"+v)
	}
	sort.Strings(signed)

	url, err := g.bucket.SignedURL(req.Path, &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      http.MethodPut,
		ContentType: req.ContentType,
		Headers:     signed,
		Expires:     expires,
	})
	if err != nil {
		return UploadCredential{}, fmt.Errorf("sign upload url: %w", err)
	}

	return UploadCredential{
		URL:       url,
		Method:    http.MethodPut,
		Headers:   headers,
		ExpiresAt: expires,
	}, nil
}

// SignedReadURL returns a short-lived GET URL the transcription backend can fetch.
func (g *GCS) SignedReadURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	url, err := g.bucket.SignedURL(path, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign read url: %w", err)
	}
	return url, nil
}

// List iterates the bucket under prefix.
func (g *GCS) List(ctx context.Context, prefix string) ([]Object, error) {
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: prefix})

	var out []Object
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		out = append(out, Object{
			Path:        attrs.Name,
			OwnerPrefix: OwnerPrefix(g.root, attrs.Name),
			SizeBytes:   attrs.Size,
			UploadedAt:  attrs.Created,
		})
	}
	return out, nil
}

// Delete removes the object. A missing object counts as deleted.
func (g *GCS) Delete(ctx context.Context, path string) error {
	err := g.bucket.Object(path).Delete(ctx)
	if err == nil || stderrors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	var gerr *googleapi.Error
	if stderrors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("failed to delete %s: %w", path, err)
}
