// Package identity verifies access proofs against the account service.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hpungsan/callcoach/internal/errors"
)

// Verifier resolves an access proof to the owner it belongs to.
// Invalid proofs yield an UNAUTHORIZED CoachError.
type Verifier interface {
	Verify(ctx context.Context, accessProof string) (ownerID string, err error)
}

// Static verifies proofs against a fixed token → owner map.
type Static map[string]string

// Verify implements Verifier.
func (s Static) Verify(_ context.Context, accessProof string) (string, error) {
	owner, ok := s[strings.TrimSpace(accessProof)]
	if !ok || accessProof == "" {
		return "", errors.NewUnauthorized("")
	}
	return owner, nil
}

// HTTPVerifier calls a verify endpoint that answers 200 {"owner_id": "..."}
// for a valid bearer proof and 401/403 otherwise.
type HTTPVerifier struct {
	url        string
	httpClient *http.Client
	maxElapsed time.Duration
}

// NewHTTPVerifier creates a verifier for the endpoint at url.
func NewHTTPVerifier(url string) *HTTPVerifier {
	return &HTTPVerifier{
		url:        url,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		maxElapsed: 5 * time.Second,
	}
}

type verifyResponse struct {
	OwnerID string `json:"owner_id"`
}

// Verify implements Verifier. Transport and 5xx failures are retried; a
// rejection is returned immediately.
func (v *HTTPVerifier) Verify(ctx context.Context, accessProof string) (string, error) {
	if strings.TrimSpace(accessProof) == "" {
		return "", errors.NewUnauthorized("access proof is required")
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = v.maxElapsed

	var owner string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
		if err != nil {
			return backoff.Permanent(errors.NewInternal(err))
		}
		req.Header.Set("Authorization", "Bearer "+accessProof)

		resp, err := v.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(errors.NewUnauthorized(""))
		case resp.StatusCode >= 500:
			return fmt.Errorf("identity service error %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(errors.NewUnauthorized(fmt.Sprintf("identity service answered %d", resp.StatusCode)))
		}

		var out verifyResponse
		if err := json.Unmarshal(body, &out); err != nil || out.OwnerID == "" {
			return backoff.Permanent(errors.NewInternal(fmt.Errorf("identity service: bad response body")))
		}
		owner = out.OwnerID
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if errors.Is(err, errors.ErrUnauthorized) || errors.Is(err, errors.ErrInternal) {
			return "", err
		}
		return "", errors.NewInternal(fmt.Errorf("identity service unavailable: %w", err))
	}
	return owner, nil
}
