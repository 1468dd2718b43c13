package ops

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/hpungsan/callcoach/internal/errors"
)

// UploadPayload is embedded in each upload credential and returned by the
// completion callback. It lets the callback trust owner and file details
// without asking the identity service again.
type UploadPayload struct {
	IngestionID string `json:"ingestion_id"`
	OwnerID     string `json:"owner_id"`

	// ProofFingerprint is the hex SHA-256 of the access proof, never the proof itself.
	ProofFingerprint string `json:"proof_fingerprint"`

	Filename    string `json:"filename"`
	CallType    string `json:"call_type,omitempty"`
	ContentType string `json:"content_type"`
	Path        string `json:"path"`

	// ExpiresAt is Unix seconds.
	ExpiresAt int64 `json:"expires_at"`
}

// Signer produces and checks HMAC-SHA256 signed payload tokens of the form
// base64url(json) "." base64url(mac).
type Signer struct {
	secret []byte
}

// NewSigner returns a signer keyed by secret.
func NewSigner(secret string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.NewInvalidRequest("signing_secret is required")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign encodes and signs the payload.
func (s *Signer) Sign(p UploadPayload) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(body) + "." + enc.EncodeToString(s.mac(body)), nil
}

// Verify checks integrity and expiry. grace extends the expiry so uploads
// that started just before it can still complete.
func (s *Signer) Verify(token string, now time.Time, grace time.Duration) (*UploadPayload, error) {
	bodyPart, sigPart, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || bodyPart == "" || sigPart == "" {
		return nil, errors.NewUnauthorized("malformed upload payload")
	}

	enc := base64.RawURLEncoding
	body, err := enc.DecodeString(bodyPart)
	if err != nil {
		return nil, errors.NewUnauthorized("malformed upload payload")
	}
	sig, err := enc.DecodeString(sigPart)
	if err != nil {
		return nil, errors.NewUnauthorized("malformed upload payload")
	}
	if !hmac.Equal(sig, s.mac(body)) {
		return nil, errors.NewUnauthorized("upload payload signature mismatch")
	}

	var p UploadPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errors.NewUnauthorized("malformed upload payload")
	}
	if now.After(time.Unix(p.ExpiresAt, 0).Add(grace)) {
		return nil, errors.NewUnauthorized("upload payload expired")
	}
	return &p, nil
}

func (s *Signer) mac(body []byte) []byte {
	m := hmac.New(sha256.New, s.secret)
	m.Write(body)
	return m.Sum(nil)
}

// proofFingerprint reduces an access proof to a stable, non-reversible id.
func proofFingerprint(proof string) string {
	sum := sha256.Sum256([]byte(proof))
	return hex.EncodeToString(sum[:])
}
