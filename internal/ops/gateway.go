package ops

import (
	"context"
	"database/sql"
	stderrors "errors"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hpungsan/callcoach/internal/analysis"
	"github.com/hpungsan/callcoach/internal/config"
	"github.com/hpungsan/callcoach/internal/db"
	"github.com/hpungsan/callcoach/internal/errors"
	"github.com/hpungsan/callcoach/internal/identity"
	"github.com/hpungsan/callcoach/internal/objectstore"
)

// callbackGrace is accepted past the credential expiry for uploads that
// started just before it lapsed. The sweeper also waits TTL plus this grace
// before releasing a pending path.
const callbackGrace = 5 * time.Minute

// Gateway issues upload credentials and turns completed uploads into ingestions.
type Gateway struct {
	DB       *sql.DB
	Store    objectstore.Store
	Identity identity.Verifier
	Signer   *Signer
	Queue    Enqueuer
	Log      *logrus.Entry

	ObjectPrefix string
	TTL          time.Duration
}

// NewGateway wires a gateway from config.
func NewGateway(database *sql.DB, cfg *config.Config, store objectstore.Store, verifier identity.Verifier,
	signer *Signer, queue Enqueuer, log *logrus.Entry) *Gateway {
	return &Gateway{
		DB:           database,
		Store:        store,
		Identity:     verifier,
		Signer:       signer,
		Queue:        queue,
		Log:          log,
		ObjectPrefix: cfg.ObjectPrefix,
		TTL:          cfg.UploadURLTTL(),
	}
}

// CredentialInput contains parameters for RequestUploadCredential.
type CredentialInput struct {
	AccessProof string
	OwnerID     string  // optional; must match the verified owner when set
	Feature     Feature // default: recording
	Filename    string
	ContentType string
	CallType    string
}

// CredentialOutput is returned to the uploading client.
type CredentialOutput struct {
	IngestionID   string                       `json:"ingestion_id"`
	OperationID   string                       `json:"operation_id"`
	ObjectPath    string                       `json:"object_path"`
	UploadTarget  objectstore.UploadCredential `json:"upload_target"`
	SignedPayload string                       `json:"signed_payload"`
}

// RequestUploadCredential verifies the caller, checks the media type, reserves
// the object path with a pending ingestion and returns a signed upload target.
func (g *Gateway) RequestUploadCredential(ctx context.Context, input CredentialInput) (*CredentialOutput, error) {
	owner, err := g.Identity.Verify(ctx, input.AccessProof)
	if err != nil {
		return nil, err
	}
	if claimed := strings.TrimSpace(input.OwnerID); claimed != "" && claimed != owner {
		return nil, errors.NewUnauthorized("access proof does not belong to owner " + claimed)
	}

	if strings.TrimSpace(input.Filename) == "" {
		return nil, errors.NewInvalidRequest("filename is required")
	}
	feature := input.Feature
	if feature == "" {
		feature = FeatureRecording
	}
	allowed := AllowedMediaTypes(feature)
	if allowed == nil {
		return nil, errors.NewInvalidRequest("unknown feature: " + string(feature))
	}
	contentType := normalizeContentType(input.ContentType)
	if !slices.Contains(allowed, contentType) {
		return nil, errors.NewUnsupportedMediaType(input.ContentType, allowed)
	}

	now := time.Now()
	id := newID()
	path := objectstore.ObjectPath(g.ObjectPrefix, owner, id+"-"+sanitizeFilename(input.Filename))
	callType := strings.TrimSpace(input.CallType)

	token, err := g.Signer.Sign(UploadPayload{
		IngestionID:      id,
		OwnerID:          owner,
		ProofFingerprint: proofFingerprint(input.AccessProof),
		Filename:         input.Filename,
		CallType:         callType,
		ContentType:      contentType,
		Path:             path,
		ExpiresAt:        now.Add(g.TTL).Unix(),
	})
	if err != nil {
		return nil, err
	}

	rec := &analysis.IngestionRecord{
		ID:               id,
		OwnerID:          owner,
		SourceObjectRef:  path,
		OperationID:      newID(),
		Status:           analysis.StatusPending,
		CallType:         callType,
		OriginalFilename: input.Filename,
		ContentType:      contentType,
		CreatedAt:        now.UnixMilli(),
		UpdatedAt:        now.UnixMilli(),
	}
	if err := db.InsertIngestion(ctx, g.DB, rec); err != nil {
		return nil, err
	}

	cred, err := g.Store.IssueUploadCredential(ctx, objectstore.UploadRequest{
		Path:         path,
		ContentType:  contentType,
		AllowedTypes: allowed,
		Metadata:     map[string]string{UploadMetadataKey: token},
		TTL:          g.TTL,
	})
	if err != nil {
		if _, ferr := db.FailIngestion(ctx, g.DB, id, analysis.ReasonProcessingFailed, err.Error()); ferr != nil {
			g.Log.WithError(ferr).WithField("ingestion_id", id).Error("failed to persist credential failure")
		}
		return nil, errors.NewProcessingFailed("could not issue upload credential")
	}

	g.Log.WithFields(logrus.Fields{
		"ingestion_id": id,
		"owner_id":     owner,
		"path":         path,
	}).Info("upload credential issued")

	return &CredentialOutput{
		IngestionID:   id,
		OperationID:   rec.OperationID,
		ObjectPath:    path,
		UploadTarget:  cred,
		SignedPayload: token,
	}, nil
}

// CompleteInput contains parameters for OnUploadCompleted.
type CompleteInput struct {
	ObjectRef     string
	SignedPayload string
}

// CompleteOutput describes the ingestion after the callback.
type CompleteOutput struct {
	Ingestion *analysis.IngestionRecord `json:"ingestion"`

	// Duplicate is set when the object was already handed off before.
	Duplicate bool `json:"duplicate"`
}

// OnUploadCompleted verifies the payload, moves the ingestion to uploaded and
// enqueues it. Repeated callbacks for the same object are no-ops. When the
// handoff fails the uploaded object is deleted and the record marked failed.
func (g *Gateway) OnUploadCompleted(ctx context.Context, input CompleteInput) (*CompleteOutput, error) {
	ref := strings.TrimSpace(input.ObjectRef)
	if ref == "" {
		return nil, errors.NewInvalidRequest("object_ref is required")
	}
	payload, err := g.Signer.Verify(input.SignedPayload, time.Now(), callbackGrace)
	if err != nil {
		return nil, err
	}
	if payload.Path != ref {
		return nil, errors.NewInvalidRequest("object_ref does not match the signed upload path")
	}

	log := g.Log.WithFields(logrus.Fields{
		"ingestion_id": payload.IngestionID,
		"owner_id":     payload.OwnerID,
		"path":         ref,
	})

	rec, err := db.GetIngestionBySourceRef(ctx, g.DB, ref)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		rec, err = g.createUploaded(ctx, payload)
		if stderrors.Is(err, db.ErrUniqueConstraint) {
			return g.existing(ctx, ref)
		}
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case rec.Status != analysis.StatusPending:
		return &CompleteOutput{Ingestion: rec, Duplicate: true}, nil
	default:
		err = db.TransitionIngestion(ctx, g.DB, rec.ID, analysis.StatusPending, analysis.StatusUploaded, db.IngestionPatch{})
		if errors.Is(err, errors.ErrConflict) {
			return g.existing(ctx, ref)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := g.Queue.Enqueue(ctx, rec.ID); err != nil {
		if errors.Is(err, errors.ErrConflict) {
			return g.existing(ctx, ref)
		}
		log.WithError(err).Error("enqueue failed, removing uploaded object")
		if derr := g.Store.Delete(context.WithoutCancel(ctx), ref); derr != nil {
			log.WithError(derr).Error("failed to delete orphaned object")
		}
		if _, ferr := db.FailIngestion(context.WithoutCancel(ctx), g.DB, rec.ID, analysis.ReasonProcessingFailed, err.Error()); ferr != nil {
			log.WithError(ferr).Error("failed to persist handoff failure")
		}
		return nil, errors.NewProcessingFailed("upload could not be handed to transcription")
	}

	rec, err = db.GetIngestion(ctx, g.DB, rec.ID)
	if err != nil {
		return nil, err
	}
	log.Info("upload handed off")
	return &CompleteOutput{Ingestion: rec}, nil
}

// createUploaded covers a callback whose pending record is missing.
func (g *Gateway) createUploaded(ctx context.Context, p *UploadPayload) (*analysis.IngestionRecord, error) {
	now := nowMillis()
	rec := &analysis.IngestionRecord{
		ID:               p.IngestionID,
		OwnerID:          p.OwnerID,
		SourceObjectRef:  p.Path,
		OperationID:      newID(),
		Status:           analysis.StatusUploaded,
		CallType:         p.CallType,
		OriginalFilename: p.Filename,
		ContentType:      p.ContentType,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := db.InsertIngestion(ctx, g.DB, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (g *Gateway) existing(ctx context.Context, ref string) (*CompleteOutput, error) {
	rec, err := db.GetIngestionBySourceRef(ctx, g.DB, ref)
	if err != nil {
		return nil, err
	}
	return &CompleteOutput{Ingestion: rec, Duplicate: true}, nil
}
