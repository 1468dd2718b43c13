package ops

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hpungsan/callcoach/internal/analysis"
	"github.com/hpungsan/callcoach/internal/analyzer"
	"github.com/hpungsan/callcoach/internal/cancel"
	"github.com/hpungsan/callcoach/internal/config"
	"github.com/hpungsan/callcoach/internal/db"
	"github.com/hpungsan/callcoach/internal/errors"
	"github.com/hpungsan/callcoach/internal/objectstore"
	"github.com/hpungsan/callcoach/internal/transcribe"
)

// readURLTTL is how long the transcription backend may fetch the media.
const readURLTTL = time.Hour

var errOperationCancelled = stderrors.New("operation cancelled")

// Pipeline drives one ingestion from uploaded to completed or failed.
type Pipeline struct {
	DB       *sql.DB
	Store    objectstore.Store
	Backend  transcribe.Backend
	Analyzer analyzer.Analyzer
	Registry *cancel.Registry
	Log      *logrus.Entry

	Language     string
	PollInterval time.Duration
	MaxAttempts  int
}

// NewPipeline wires a pipeline from config.
func NewPipeline(database *sql.DB, cfg *config.Config, store objectstore.Store, backend transcribe.Backend,
	an analyzer.Analyzer, registry *cancel.Registry, log *logrus.Entry) *Pipeline {
	return &Pipeline{
		DB:           database,
		Store:        store,
		Backend:      backend,
		Analyzer:     an,
		Registry:     registry,
		Log:          log,
		Language:     cfg.Language,
		PollInterval: cfg.PollInterval(),
		MaxAttempts:  cfg.PollMaxAttempts,
	}
}

// Process runs the state machine for one uploaded ingestion. Every terminal
// failure is persisted on the record before the error is returned.
func (p *Pipeline) Process(ctx context.Context, ingestionID string) error {
	rec, err := db.GetIngestion(ctx, p.DB, ingestionID)
	if err != nil {
		return err
	}
	if rec.Status != analysis.StatusUploaded {
		return errors.NewConflict("ingestion " + rec.ID + " is " + string(rec.Status) + ", expected uploaded")
	}

	log := p.Log.WithFields(logrus.Fields{
		"ingestion_id": rec.ID,
		"owner_id":     rec.OwnerID,
		"operation_id": rec.OperationID,
	})

	// opCtx only carries the cancel signal. Network calls use ctx so an
	// in-flight request finishes before cancellation is observed.
	opCtx, cancelOp := context.WithCancel(context.Background())
	defer cancelOp()
	if err := p.Registry.Register(rec.OperationID, rec.OwnerID, cancelOp); err != nil {
		log.WithError(err).Warn("operation not registered, it cannot be cancelled")
	} else {
		defer p.Registry.Unregister(rec.OperationID)
	}

	jobHandle, err := p.startTranscription(ctx, opCtx, log, rec)
	if err != nil {
		return err
	}

	text, err := p.pollUntilDone(ctx, opCtx, log, rec, jobHandle)
	if err != nil {
		return err
	}

	return p.analyze(ctx, opCtx, log, rec, text)
}

func (p *Pipeline) startTranscription(ctx, opCtx context.Context, log *logrus.Entry, rec *analysis.IngestionRecord) (string, error) {
	if err := db.TransitionIngestion(ctx, p.DB, rec.ID, analysis.StatusUploaded, analysis.StatusTranscribing, db.IngestionPatch{}); err != nil {
		return "", err
	}
	if opCtx.Err() != nil {
		return "", p.fail(ctx, log, rec, analysis.ReasonCancelled, "cancelled before submit", errors.NewCancelled(rec.OperationID))
	}

	objectURL, err := p.Store.SignedReadURL(ctx, rec.SourceObjectRef, readURLTTL)
	if err != nil {
		return "", p.fail(ctx, log, rec, analysis.ReasonProcessingFailed, err.Error(), errors.NewProcessingFailed("cannot read uploaded object"))
	}

	jobHandle, err := p.Backend.Submit(ctx, objectURL, p.Language)
	if err != nil {
		return "", p.fail(ctx, log, rec, analysis.ReasonBackendError, err.Error(), errors.NewBackendError("transcription submit failed"))
	}

	if err := db.SetIngestionJobHandle(ctx, p.DB, rec.ID, jobHandle); err != nil {
		return "", p.fail(ctx, log, rec, analysis.ReasonProcessingFailed, err.Error(), err)
	}
	log.WithField("job_handle", jobHandle).Info("transcription submitted")
	return jobHandle, nil
}

// pollUntilDone waits PollInterval before every poll and checks for
// cancellation before each network call. Poll errors are logged and retried;
// only a backend-reported error or running out of attempts is terminal.
func (p *Pipeline) pollUntilDone(ctx, opCtx context.Context, log *logrus.Entry, rec *analysis.IngestionRecord, jobHandle string) (string, error) {
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := p.wait(ctx, opCtx); err != nil {
			return "", p.interrupted(ctx, log, rec, err)
		}
		if opCtx.Err() != nil {
			return "", p.interrupted(ctx, log, rec, errOperationCancelled)
		}

		st, err := p.Backend.PollStatus(ctx, jobHandle)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("poll failed")
			continue
		}

		switch st.Status {
		case transcribe.StatusCompleted:
			log.WithField("attempt", attempt).Info("transcription completed")
			return st.Text, nil
		case transcribe.StatusError:
			return "", p.fail(ctx, log, rec, analysis.ReasonBackendError, st.Reason, errors.NewBackendError("transcription failed: "+st.Reason))
		default:
			log.WithFields(logrus.Fields{"attempt": attempt, "status": st.Status}).Debug("polling transcription")
		}
	}

	return "", p.fail(ctx, log, rec, analysis.ReasonTimeout, "", errors.NewTimeout(p.MaxAttempts))
}

func (p *Pipeline) wait(ctx, opCtx context.Context) error {
	t := time.NewTimer(p.PollInterval)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-opCtx.Done():
		return errOperationCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) interrupted(ctx context.Context, log *logrus.Entry, rec *analysis.IngestionRecord, cause error) error {
	if stderrors.Is(cause, errOperationCancelled) {
		return p.fail(ctx, log, rec, analysis.ReasonCancelled, "operation cancelled", errors.NewCancelled(rec.OperationID))
	}
	return p.fail(ctx, log, rec, analysis.ReasonProcessingFailed, "interrupted: "+cause.Error(), errors.NewProcessingFailed("ingestion interrupted"))
}

// analyze honours a cancel up to the moment the analyzer returns. The
// operation is unregistered before storing, so a later cancel reports false
// instead of racing a completed ingestion.
func (p *Pipeline) analyze(ctx, opCtx context.Context, log *logrus.Entry, rec *analysis.IngestionRecord, text string) error {
	if err := db.TransitionIngestion(ctx, p.DB, rec.ID, analysis.StatusTranscribing, analysis.StatusTranscribed, db.IngestionPatch{}); err != nil {
		return p.fail(ctx, log, rec, analysis.ReasonProcessingFailed, err.Error(), err)
	}
	if err := db.TransitionIngestion(ctx, p.DB, rec.ID, analysis.StatusTranscribed, analysis.StatusAnalyzing, db.IngestionPatch{}); err != nil {
		return p.fail(ctx, log, rec, analysis.ReasonProcessingFailed, err.Error(), err)
	}

	if opCtx.Err() != nil {
		return p.interrupted(ctx, log, rec, errOperationCancelled)
	}

	structured, err := p.Analyzer.Analyze(ctx, text, rec.CallType)
	p.Registry.Unregister(rec.OperationID)
	if opCtx.Err() != nil {
		return p.interrupted(ctx, log, rec, errOperationCancelled)
	}
	if err != nil {
		return p.fail(ctx, log, rec, analysis.ReasonAnalysisFailed, err.Error(), errors.NewProcessingFailed("analysis failed"))
	}

	ingestionID := rec.ID
	out, err := Reconcile(ctx, p.DB, ReconcileInput{
		OwnerID:     rec.OwnerID,
		IngestionID: &ingestionID,
		CallType:    rec.CallType,
		Transcript:  text,
		Structured:  structured,
	})
	if err != nil {
		return p.fail(ctx, log, rec, analysis.ReasonProcessingFailed, err.Error(), err)
	}

	err = db.TransitionIngestion(ctx, p.DB, rec.ID, analysis.StatusAnalyzing, analysis.StatusCompleted, db.IngestionPatch{
		AnalysisID:  &out.Record.ID,
		ContentHash: out.Record.ContentHash,
	})
	if err != nil {
		return p.fail(ctx, log, rec, analysis.ReasonProcessingFailed, err.Error(), err)
	}

	log.WithFields(logrus.Fields{
		"analysis_id": out.Record.ID,
		"duplicate":   out.Duplicate,
		"score":       out.Record.Score,
	}).Info("analysis stored")
	return nil
}

// fail persists the failure even when ctx is already done, then returns cause.
func (p *Pipeline) fail(ctx context.Context, log *logrus.Entry, rec *analysis.IngestionRecord, reason analysis.FailureReason, detail string, cause error) error {
	changed, err := db.FailIngestion(context.WithoutCancel(ctx), p.DB, rec.ID, reason, detail)
	if err != nil {
		log.WithError(err).Error("failed to persist ingestion failure")
	}
	if changed {
		log.WithFields(logrus.Fields{"reason": reason, "detail": detail}).Warn("ingestion failed")
	}
	return cause
}
