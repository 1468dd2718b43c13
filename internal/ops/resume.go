package ops

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"

	"github.com/hpungsan/callcoach/internal/analysis"
	"github.com/hpungsan/callcoach/internal/db"
)

// ResumeOutput reports what startup recovery did.
type ResumeOutput struct {
	Requeued    int `json:"requeued"`
	Interrupted int `json:"interrupted"`
}

// ResumeIngestions runs at startup. Records left uploaded are queued again.
// Records caught mid-pipeline are marked failed, since their cancel handles
// and poll state died with the previous process.
func ResumeIngestions(ctx context.Context, database *sql.DB, queue Enqueuer, log *logrus.Entry) (*ResumeOutput, error) {
	out := &ResumeOutput{}

	stuck, err := db.ListIngestionsByStatus(ctx, database,
		analysis.StatusTranscribing, analysis.StatusTranscribed, analysis.StatusAnalyzing)
	if err != nil {
		return nil, err
	}
	for _, rec := range stuck {
		changed, err := db.FailIngestion(ctx, database, rec.ID, analysis.ReasonProcessingFailed, "interrupted by restart")
		if err != nil {
			return out, err
		}
		if changed {
			out.Interrupted++
		}
	}

	uploaded, err := db.ListIngestionsByStatus(ctx, database, analysis.StatusUploaded)
	if err != nil {
		return out, err
	}
	for _, rec := range uploaded {
		if err := queue.Enqueue(ctx, rec.ID); err != nil {
			log.WithError(err).WithField("ingestion_id", rec.ID).Warn("failed to requeue ingestion")
			continue
		}
		out.Requeued++
	}

	if out.Requeued+out.Interrupted > 0 {
		log.WithFields(logrus.Fields{
			"requeued":    out.Requeued,
			"interrupted": out.Interrupted,
		}).Info("resumed ingestions from previous run")
	}
	return out, nil
}
