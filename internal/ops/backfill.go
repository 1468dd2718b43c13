package ops

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"

	"github.com/hpungsan/callcoach/internal/analysis"
	"github.com/hpungsan/callcoach/internal/db"
)

// BackfillOutput reports what a backfill pass changed.
type BackfillOutput struct {
	Owners  int `json:"owners"`
	Scanned int `json:"scanned"`
	Hashed  int `json:"hashed"`
	Merged  int `json:"merged"`
}

// Backfill hashes every analysis that predates content hashing and applies
// the reconcile rule retroactively. Given fixed creation timestamps it elects
// the same canonical records as if hashes had existed from the start, and a
// second run changes nothing.
func Backfill(ctx context.Context, database *sql.DB, log *logrus.Entry) (*BackfillOutput, error) {
	owners, err := db.OwnersWithUnhashedAnalyses(ctx, database)
	if err != nil {
		return nil, err
	}

	out := &BackfillOutput{}
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := backfillOwner(ctx, database, owner)
		if err != nil {
			return out, err
		}
		out.Owners++
		out.Scanned += res.Scanned
		out.Hashed += res.Hashed
		out.Merged += res.Merged

		if log != nil {
			log.WithFields(logrus.Fields{
				"owner_id": owner,
				"hashed":   res.Hashed,
				"merged":   res.Merged,
			}).Info("backfilled owner")
		}
	}
	return out, nil
}

func backfillOwner(ctx context.Context, database *sql.DB, ownerID string) (*BackfillOutput, error) {
	release := reconcileLocks.lock(ownerID)
	defer release()

	out := &BackfillOutput{}
	err := db.WithTx(ctx, database, func(tx *sql.Tx) error {
		records, err := db.ListOwnerAnalyses(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		out.Scanned = len(records)

		groups := make(map[string][]*analysis.AnalysisRecord)
		var order []string
		unhashed := make(map[string]bool)
		for _, r := range records {
			hash := analysis.ContentHash(r.TranscriptText)
			if r.ContentHash == nil {
				unhashed[hash] = true
				out.Hashed++
			}
			if _, ok := groups[hash]; !ok {
				order = append(order, hash)
			}
			groups[hash] = append(groups[hash], r)
		}

		for _, hash := range order {
			if !unhashed[hash] {
				continue
			}
			group := groups[hash]
			canonical, absorbed := electCanonical(group)
			merged := mergeDuplicateIDs(canonical, group)

			deleteIDs := make([]string, 0, len(absorbed))
			for _, a := range absorbed {
				deleteIDs = append(deleteIDs, a.ID)
			}
			if _, err := db.DeleteAnalyses(ctx, tx, deleteIDs); err != nil {
				return err
			}
			h := hash
			if err := db.SetAnalysisMerge(ctx, tx, canonical.ID, &h, merged); err != nil {
				return err
			}
			if err := db.RepointIngestions(ctx, tx, deleteIDs, canonical.ID); err != nil {
				return err
			}
			if err := db.SetIngestionHashes(ctx, tx, canonical.ID, h); err != nil {
				return err
			}
			out.Merged += len(deleteIDs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
