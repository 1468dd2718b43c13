package ops

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/callcoach/internal/config"
	"github.com/hpungsan/callcoach/internal/db"
	"github.com/hpungsan/callcoach/internal/errors"
	"github.com/hpungsan/callcoach/internal/objectstore"
)

// defaultSweepConcurrency applies when the caller leaves Concurrency unset.
const defaultSweepConcurrency = 8

// Sweeper reclaims stale objects under the configured root prefix.
type Sweeper struct {
	DB           *sql.DB
	Store        objectstore.Store
	Log          *logrus.Entry
	ObjectPrefix string
	Concurrency  int

	// PendingExpiry is how long a pending ingestion keeps its object path
	// reserved. 0 keeps pending records live indefinitely.
	PendingExpiry time.Duration

	// now is replaced in tests.
	now func() time.Time
}

// NewSweeper wires a sweeper from config. A pending ingestion stops
// protecting its path once its upload credential and callback grace lapse.
func NewSweeper(database *sql.DB, cfg *config.Config, store objectstore.Store, log *logrus.Entry) *Sweeper {
	return &Sweeper{
		DB:            database,
		Store:         store,
		Log:           log,
		ObjectPrefix:  cfg.ObjectPrefix,
		Concurrency:   cfg.SweepConcurrency,
		PendingExpiry: cfg.UploadURLTTL() + callbackGrace,
		now:           time.Now,
	}
}

// SweepInput is the sweep policy.
type SweepInput struct {
	// MaxAgeHours selects objects at least this old. 0 selects every object.
	MaxAgeHours float64 `json:"max_age_hours"`
	DryRun      bool    `json:"dry_run"`
	OwnerScope  string  `json:"owner_scope,omitempty"`
}

// SweepCandidate is one object selected by the policy.
type SweepCandidate struct {
	Path       string    `json:"path"`
	OwnerID    string    `json:"owner_id,omitempty"`
	SizeBytes  int64     `json:"size_bytes"`
	UploadedAt time.Time `json:"uploaded_at"`
	AgeHours   float64   `json:"age_hours"`
}

// SweepFailure records an object whose delete failed.
type SweepFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// SweepOutput reports the sweep. DeletedCount may be below len(Candidates).
type SweepOutput struct {
	DryRun         bool             `json:"dry_run"`
	DeletedCount   int              `json:"deleted_count"`
	BytesFreed     int64            `json:"bytes_freed"`
	Candidates     []SweepCandidate `json:"candidates"`
	CandidateBytes int64            `json:"candidate_bytes"`

	// Protected counts objects excluded because a live ingestion references them.
	Protected int            `json:"protected"`
	Skipped   []string       `json:"skipped"`
	Failed    []SweepFailure `json:"failed"`
}

// Sweep lists objects, keeps those matching the policy that no live ingestion
// references, and deletes them unless DryRun. Pending ingestions past
// PendingExpiry are not live; a destructive sweep fails them with
// PROCESSING_FAILED first. Each delete is preceded by a fresh check of live
// ingestion state; per-object failures are logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context, input SweepInput) (*SweepOutput, error) {
	if input.MaxAgeHours < 0 || math.IsNaN(input.MaxAgeHours) {
		return nil, errors.NewInvalidRequest("max_age_hours must not be negative")
	}

	now := s.now()
	pendingCutoff := s.pendingCutoff(now)
	if !input.DryRun && pendingCutoff > 0 {
		expired, err := db.ExpirePendingIngestions(ctx, s.DB, pendingCutoff)
		if err != nil {
			return nil, err
		}
		if expired > 0 {
			s.Log.WithField("count", expired).Info("sweep: expired pending ingestions")
		}
	}

	objects, err := s.list(ctx, input.OwnerScope)
	if err != nil {
		return nil, err
	}
	active, err := db.ActiveSourceRefs(ctx, s.DB, pendingCutoff)
	if err != nil {
		return nil, err
	}

	out := &SweepOutput{
		DryRun:     input.DryRun,
		Candidates: []SweepCandidate{},
		Skipped:    []string{},
		Failed:     []SweepFailure{},
	}
	cutoff := now.Add(-time.Duration(input.MaxAgeHours * float64(time.Hour)))
	for _, o := range objects {
		if o.UploadedAt.After(cutoff) {
			continue
		}
		if active[o.Path] {
			out.Protected++
			continue
		}
		out.Candidates = append(out.Candidates, SweepCandidate{
			Path:       o.Path,
			OwnerID:    ownerOf(o),
			SizeBytes:  o.SizeBytes,
			UploadedAt: o.UploadedAt,
			AgeHours:   round2(now.Sub(o.UploadedAt).Hours()),
		})
		out.CandidateBytes += o.SizeBytes
	}

	if input.DryRun {
		return out, nil
	}

	s.deleteCandidates(ctx, out, pendingCutoff)

	s.Log.WithFields(logrus.Fields{
		"candidates":  len(out.Candidates),
		"deleted":     out.DeletedCount,
		"bytes_freed": out.BytesFreed,
		"failed":      len(out.Failed),
		"skipped":     len(out.Skipped),
	}).Info("sweep finished")
	return out, nil
}

// pendingCutoff returns the unix-millis creation time before which a pending
// ingestion no longer reserves its path, or 0 when pending never expires.
func (s *Sweeper) pendingCutoff(now time.Time) int64 {
	if s.PendingExpiry <= 0 {
		return 0
	}
	return now.Add(-s.PendingExpiry).UnixMilli()
}

func (s *Sweeper) deleteCandidates(ctx context.Context, out *SweepOutput, pendingCutoff int64) {
	limit := s.Concurrency
	if limit <= 0 {
		limit = defaultSweepConcurrency
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(limit)

	for _, c := range out.Candidates {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			log := s.Log.WithField("path", c.Path)

			// Check-then-delete: an ingestion may have claimed the path since listing.
			live, err := db.IsActiveSourceRef(ctx, s.DB, c.Path, pendingCutoff)
			if err != nil {
				log.WithError(err).Warn("sweep: cannot check ingestion state, skipping")
				mu.Lock()
				out.Failed = append(out.Failed, SweepFailure{Path: c.Path, Error: err.Error()})
				mu.Unlock()
				return nil
			}
			if live {
				log.Info("sweep: object became active, skipping")
				mu.Lock()
				out.Skipped = append(out.Skipped, c.Path)
				mu.Unlock()
				return nil
			}

			if err := s.Store.Delete(ctx, c.Path); err != nil {
				log.WithError(err).Warn("sweep: delete failed, skipping")
				mu.Lock()
				out.Failed = append(out.Failed, SweepFailure{Path: c.Path, Error: err.Error()})
				mu.Unlock()
				return nil
			}

			mu.Lock()
			out.DeletedCount++
			out.BytesFreed += c.SizeBytes
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(out.Skipped)
	sort.Slice(out.Failed, func(i, j int) bool { return out.Failed[i].Path < out.Failed[j].Path })
}

func (s *Sweeper) list(ctx context.Context, ownerScope string) ([]objectstore.Object, error) {
	prefix := ""
	if s.ObjectPrefix != "" {
		prefix = strings.TrimSuffix(s.ObjectPrefix, "/") + "/"
	}
	if owner := strings.TrimSpace(ownerScope); owner != "" {
		if strings.Contains(owner, "/") {
			return nil, errors.NewInvalidRequest("owner_scope must be a single owner id")
		}
		prefix = objectstore.ObjectPath(s.ObjectPrefix, owner, "")
	}

	objects, err := s.Store.List(ctx, prefix)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return objects, nil
}

func ownerOf(o objectstore.Object) string {
	if o.OwnerPrefix == "" {
		return ""
	}
	return objectstore.OwnerFromPrefix(o.OwnerPrefix)
}

// AgeBucket is one histogram bin.
type AgeBucket struct {
	Label   string `json:"label"`
	Objects int    `json:"objects"`
	Bytes   int64  `json:"bytes"`
}

// OwnerUsage is one owner's share of storage.
type OwnerUsage struct {
	OwnerID string `json:"owner_id"`
	Objects int    `json:"objects"`
	Bytes   int64  `json:"bytes"`
}

// StatsOutput is the storage overview.
type StatsOutput struct {
	TotalObjects  int          `json:"total_objects"`
	TotalBytes    int64        `json:"total_bytes"`
	ActiveObjects int          `json:"active_objects"`
	Owners        []OwnerUsage `json:"owners"`
	AgeBuckets    []AgeBucket  `json:"age_buckets"`
}

var ageBucketLimits = []struct {
	label string
	max   time.Duration
}{
	{"<=1h", time.Hour},
	{"<=24h", 24 * time.Hour},
	{"<=7d", 7 * 24 * time.Hour},
	{"<=30d", 30 * 24 * time.Hour},
	{"older", 0},
}

// Stats summarizes object counts and bytes, per owner and by age.
func (s *Sweeper) Stats(ctx context.Context) (*StatsOutput, error) {
	now := s.now()
	objects, err := s.list(ctx, "")
	if err != nil {
		return nil, err
	}
	active, err := db.ActiveSourceRefs(ctx, s.DB, s.pendingCutoff(now))
	if err != nil {
		return nil, err
	}

	out := &StatsOutput{
		Owners:     []OwnerUsage{},
		AgeBuckets: make([]AgeBucket, len(ageBucketLimits)),
	}
	for i, b := range ageBucketLimits {
		out.AgeBuckets[i].Label = b.label
	}

	owners := make(map[string]*OwnerUsage)
	for _, o := range objects {
		out.TotalObjects++
		out.TotalBytes += o.SizeBytes
		if active[o.Path] {
			out.ActiveObjects++
		}

		owner := ownerOf(o)
		u, ok := owners[owner]
		if !ok {
			u = &OwnerUsage{OwnerID: owner}
			owners[owner] = u
		}
		u.Objects++
		u.Bytes += o.SizeBytes

		age := now.Sub(o.UploadedAt)
		for i, b := range ageBucketLimits {
			if b.max == 0 || age <= b.max {
				out.AgeBuckets[i].Objects++
				out.AgeBuckets[i].Bytes += o.SizeBytes
				break
			}
		}
	}

	for _, u := range owners {
		out.Owners = append(out.Owners, *u)
	}
	sort.Slice(out.Owners, func(i, j int) bool { return out.Owners[i].OwnerID < out.Owners[j].OwnerID })
	return out, nil
}
