package web

import (
	"crypto/subtle"
	"database/sql"
	"net/http"
	"strings"

	"github.com/hpungsan/callcoach/internal/analysis"
	"github.com/hpungsan/callcoach/internal/cancel"
	"github.com/hpungsan/callcoach/internal/config"
	"github.com/hpungsan/callcoach/internal/errors"
	"github.com/hpungsan/callcoach/internal/identity"
	"github.com/hpungsan/callcoach/internal/logger"
	"github.com/hpungsan/callcoach/internal/ops"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	identity identity.Verifier
	gateway  *ops.Gateway
	registry *cancel.Registry
	sweeper  *ops.Sweeper
	log      *logger.Logger
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// owner resolves the caller from its bearer access proof.
func (h *Handlers) owner(r *http.Request) (string, error) {
	proof := bearerToken(r)
	if proof == "" {
		return "", errors.NewUnauthorized("bearer access proof required")
	}
	return h.identity.Verify(r.Context(), proof)
}

// admin guards maintenance routes with the configured admin token.
// With no token configured the routes are closed.
func (h *Handlers) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		want := h.cfg.AdminToken
		got := bearerToken(r)
		if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			renderError(w, errors.NewUnauthorized("admin token required"))
			return
		}
		next(w, r)
	}
}

// HandleHealth reports liveness and the number of running operations.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		renderError(w, errors.NewInternal(err))
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"operations": h.registry.Len(),
	})
}

type credentialRequest struct {
	OwnerID     string `json:"owner_id"`
	Feature     string `json:"feature"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	CallType    string `json:"call_type"`
}

// HandleCredential issues a signed upload target for the bearer's owner.
func (h *Handlers) HandleCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		renderError(w, err)
		return
	}
	out, err := h.gateway.RequestUploadCredential(r.Context(), ops.CredentialInput{
		AccessProof: bearerToken(r),
		OwnerID:     req.OwnerID,
		Feature:     ops.Feature(req.Feature),
		Filename:    req.Filename,
		ContentType: req.ContentType,
		CallType:    req.CallType,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, out)
}

type completeRequest struct {
	ObjectRef     string `json:"object_ref"`
	SignedPayload string `json:"signed_payload"`
}

// HandleCompleteCallback is called by the uploading client once the object
// is stored. The signed payload authenticates it.
func (h *Handlers) HandleCompleteCallback(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		renderError(w, err)
		return
	}
	h.complete(w, r, ops.CompleteInput{ObjectRef: req.ObjectRef, SignedPayload: req.SignedPayload})
}

func (h *Handlers) complete(w http.ResponseWriter, r *http.Request, input ops.CompleteInput) {
	out, err := h.gateway.OnUploadCompleted(r.Context(), input)
	if err != nil {
		renderError(w, err)
		return
	}
	status := http.StatusAccepted
	if out.Duplicate {
		status = http.StatusOK
	}
	renderJSON(w, status, out)
}

// HandleIngestionStatus returns one of the caller's ingestions.
func (h *Handlers) HandleIngestionStatus(w http.ResponseWriter, r *http.Request) {
	owner, err := h.owner(r)
	if err != nil {
		renderError(w, err)
		return
	}
	rec, err := ops.GetIngestionStatus(r.Context(), h.db, ops.StatusInput{
		IngestionID: r.PathValue("id"),
		OwnerID:     owner,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, rec)
}

// HandleCancel signals a running operation owned by the caller.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	owner, err := h.owner(r)
	if err != nil {
		renderError(w, err)
		return
	}
	out, err := ops.CancelOperation(r.Context(), h.db, h.registry, ops.CancelInput{
		OperationID: r.PathValue("id"),
		OwnerID:     owner,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleProgression returns the caller's recent analyses with their trend.
func (h *Handlers) HandleProgression(w http.ResponseWriter, r *http.Request) {
	owner, err := h.owner(r)
	if err != nil {
		renderError(w, err)
		return
	}
	if q := r.URL.Query().Get("owner"); q != "" && q != owner {
		renderError(w, errors.NewUnauthorized("access proof does not belong to owner "+q))
		return
	}
	limit, err := parseIntParam(r, "limit", ops.DefaultProgressionLimit)
	if err != nil {
		renderError(w, err)
		return
	}
	out, err := ops.ComputeProgression(r.Context(), h.db, h.cfg.TrendNoiseThreshold, ops.ProgressionInput{
		OwnerID: owner,
		Limit:   limit,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

type analysisResponse struct {
	*analysis.AnalysisRecord
	SummaryHTML string `json:"summary_html"`
}

// HandleAnalysis returns one analysis with its summary rendered to HTML.
func (h *Handlers) HandleAnalysis(w http.ResponseWriter, r *http.Request) {
	owner, err := h.owner(r)
	if err != nil {
		renderError(w, err)
		return
	}
	rec, err := ops.GetAnalysis(r.Context(), h.db, ops.GetAnalysisInput{
		ID:      r.PathValue("id"),
		OwnerID: owner,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, analysisResponse{
		AnalysisRecord: rec,
		SummaryHTML:    string(renderMarkdown(rec.Structured.Summary)),
	})
}

// HandleSubmitAnalysis reconciles a directly submitted analysis.
func (h *Handlers) HandleSubmitAnalysis(w http.ResponseWriter, r *http.Request) {
	owner, err := h.owner(r)
	if err != nil {
		renderError(w, err)
		return
	}
	var input ops.SubmitInput
	if err := decodeJSON(w, r, &input); err != nil {
		renderError(w, err)
		return
	}
	input.OwnerID = owner

	out, err := ops.SubmitAnalysis(r.Context(), h.db, input)
	if err != nil {
		renderError(w, err)
		return
	}
	status := http.StatusCreated
	if out.Duplicate {
		status = http.StatusOK
	}
	renderJSON(w, status, out)
}

// HandleBackfill hashes legacy analyses and merges their duplicates.
func (h *Handlers) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Backfill(r.Context(), h.db, h.log.WithRequest(r))
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

type sweepRequest struct {
	MaxAgeHours float64 `json:"max_age_hours"`
	DryRun      *bool   `json:"dry_run"`
	OwnerScope  string  `json:"owner_scope"`
}

// HandleSweep runs a storage sweep. Omitting dry_run previews only.
func (h *Handlers) HandleSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := decodeJSON(w, r, &req); err != nil {
		renderError(w, err)
		return
	}
	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}
	out, err := h.sweeper.Sweep(r.Context(), ops.SweepInput{
		MaxAgeHours: req.MaxAgeHours,
		DryRun:      dryRun,
		OwnerScope:  req.OwnerScope,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleStats returns the storage overview.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	out, err := h.sweeper.Stats(r.Context())
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}
