package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carsnap/angle-review/internal/core/domain"
	"github.com/carsnap/angle-review/internal/core/ports"
	"github.com/carsnap/angle-review/internal/core/usecase"
	"github.com/carsnap/angle-review/internal/observability/metrics"
)

const serviceName = "angle-api"

type Router struct {
	classifyUC *usecase.ClassifyBatchUseCase
	persist    *usecase.PersistUseCase
	gate       *usecase.GenerationGate
	poller     *usecase.StatusPoller
	bus        ports.EventBus
	metrics    *metrics.HTTPServerMetrics
	log        *slog.Logger
	sessions   *reviewSessions

	modelEnabled   bool
	boardDebounce  time.Duration
	rateLimitRPS   float64
	rateLimitBurst int
}

type RouterConfig struct {
	ModelEnabled     bool
	AutosaveDebounce time.Duration
	RateLimitRPS     float64
	RateLimitBurst   int
}

func NewRouter(
	classifyUC *usecase.ClassifyBatchUseCase,
	persist *usecase.PersistUseCase,
	gate *usecase.GenerationGate,
	poller *usecase.StatusPoller,
	bus ports.EventBus,
	m *metrics.HTTPServerMetrics,
	log *slog.Logger,
	cfg RouterConfig,
) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		classifyUC:     classifyUC,
		persist:        persist,
		gate:           gate,
		poller:         poller,
		bus:            bus,
		metrics:        m,
		log:            log,
		sessions:       newReviewSessions(),
		modelEnabled:   cfg.ModelEnabled,
		boardDebounce:  cfg.AutosaveDebounce,
		rateLimitRPS:   cfg.RateLimitRPS,
		rateLimitBurst: cfg.RateLimitBurst,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/classify", rt.classifySync)
	mux.HandleFunc("/v1/documents/", rt.documentSubtree)
	mux.HandleFunc("/v1/review/", rt.reviewSubtree)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.rateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst)
	}
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = recoveryMiddleware(handler, rt.log)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// documentSubtree dispatches /v1/documents/{document_id}/<action>.
func (rt *Router) documentSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	documentID, action, _ := strings.Cut(rest, "/")
	if documentID == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}

	switch {
	case action == "classify" && r.Method == http.MethodPost:
		rt.enqueueClassify(w, r, documentID)
	case action == "angle-status" && r.Method == http.MethodGet:
		rt.angleStatus(w, r, documentID)
	case action == "images" && r.Method == http.MethodPost:
		rt.registerImages(w, r, documentID)
	case action == "images" && r.Method == http.MethodPatch:
		rt.patchImages(w, r, documentID)
	case action == "review" && r.Method == http.MethodPost:
		rt.openReview(w, r, documentID)
	case action == "generate" && r.Method == http.MethodPost:
		rt.beginGeneration(w, r, documentID)
	case action == "generate/complete" && r.Method == http.MethodPost:
		rt.completeGeneration(w, r, documentID)
	default:
		writeError(w, http.StatusNotFound, "unknown route")
	}
}

type classifyRequest struct {
	DocumentID string            `json:"document_id,omitempty"`
	Images     []domain.ImageRef `json:"images"`

	// Both flags are tri-state on the wire: absent means "reclassify only the
	// unresolved images" and "use the deployment's model setting".
	ReclassifyUnknownOnly *bool `json:"reclassify_unknown_only,omitempty"`
	ModelEnabled          *bool `json:"model_enabled,omitempty"`
}

func (req classifyRequest) reclassifyUnknownOnly() bool {
	if req.ReclassifyUnknownOnly == nil {
		return true
	}
	return *req.ReclassifyUnknownOnly
}

func (req classifyRequest) modelEnabled(deployment bool) bool {
	if req.ModelEnabled == nil {
		return deployment
	}
	return *req.ModelEnabled
}

// enqueueClassify publishes an asynchronous classification job for the worker
// pool and acknowledges immediately.
func (rt *Router) enqueueClassify(w http.ResponseWriter, r *http.Request, documentID string) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Images) == 0 {
		writeError(w, http.StatusBadRequest, "at least one image is required")
		return
	}
	for _, ref := range req.Images {
		if ref.URL == "" {
			writeError(w, http.StatusBadRequest, "image url is required")
			return
		}
	}

	job := domain.ClassifyJob{
		JobID:                 uuid.NewString(),
		DocumentID:            documentID,
		Images:                req.Images,
		ReclassifyUnknownOnly: req.reclassifyUnknownOnly(),
		ModelEnabled:          req.modelEnabled(rt.modelEnabled),
		EnqueuedAt:            time.Now().UTC(),
	}
	if err := rt.bus.PublishClassifyJob(r.Context(), job); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": "queued",
	})
}

// classifySync runs the scoring pipeline inline and, when a document id is
// given, persists the accepted results before responding.
func (rt *Router) classifySync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Images) == 0 {
		writeError(w, http.StatusBadRequest, "at least one image is required")
		return
	}

	results := rt.classifyUC.ClassifyBatch(r.Context(), domain.ClassifyJob{
		JobID:                 uuid.NewString(),
		DocumentID:            req.DocumentID,
		Images:                req.Images,
		ReclassifyUnknownOnly: req.reclassifyUnknownOnly(),
		ModelEnabled:          req.modelEnabled(rt.modelEnabled),
		EnqueuedAt:            time.Now().UTC(),
	})

	applied := 0
	if req.DocumentID != "" {
		var err error
		applied, err = rt.persist.ApplyClassification(r.Context(), req.DocumentID, results)
		if err != nil {
			rt.writeDomainError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"applied": applied,
	})
}

// angleStatus serves the live counts. With ?wait=true it blocks on the status
// poller until the document is ready, the poll channel fails, or the counts
// stall; this is the fallback surface when push notifications are down.
func (rt *Router) angleStatus(w http.ResponseWriter, r *http.Request, documentID string) {
	var counts domain.AngleCounts
	var err error
	if r.URL.Query().Get("wait") == "true" && rt.poller != nil {
		counts, err = rt.poller.Wait(r.Context(), documentID, nil)
	} else {
		counts, err = rt.persist.AngleStatus(r.Context(), documentID)
	}
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	state, err := rt.gate.State(r.Context(), documentID)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordReadyCheck(serviceName, counts.Ready())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_exterior":   counts.TotalExterior,
		"unknown_exterior": counts.UnknownExterior,
		"ready":            counts.Ready(),
		"generation_state": state,
	})
}

type registerImagesRequest struct {
	Images []imagePatchBody `json:"images"`
}

// registerImages records uploaded images as unclassified rows with no
// provenance, so the automated pipeline can later claim them.
func (rt *Router) registerImages(w http.ResponseWriter, r *http.Request, documentID string) {
	var req registerImagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Images) == 0 {
		writeError(w, http.StatusBadRequest, "at least one image is required")
		return
	}

	images := make([]domain.ImagePatch, 0, len(req.Images))
	for _, body := range req.Images {
		img := domain.ImagePatch{URL: body.URL}
		if body.Category != nil {
			category, err := domain.ParseCategory(*body.Category)
			if err != nil {
				rt.writeDomainError(w, r, err)
				return
			}
			img.Category = &category
		}
		images = append(images, img)
	}

	registered, err := rt.persist.RegisterImages(r.Context(), documentID, images)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"registered": registered})
}

type patchImagesRequest struct {
	Patches []imagePatchBody `json:"patches"`
	Deletes []string         `json:"deletes,omitempty"`
}

type imagePatchBody struct {
	URL       string  `json:"url"`
	Angle     *string `json:"angle,omitempty"`
	Category  *string `json:"category,omitempty"`
	IsCloseup *bool   `json:"is_closeup,omitempty"`
	Source    *string `json:"source,omitempty"`
}

func (rt *Router) patchImages(w http.ResponseWriter, r *http.Request, documentID string) {
	var req patchImagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Patches) == 0 && len(req.Deletes) == 0 {
		writeError(w, http.StatusBadRequest, "nothing to apply")
		return
	}

	patches := make([]domain.ImagePatch, 0, len(req.Patches))
	for _, body := range req.Patches {
		// A patch from this surface defaults to user provenance; trusted
		// internal callers may tag another validated source.
		patch := domain.ImagePatch{URL: body.URL, Source: domain.SourceUser}
		if body.Source != nil {
			source, err := domain.ParseSource(*body.Source)
			if err != nil {
				rt.writeDomainError(w, r, err)
				return
			}
			patch.Source = source
		}
		if body.Angle != nil {
			angle, err := domain.ParseAngle(*body.Angle)
			if err != nil {
				rt.writeDomainError(w, r, err)
				return
			}
			patch.Angle = &angle
		}
		if body.Category != nil {
			category, err := domain.ParseCategory(*body.Category)
			if err != nil {
				rt.writeDomainError(w, r, err)
				return
			}
			patch.Category = &category
		}
		patch.IsCloseup = body.IsCloseup
		patches = append(patches, patch)
	}

	applied := 0
	if len(patches) > 0 {
		var err error
		applied, err = rt.persist.ApplyUserPatches(r.Context(), documentID, patches)
		if err != nil {
			rt.writeDomainError(w, r, err)
			return
		}
	}
	for _, url := range req.Deletes {
		if err := rt.persist.DeleteImage(r.Context(), documentID, url); err != nil {
			rt.writeDomainError(w, r, err)
			return
		}
	}
	if rt.metrics != nil {
		rt.metrics.RecordPatches(serviceName, applied, len(patches)-applied)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"applied": applied,
		"deleted": len(req.Deletes),
	})
}

func (rt *Router) beginGeneration(w http.ResponseWriter, r *http.Request, documentID string) {
	if err := rt.gate.Begin(r.Context(), documentID); err != nil {
		if rt.metrics != nil {
			rt.metrics.RecordGeneration(serviceName, "rejected")
		}
		rt.writeDomainError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordGeneration(serviceName, "started")
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"document_id": documentID,
		"state":       string(usecase.GateInProgress),
	})
}

type completeGenerationRequest struct {
	Failed bool `json:"failed,omitempty"`
}

func (rt *Router) completeGeneration(w http.ResponseWriter, r *http.Request, documentID string) {
	var req completeGenerationRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	rt.gate.Finish(documentID, req.Failed)
	state := usecase.GateComplete
	outcome := "complete"
	if req.Failed {
		state = usecase.GateFailed
		outcome = "failed"
	}
	if rt.metrics != nil {
		rt.metrics.RecordGeneration(serviceName, outcome)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"document_id": documentID,
		"state":       string(state),
	})
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.log.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
