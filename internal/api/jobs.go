package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/jobbid/internal/domain"
	"github.com/SirClappington/jobbid/internal/engine"
	"github.com/SirClappington/jobbid/internal/matcher"
)

const maxBodyBytes = 1 << 20

// Handler handles job and bid requests.
type Handler struct {
	engine  *engine.Engine
	matcher *matcher.Matcher
	log     *zap.Logger
}

func NewHandler(e *engine.Engine, m *matcher.Matcher, log *zap.Logger) *Handler {
	return &Handler{engine: e, matcher: m, log: log}
}

// location accepts either {"lng":x,"lat":y} or a GeoJSON-style [lng, lat]
// pair.
type location domain.Point

func (l *location) UnmarshalJSON(b []byte) error {
	if b = bytes.TrimSpace(b); len(b) > 0 && b[0] == '[' {
		var pair []float64
		if err := json.Unmarshal(b, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return domain.Errorf(domain.KindValidation, "location must be [lng, lat]")
		}
		*l = location{Lng: pair[0], Lat: pair[1]}
		return nil
	}
	var p domain.Point
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*l = location(p)
	return nil
}

// CreateJobRequest is the body of POST /v1/jobs.
type CreateJobRequest struct {
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Location       *location `json:"location"`
	SuggestedPrice *float64  `json:"suggestedPrice,omitempty"`
}

// CreateJob handles POST /v1/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req CreateJobRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Location == nil {
		writeError(w, h.log, domain.Errorf(domain.KindValidation, "location is required"))
		return
	}

	job, err := h.engine.CreateJob(r.Context(), p, engine.NewJob{
		Title:          req.Title,
		Description:    req.Description,
		Location:       domain.Point(*req.Location),
		SuggestedPrice: req.SuggestedPrice,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// ListNearby handles GET /v1/jobs?lng=&lat=&maxDistance=
func (h *Handler) ListNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	if errLng != nil || errLat != nil {
		writeError(w, h.log, domain.Errorf(domain.KindValidation, "lng and lat query parameters are required numbers"))
		return
	}
	var maxDistance float64
	if s := q.Get("maxDistance"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			writeError(w, h.log, domain.Errorf(domain.KindValidation, "maxDistance must be a number of meters"))
			return
		}
		maxDistance = v
	}

	matches, err := h.matcher.FindOpenJobsNear(r.Context(), domain.Point{Lng: lng, Lat: lat}, maxDistance)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type SubmitBidRequest struct {
	Amount float64 `json:"amount"`
}

// SubmitBid handles POST /v1/jobs/{id}/bids
func (h *Handler) SubmitBid(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req SubmitBidRequest
	if !h.decode(w, r, &req) {
		return
	}
	bid, err := h.engine.SubmitBid(r.Context(), p, chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// AcceptBid handles PATCH /v1/jobs/{id}/bids/{bidId}/accept
func (h *Handler) AcceptBid(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	job, err := h.engine.AcceptBid(r.Context(), p, chi.URLParam(r, "id"), chi.URLParam(r, "bidId"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CompleteJob handles POST /v1/jobs/{id}/complete
func (h *Handler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	job, err := h.engine.CompleteJob(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		msg := "invalid request body"
		var de *domain.Error
		if errors.As(err, &de) {
			msg = de.Message
		}
		writeError(w, h.log, domain.Errorf(domain.KindValidation, "%s", msg))
		return false
	}
	return true
}
