package httpapi

import (
	"net/http"

	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

type importRequest struct {
	Category      string   `json:"category"`
	SerialNumbers []string `json:"serialNumbers"`
	Manufacturer  string   `json:"manufacturer,omitempty"`
	CreatedBy     string   `json:"createdBy,omitempty"`
}

type statsResponse struct {
	Category     string            `json:"category"`
	Stored       *token.UsageStats `json:"stored"`
	Live         token.PoolStats   `json:"live"`
	Reservations []token.Token     `json:"reservations"`
	Sessions     int               `json:"sessions"`
}

func (s *Server) importSerials(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	serials := token.CleanSerials(req.SerialNumbers)
	if len(serials) == 0 {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "serialNumbers required")
		return
	}
	in := token.ImportInput{
		Category:      token.NormalizeCategory(req.Category),
		SerialNumbers: serials,
		Manufacturer:  req.Manufacturer,
		CreatedBy:     firstNonEmpty(req.CreatedBy, r.Header.Get("X-Actor-Id")),
	}
	res, err := s.store.BulkImport(r.Context(), in)
	if err != nil {
		respondError(w, http.StatusBadGateway, "STORE_ERROR", err.Error())
		return
	}
	if len(res.Imported) > 0 {
		if err := s.authority.Refresh(r.Context(), in.Category); err != nil {
			s.logger.Warn().Err(err).Str("category", in.Category).Msg("refresh after import failed")
		}
	}
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) serialStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	category := token.NormalizeCategory(r.URL.Query().Get("category"))
	stored, err := s.store.UsageStats(ctx, category)
	if err != nil {
		respondError(w, http.StatusBadGateway, "STORE_ERROR", err.Error())
		return
	}
	live, err := s.authority.Stats(ctx, category)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	held, err := s.authority.Reservations(ctx, category)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if held == nil {
		held = []token.Token{}
	}
	respondJSON(w, http.StatusOK, statsResponse{
		Category:     category,
		Stored:       stored,
		Live:         live,
		Reservations: held,
		Sessions:     s.tracker.Count(),
	})
}

func (s *Server) lowStock(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		respondError(w, http.StatusNotFound, "NOT_CONFIGURED", "low stock monitor disabled")
		return
	}
	ctx := r.Context()
	category := token.NormalizeCategory(r.URL.Query().Get("category"))
	if err := s.authority.Load(ctx, category); err != nil {
		respondServiceError(w, asConnectionLost(err))
		return
	}
	rep, err := s.monitor.Check(ctx, category)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "RULE_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rep)
}
