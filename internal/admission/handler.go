package admission

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/kobeee/ai-postcard-admission/internal/api"
)

// Handler provides the HTTP surface over the admission service. The outer
// gateway authenticates callers and forwards the user in X-User-ID.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func userFrom(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get("X-User-ID"))
	return id, err == nil
}

type cardRequest struct {
	CardID uuid.UUID `json:"card_id"`
}

func decodeCard(r *http.Request) (cardRequest, error) {
	var req cardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, api.NewBadRequestError("invalid request body")
	}
	if req.CardID == uuid.Nil {
		return req, api.NewBadRequestError("card_id is required")
	}
	return req, nil
}

// GetQuota returns the caller's quota status for today.
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	status, err := h.svc.CheckQuota(r.Context(), userID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, status)
}

// Consume takes today's generation slot for the posted card.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	h.cardOp(w, r, h.svc.ConsumeQuota, "consumed")
}

// Release frees the caller's current card.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	h.cardOp(w, r, h.svc.ReleaseCard, "released")
}

// Failure compensates a failed generation job.
func (h *Handler) Failure(w http.ResponseWriter, r *http.Request) {
	h.cardOp(w, r, h.svc.HandleGenerationFailure, "compensated")
}

type cardOpFunc func(ctx context.Context, userID, cardID uuid.UUID) (bool, error)

func (h *Handler) cardOp(w http.ResponseWriter, r *http.Request, op cardOpFunc, field string) {
	userID, ok := userFrom(r)
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	req, err := decodeCard(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	outcome, err := op(r.Context(), userID, req.CardID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	status, err := h.svc.CheckQuota(r.Context(), userID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{
		field:   outcome,
		"quota": status,
	})
}

type admitRequest struct {
	Action   string `json:"action"`
	Endpoint string `json:"endpoint"`
}

// Admit runs the composed gate (rate limiter, then quota read) and returns
// one decision. Denials still answer 200: "no" is an expected outcome, not
// a transport failure. 429 is reserved for the rate-limit middleware.
func (h *Handler) Admit(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req admitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid request body"))
		return
	}
	if req.Action == "" {
		req.Action = "create"
	}
	if req.Endpoint == "" {
		req.Endpoint = r.URL.Path
	}

	decision, err := h.svc.Admit(r.Context(), userID, clientIP(r), req.Endpoint, req.Action)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if !decision.Allowed && decision.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
	}
	api.JSON(w, http.StatusOK, decision)
}

// clientIP resolves the original client address behind the reverse proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
