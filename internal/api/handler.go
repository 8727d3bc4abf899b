package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ilovespectra/solo-silo-sub000/internal/apperrors"
	"github.com/ilovespectra/solo-silo-sub000/internal/model"
	"github.com/ilovespectra/solo-silo-sub000/pkg/logger"
	"github.com/ilovespectra/solo-silo-sub000/pkg/utils"
)

const maxBodyBytes = 64 << 10

// FeedbackService is what the handlers need from the feedback layer.
type FeedbackService interface {
	Add(ctx context.Context, req model.AddRequest) (model.FeedbackItem, error)
	GetQueue() []model.FeedbackItem
	GetPendingCount() int
	GetSyncStatus() model.SyncStatus
	GetLastError() string
	TrySync() bool
	SetOnline(online bool)
	IsOnline() bool
}

// Router registers handlers on a mux-like target.
type Router interface {
	RegisterHandler(pattern string, handler http.Handler)
}

// Handler serves the feedback API for the local UI.
type Handler struct {
	service FeedbackService
	log     *zap.Logger
}

// QueueResponse is the body of GET /api/feedback/queue.
type QueueResponse struct {
	Items []model.FeedbackItem `json:"items"`
}

// StatusResponse is the body of GET /api/feedback/status.
type StatusResponse struct {
	PendingCount int              `json:"pendingCount"`
	Status       model.SyncStatus `json:"status"`
	LastError    string           `json:"lastError,omitempty"`
	Online       bool             `json:"online"`
}

// SyncResponse is the body of POST /api/feedback/sync.
type SyncResponse struct {
	Started bool `json:"started"`
}

// ConnectivityRequest is the body of POST /api/connectivity.
type ConnectivityRequest struct {
	Online *bool `json:"online"`
}

// NewHandler creates a new API handler
func NewHandler(service FeedbackService) *Handler {
	return &Handler{
		service: service,
		log:     logger.Log.Named("api"),
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r Router) {
	r.RegisterHandler("POST /api/feedback", http.HandlerFunc(h.handleAdd))
	r.RegisterHandler("GET /api/feedback/queue", http.HandlerFunc(h.handleQueue))
	r.RegisterHandler("GET /api/feedback/status", http.HandlerFunc(h.handleStatus))
	r.RegisterHandler("POST /api/feedback/sync", http.HandlerFunc(h.handleSync))
	r.RegisterHandler("POST /api/connectivity", http.HandlerFunc(h.handleConnectivity))
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req model.AddRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.service.Add(r.Context(), req)
	if err != nil {
		if apperrors.IsValidationError(err) {
			utils.WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("Failed to queue feedback", zap.Error(err))
		utils.WriteJSONError(w, http.StatusInternalServerError, "failed to queue feedback")
		return
	}

	utils.WriteJSONResponse(w, http.StatusAccepted, item)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, QueueResponse{Items: h.service.GetQueue()})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, StatusResponse{
		PendingCount: h.service.GetPendingCount(),
		Status:       h.service.GetSyncStatus(),
		LastError:    h.service.GetLastError(),
		Online:       h.service.IsOnline(),
	})
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, SyncResponse{Started: h.service.TrySync()})
}

func (h *Handler) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req ConnectivityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Online == nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "field 'online' is required")
		return
	}

	h.service.SetOnline(*req.Online)
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}
