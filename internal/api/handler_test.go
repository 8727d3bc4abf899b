package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ilovespectra/solo-silo-sub000/internal/apperrors"
	"github.com/ilovespectra/solo-silo-sub000/internal/model"
)

type serviceMock struct {
	mock.Mock
}

func (m *serviceMock) Add(ctx context.Context, req model.AddRequest) (model.FeedbackItem, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(model.FeedbackItem), args.Error(1)
}

func (m *serviceMock) GetQueue() []model.FeedbackItem {
	return m.Called().Get(0).([]model.FeedbackItem)
}

func (m *serviceMock) GetPendingCount() int { return m.Called().Int(0) }

func (m *serviceMock) GetSyncStatus() model.SyncStatus {
	return m.Called().Get(0).(model.SyncStatus)
}

func (m *serviceMock) GetLastError() string { return m.Called().String(0) }

func (m *serviceMock) TrySync() bool { return m.Called().Bool(0) }

func (m *serviceMock) SetOnline(online bool) { m.Called(online) }

func (m *serviceMock) IsOnline() bool { return m.Called().Bool(0) }

type muxRouter struct {
	*http.ServeMux
}

func (r muxRouter) RegisterHandler(pattern string, handler http.Handler) {
	r.Handle(pattern, handler)
}

func newTestRouter(svc FeedbackService) http.Handler {
	mux := muxRouter{http.NewServeMux()}
	NewHandler(svc).Register(mux)
	return mux
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleAdd(t *testing.T) {
	svc := &serviceMock{}
	want := model.AddRequest{Action: model.ActionConfirm, SubjectID: 42, SubjectPath: "/a.jpg", Query: "sunset"}
	svc.On("Add", mock.Anything, want).Return(model.FeedbackItem{
		ID: "1700000000000-abc123def", Action: model.ActionConfirm, SubjectID: 42, Query: "sunset",
	}, nil)

	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/feedback",
		`{"action":"confirm","subjectId":42,"subjectPath":"/a.jpg","query":"sunset"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var item model.FeedbackItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	assert.Equal(t, "1700000000000-abc123def", item.ID)
	svc.AssertExpectations(t)
}

func TestHandleAdd_Errors(t *testing.T) {
	svc := &serviceMock{}
	svc.On("Add", mock.Anything, mock.MatchedBy(func(r model.AddRequest) bool { return r.Action == "like" })).
		Return(model.FeedbackItem{}, fmt.Errorf("%w: field 'action' failed validation: oneof", apperrors.ErrValidation))
	svc.On("Add", mock.Anything, mock.MatchedBy(func(r model.AddRequest) bool { return r.Action == model.ActionRemove })).
		Return(model.FeedbackItem{}, assert.AnError)
	router := newTestRouter(svc)

	rec := do(t, router, http.MethodPost, "/api/feedback", `{"action":"like"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation failed")

	rec = do(t, router, http.MethodPost, "/api/feedback", `{"action":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/feedback", `{"action":"confirm","unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/feedback", `{"action":"remove","query":"q"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/feedback", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleQueueAndStatus(t *testing.T) {
	svc := &serviceMock{}
	svc.On("GetQueue").Return([]model.FeedbackItem{{ID: "a"}, {ID: "b"}})
	svc.On("GetPendingCount").Return(2)
	svc.On("GetSyncStatus").Return(model.SyncStatusError)
	svc.On("GetLastError").Return("delivery failed: api returned status 500")
	svc.On("IsOnline").Return(true)
	router := newTestRouter(svc)

	rec := do(t, router, http.MethodGet, "/api/feedback/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var queue QueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queue))
	require.Len(t, queue.Items, 2)
	assert.Equal(t, "a", queue.Items[0].ID)

	rec = do(t, router, http.MethodGet, "/api/feedback/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, StatusResponse{
		PendingCount: 2,
		Status:       model.SyncStatusError,
		LastError:    "delivery failed: api returned status 500",
		Online:       true,
	}, status)
}

func TestHandleSyncAndConnectivity(t *testing.T) {
	svc := &serviceMock{}
	svc.On("TrySync").Return(true).Once()
	svc.On("SetOnline", false).Once()
	router := newTestRouter(svc)

	rec := do(t, router, http.MethodPost, "/api/feedback/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"started":true}`, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/connectivity", `{"online":false}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/connectivity", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.AssertExpectations(t)
}
