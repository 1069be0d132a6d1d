package changelog

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	apiError "widget-sync-engine/internal/errors"
	"widget-sync-engine/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// mock implementation of the Service interface
type MockService struct {
	mock.Mock
}

func (m *MockService) RecordChange(ctx context.Context, sessionID *string, widgetID, userID string, changeType ChangeType, changeData, previousData Payload) (*ChangeRecord, error) {
	args := m.Called(ctx, sessionID, widgetID, userID, changeType, changeData, previousData)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChangeRecord), args.Error(1)
}

func (m *MockService) GetChange(ctx context.Context, changeID string) (*ChangeRecord, error) {
	args := m.Called(ctx, changeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChangeRecord), args.Error(1)
}

func (m *MockService) GetHistory(ctx context.Context, widgetID string, limit int) ([]ChangeRecord, error) {
	args := m.Called(ctx, widgetID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ChangeRecord), args.Error(1)
}

func (m *MockService) SynchronizeState(ctx context.Context, widgetID, userID string, local LocalState) (*SyncResult, error) {
	args := m.Called(ctx, widgetID, userID, local)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SyncResult), args.Error(1)
}

func (m *MockService) GetCollaborationStats(ctx context.Context, widgetID string) (*CollaborationStats, error) {
	args := m.Called(ctx, widgetID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CollaborationStats), args.Error(1)
}

func setupRouter(handler *Handler, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandler())
	router.Use(func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Next()
	})

	router.POST("/widgets/:id/changes", handler.RecordChange)
	router.GET("/widgets/:id/changes", handler.ShowHistory)
	router.GET("/changes/:changeId", handler.ShowChange)
	router.POST("/widgets/:id/sync", handler.Synchronize)
	router.GET("/widgets/:id/stats", handler.ShowStats)
	return router
}

func TestRecordChangeEndpoint(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(NewHandler(mockService), "U1")

	record := &ChangeRecord{
		ID:         "C1",
		WidgetID:   "W1",
		UserID:     "U1",
		ChangeType: ChangeUpdate,
		ChangeData: Payload{"title": "Sales"},
		Applied:    true,
	}
	mockService.
		On("RecordChange", mock.Anything, (*string)(nil), "W1", "U1", ChangeUpdate, Payload{"title": "Sales"}, Payload(nil)).
		Return(record, nil)

	body, _ := json.Marshal(gin.H{
		"change_type": "UPDATE",
		"change_data": gin.H{"title": "Sales"},
	})
	req := httptest.NewRequest(http.MethodPost, "/widgets/W1/changes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusCreated, recorder.Code)

	var got ChangeRecord
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &got))
	assert.Equal(t, "C1", got.ID)
	assert.True(t, got.Applied)
	mockService.AssertExpectations(t)
}

func TestRecordChangeEndpointValidation(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(NewHandler(mockService), "U1")

	// missing change_type
	body, _ := json.Marshal(gin.H{"change_data": gin.H{"title": "Sales"}})
	req := httptest.NewRequest(http.MethodPost, "/widgets/W1/changes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	mockService.AssertNotCalled(t, "RecordChange")
}

func TestRecordChangeEndpointForbidden(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(NewHandler(mockService), "viewer")

	mockService.
		On("RecordChange", mock.Anything, (*string)(nil), "W1", "viewer", ChangeUpdate, Payload{"title": "x"}, Payload(nil)).
		Return(nil, apiError.Forbidden("Edit permission required", nil))

	body, _ := json.Marshal(gin.H{
		"change_type": "UPDATE",
		"change_data": gin.H{"title": "x"},
	})
	req := httptest.NewRequest(http.MethodPost, "/widgets/W1/changes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusForbidden, recorder.Code)

	var response map[string]any
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, string(apiError.KindForbidden), response["kind"])
}

func TestSynchronizeEndpoint(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(NewHandler(mockService), "U1")

	cursor := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	result := &SyncResult{
		SyncedState:       Payload{"title": "Sales"},
		AppliedChanges:    []ChangeRecord{{ID: "C1"}},
		LastSyncTimestamp: cursor.Add(time.Hour),
	}
	mockService.
		On("SynchronizeState", mock.Anything, "W1", "U1", LocalState{
			LastSyncTimestamp: cursor,
			State:             Payload{"title": "old"},
		}).
		Return(result, nil)

	body, _ := json.Marshal(gin.H{
		"last_sync_timestamp": cursor,
		"state":               gin.H{"title": "old"},
	})
	req := httptest.NewRequest(http.MethodPost, "/widgets/W1/sync", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)

	var got SyncResult
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &got))
	assert.Equal(t, "Sales", got.SyncedState["title"])
	assert.Len(t, got.AppliedChanges, 1)
	mockService.AssertExpectations(t)
}

func TestShowHistoryEndpointDefaultLimit(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(NewHandler(mockService), "U1")

	mockService.On("GetHistory", mock.Anything, "W1", 50).Return([]ChangeRecord{{ID: "C1"}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/widgets/W1/changes", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	mockService.AssertExpectations(t)
}

func TestShowStatsEndpoint(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter(NewHandler(mockService), "U1")

	mockService.On("GetCollaborationStats", mock.Anything, "W1").
		Return(&CollaborationStats{TotalChanges: 7, ActiveCollaborators: 2}, nil)

	req := httptest.NewRequest(http.MethodGet, "/widgets/W1/stats", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)

	var got CollaborationStats
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &got))
	assert.Equal(t, int64(7), got.TotalChanges)
	mockService.AssertExpectations(t)
}
