package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubActivator struct {
	calls []string
	ends  []*time.Time
	err   error
}

func (s *stubActivator) Activate(_ context.Context, memberID string, subscriptionEnd *time.Time) error {
	s.calls = append(s.calls, memberID)
	s.ends = append(s.ends, subscriptionEnd)
	return s.err
}

func postUpdateRole(t *testing.T, act Activator, body any) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterWebhookRoutes(r, act, zap.NewNop().Sugar())

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/update-role", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestApiUpdateRole_ActiveStatusActivates(t *testing.T) {
	act := &stubActivator{}
	w := postUpdateRole(t, act, map[string]any{"member_id": "123", "status": "active"})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"123"}, act.calls)
	require.Contains(t, w.Body.String(), `"code":0`)
}

func TestApiUpdateRole_AcceptsLegacyIDFields(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"discord_id", map[string]any{"discord_id": "123", "status": "active"}},
		{"discordId", map[string]any{"discordId": "123", "status": "active"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act := &stubActivator{}
			w := postUpdateRole(t, act, tt.body)
			require.Equal(t, http.StatusOK, w.Code)
			require.Equal(t, []string{"123"}, act.calls)
		})
	}
}

func TestApiUpdateRole_PassesSubscriptionEnd(t *testing.T) {
	act := &stubActivator{}
	end := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	w := postUpdateRole(t, act, map[string]any{
		"member_id":        "123",
		"status":           "active",
		"subscription_end": end.Format(time.RFC3339),
	})

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, act.ends, 1)
	require.NotNil(t, act.ends[0])
	require.True(t, act.ends[0].Equal(end))
}

func TestApiUpdateRole_NonActiveStatusIsAcknowledgedNoOp(t *testing.T) {
	act := &stubActivator{}
	w := postUpdateRole(t, act, map[string]any{"member_id": "123", "status": "cancelled"})

	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, act.calls)
}

func TestApiUpdateRole_MissingFieldsRejected(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing member id", map[string]any{"status": "active"}},
		{"missing status", map[string]any{"member_id": "123"}},
		{"empty body", map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act := &stubActivator{}
			w := postUpdateRole(t, act, tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			require.Empty(t, act.calls)
		})
	}
}

func TestApiUpdateRole_MalformedJSONRejected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	act := &stubActivator{}
	RegisterWebhookRoutes(r, act, zap.NewNop().Sugar())

	req := httptest.NewRequest(http.MethodPost, "/update-role", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, act.calls)
}

func TestApiUpdateRole_ActivationFailureReportsError(t *testing.T) {
	act := &stubActivator{err: errors.New("store unavailable")}
	w := postUpdateRole(t, act, map[string]any{"member_id": "123", "status": "active"})

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"code":50000`)
}
