package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FlavioCFOliveira/FailSight/internal/config"
	"github.com/FlavioCFOliveira/FailSight/internal/dataset"
	"github.com/FlavioCFOliveira/FailSight/internal/predict"
	"github.com/FlavioCFOliveira/FailSight/internal/store"
	"github.com/FlavioCFOliveira/FailSight/internal/train"
)

type fakeService struct {
	trainErr   error
	cancelled  bool
	status     train.Snapshot
	predictRes predict.Result
	predictErr error
	runs       []store.RunRecord
	runsLimit  int
}

func (f *fakeService) Train(context.Context) (*train.Run, error) { return nil, f.trainErr }
func (f *fakeService) Cancel() bool                              { f.cancelled = true; return false }
func (f *fakeService) Status() train.Snapshot                    { return f.status }

func (f *fakeService) Predict(_ context.Context, features []float64) (predict.Result, error) {
	if f.predictErr != nil {
		return predict.Result{}, f.predictErr
	}
	return f.predictRes, nil
}

func (f *fakeService) Runs(_ context.Context, limit int) ([]store.RunRecord, error) {
	f.runsLimit = limit
	return f.runs, nil
}

func newTestServer(svc Service) http.Handler {
	cfg := config.Default().HTTP
	cfg.AllowedOrigins = []string{"http://dashboard.local"}
	return New(context.Background(), cfg, svc, nil, nil).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, errorBody) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var eb errorBody
	if rec.Code >= 400 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb), rec.Body.String())
	}
	return rec, eb
}

func TestPredictStatusMapping(t *testing.T) {
	invalid := &dataset.InputError{Field: "pressure", Value: -1, Reason: "below 0"}
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"ok", nil, http.StatusOK, ""},
		{"invalid input", fmt.Errorf("predict: %w", invalid), http.StatusBadRequest, codeInvalidInput},
		{"not trained", predict.ErrModelNotTrained, http.StatusServiceUnavailable, codeModelNotTrained},
		{"other", errors.New("boom"), http.StatusInternalServerError, codeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{
				predictErr: tt.err,
				predictRes: predict.Result{Probability: 0.81, RiskLevel: predict.High, Confidence: 0.62, ModelVersion: 3},
			}
			rec, eb := do(t, newTestServer(svc), http.MethodPost, "/api/predict", `{"features":[75,0.2,120,1800,85]}`)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, eb.Error)
			if tt.err == nil {
				var got map[string]any
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.Equal(t, "high", got["risk_level"])
				assert.Equal(t, 0.81, got["probability"])
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestPredictBadBody(t *testing.T) {
	h := newTestServer(&fakeService{})
	for _, body := range []string{"", "{", `{"features":"x"}`, `{"feature":[1,2,3,4,5]}`} {
		rec, eb := do(t, h, http.MethodPost, "/api/predict", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, codeBadRequest, eb.Error, body)
	}
}

func TestTrainConflict(t *testing.T) {
	svc := &fakeService{trainErr: fmt.Errorf("%w: run r-1", train.ErrAlreadyRunning)}
	rec, eb := do(t, newTestServer(svc), http.MethodPost, "/api/train", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, codeAlreadyRunning, eb.Error)
	assert.Contains(t, eb.Message, "r-1")
}

func TestTrainInvalidData(t *testing.T) {
	svc := &fakeService{trainErr: errors.New("dataset: empty")}
	rec, eb := do(t, newTestServer(svc), http.MethodPost, "/api/train", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, codeInternal, eb.Error)
}

func TestCancelIsNoContent(t *testing.T) {
	svc := &fakeService{}
	rec, _ := do(t, newTestServer(svc), http.MethodPost, "/api/train/cancel", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, svc.cancelled)
}

func TestStatus(t *testing.T) {
	svc := &fakeService{status: train.Snapshot{Status: train.Idle, Epochs: 50, Metrics: []train.Metrics{}}}
	rec, _ := do(t, newTestServer(svc), http.MethodGet, "/api/train/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "idle", got["status"])
	assert.Equal(t, []any{}, got["metrics"])
	assert.NotContains(t, got, "latest")
}

func TestRunsLimit(t *testing.T) {
	svc := &fakeService{runs: []store.RunRecord{{ID: "a", Status: "completed"}}}
	h := newTestServer(svc)

	rec, _ := do(t, h, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, svc.runsLimit)

	rec, _ = do(t, h, http.MethodGet, "/api/runs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, svc.runsLimit)

	for _, bad := range []string{"0", "-1", "x", "1001"} {
		rec, eb := do(t, h, http.MethodGet, "/api/runs?limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
		assert.Equal(t, codeBadRequest, eb.Error)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&fakeService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/predict", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORS(t *testing.T) {
	h := newTestServer(&fakeService{})

	req := httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://dashboard.local", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.local")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecovery(t *testing.T) {
	h := Chain(Recovery(zap.NewNop()), AccessLog(zap.NewNop()))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec, eb := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, codeInternal, eb.Error)
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub([]string{"*"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	hub.Publish(EpochEnd, "run-1", train.Metrics{Epoch: 1, Epochs: 2, ValAccuracy: 0.9})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EpochEnd, msg.Type)
	assert.Equal(t, "run-1", msg.RunID)

	var m train.Metrics
	require.NoError(t, json.Unmarshal(msg.Data, &m))
	assert.Equal(t, 1, m.Epoch)
	assert.Equal(t, 0.9, m.ValAccuracy)

	// stopping the hub disconnects the client
	cancel()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHubRejectsOrigin(t *testing.T) {
	hub := NewHub([]string{"http://dashboard.local"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	ts := httptest.NewServer(hub)
	defer ts.Close()

	header := http.Header{"Origin": []string{"http://evil.local"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
