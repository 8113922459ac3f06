package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/FailSight/failsight"
	"github.com/FlavioCFOliveira/FailSight/internal/config"
	"github.com/FlavioCFOliveira/FailSight/internal/server"
	"github.com/FlavioCFOliveira/FailSight/internal/store"
	"github.com/FlavioCFOliveira/FailSight/internal/train"
)

func TestTrainOverHTTP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Default()
	cfg.Training.Samples = 300
	cfg.Training.Epochs = 4
	cfg.Training.PreviewSamples = 3

	st, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	defer st.Close()

	hub := server.NewHub(cfg.HTTP.AllowedOrigins, nil)
	go hub.Run(ctx)

	svc, err := failsight.New(cfg, failsight.WithStore(st), failsight.WithCallbacks(hub))
	require.NoError(t, err)

	ts := httptest.NewServer(server.New(ctx, cfg.HTTP, svc, hub, nil).Handler())
	defer ts.Close()

	// predicting before any run is a 503
	resp, err := http.Post(ts.URL+"/api/predict", "application/json", strings.NewReader(`{"features":[75,0.2,120,1800,85]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	resp, err = http.Post(ts.URL+"/api/train", "application/json", nil)
	require.NoError(t, err)
	var started server.TrainResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, started.RunID)
	assert.Equal(t, 4, started.Epochs)

	var types []server.MessageType
	var finished server.RunFinishedData
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	for {
		var msg server.Message
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, started.RunID, msg.RunID)
		types = append(types, msg.Type)
		if msg.Type == server.RunFinished {
			require.NoError(t, json.Unmarshal(msg.Data, &finished))
			break
		}
	}
	assert.Equal(t, []server.MessageType{
		server.RunStarted, server.EpochEnd, server.EpochEnd, server.EpochEnd, server.EpochEnd, server.RunFinished,
	}, types)
	assert.Equal(t, train.Completed, finished.Status)
	assert.Equal(t, 4, finished.Summary.Epochs)
	assert.Len(t, finished.Preview, 3)

	// the run publishes before it is reported finished over HTTP
	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	defer waitCancel()
	_, err = svc.Last().Wait(waitCtx)
	require.NoError(t, err)

	resp, err = http.Get(ts.URL + "/api/train/status")
	require.NoError(t, err)
	var snap map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.Equal(t, "completed", snap["status"])
	assert.Len(t, snap["metrics"], 4)

	resp, err = http.Post(ts.URL+"/api/predict", "application/json", strings.NewReader(`{"features":[75,0.2,120,1800,85]}`))
	require.NoError(t, err)
	var pred map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pred))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, []any{"low", "medium", "high"}, pred["risk_level"])
	assert.Equal(t, 1.0, pred["model_version"])

	resp, err = http.Post(ts.URL+"/api/predict", "application/json", strings.NewReader(`{"features":[75,0.2,-5,1800,85]}`))
	require.NoError(t, err)
	var eb map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&eb))
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", eb["error"])

	resp, err = http.Get(ts.URL + "/api/runs?limit=5")
	require.NoError(t, err)
	var runs []store.RunRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	resp.Body.Close()
	require.Len(t, runs, 1)
	assert.Equal(t, started.RunID, runs[0].ID)
	assert.Equal(t, "completed", runs[0].Status)
}
