package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/FlavioCFOliveira/FailSight/internal/dataset"
	"github.com/FlavioCFOliveira/FailSight/internal/predict"
	"github.com/FlavioCFOliveira/FailSight/internal/train"
)

const maxBodyBytes = 1 << 16

// Error codes returned in the "error" field.
const (
	codeInvalidInput    = "invalid_input"
	codeModelNotTrained = "model_not_trained"
	codeAlreadyRunning  = "already_running"
	codeBadRequest      = "bad_request"
	codeInternal        = "internal"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// TrainResponse is returned by POST /api/train.
type TrainResponse struct {
	RunID  string `json:"run_id"`
	Epochs int    `json:"epochs"`
}

// PredictRequest is the body of POST /api/predict.
type PredictRequest struct {
	Features []float64 `json:"features"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.Train(s.runCtx)
	switch {
	case errors.Is(err, train.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, codeAlreadyRunning, err.Error())
		return
	case err != nil:
		s.log.Error("start training", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, TrainResponse{RunID: run.ID(), Epochs: run.Epochs()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if s.svc.Cancel() {
		s.log.Info("training cancel requested", zap.String("remote", r.RemoteAddr))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	res, err := s.svc.Predict(r.Context(), req.Features)
	switch {
	case errors.Is(err, dataset.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	case errors.Is(err, predict.ErrModelNotTrained):
		writeError(w, http.StatusServiceUnavailable, codeModelNotTrained, "no trained model is available; start a training run first")
		return
	case err != nil:
		s.log.Error("predict", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, codeBadRequest, "limit must be an integer in [1, 1000]")
			return
		}
		limit = n
	}
	runs, err := s.svc.Runs(r.Context(), limit)
	if err != nil {
		s.log.Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
