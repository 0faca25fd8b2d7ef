package api

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/seatwatch/internal/app"
	"github.com/ayusman/seatwatch/internal/detector"
)

// DefaultModel is initialized when a request names no model.
const DefaultModel = "model_1"

// DetectorHandler serves the detector lifecycle endpoints:
//
//	POST /api/initialize-model
//	GET  /api/model-status
//	POST /api/set-model-type
//	POST /api/stop-model
type DetectorHandler struct {
	manager *app.Manager
	log     logrus.FieldLogger
}

// NewDetectorHandler creates a DetectorHandler over manager.
func NewDetectorHandler(manager *app.Manager, log logrus.FieldLogger) *DetectorHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DetectorHandler{manager: manager, log: log}
}

// ServeHTTP routes to the lifecycle operation named by the path.
func (h *DetectorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/initialize-model":
		if allow(w, r, http.MethodPost) {
			h.initialize(w, r)
		}
	case "/api/model-status":
		if allow(w, r, http.MethodGet) {
			h.status(w, r)
		}
	case "/api/set-model-type":
		if allow(w, r, http.MethodPost) {
			h.setModelType(w, r)
		}
	case "/api/stop-model":
		if allow(w, r, http.MethodPost) {
			h.stop(w, r)
		}
	default:
		writeError(w, http.StatusNotFound, "Endpoint not found")
	}
}

// Request and response types

type initializeRequest struct {
	Model      string  `json:"detection_model_type"`
	Format     string  `json:"model_type"`
	Confidence float64 `json:"confidence_threshold"`
	IOU        float64 `json:"iou_threshold"`
}

type setModelTypeRequest struct {
	ModelType string `json:"model_type"`
}

// configResponse adds model_type, the backend kind under the name existing
// clients read.
type configResponse struct {
	app.DetectorConfig
	ModelType detector.Kind `json:"model_type"`
}

type lifecycleResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Config  *configResponse `json:"config,omitempty"`
}

type statusResponse struct {
	Status  app.Status      `json:"status"`
	Message string          `json:"message"`
	Config  *configResponse `json:"config,omitempty"`
}

func toConfigResponse(cfg app.DetectorConfig) *configResponse {
	return &configResponse{DetectorConfig: cfg, ModelType: cfg.BackendKind}
}

func (h *DetectorHandler) initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Model == "" {
		req.Model = DefaultModel
	}

	cfg, err := h.manager.Initialize(r.Context(), app.InitRequest{
		Model:      req.Model,
		Format:     req.Format,
		Confidence: req.Confidence,
		IOU:        req.IOU,
	})
	if err != nil {
		h.log.WithError(err).WithField("model", req.Model).Warn("initialize rejected")
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, lifecycleResponse{
		Success: true,
		Message: fmt.Sprintf("Model initialized successfully (%s)", cfg.BackendKind),
		Config:  toConfigResponse(cfg),
	})
}

func (h *DetectorHandler) status(w http.ResponseWriter, r *http.Request) {
	report := h.manager.Status()
	if report.Config == nil {
		writeJSON(w, http.StatusOK, statusResponse{Status: report.Status, Message: "No model loaded"})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:  report.Status,
		Message: fmt.Sprintf("Model is running (%s)", report.Config.BackendKind),
		Config:  toConfigResponse(*report.Config),
	})
}

func (h *DetectorHandler) setModelType(w http.ResponseWriter, r *http.Request) {
	var req setModelTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.ModelType == "" {
		writeError(w, http.StatusBadRequest, "model_type is required")
		return
	}

	cfg, err := h.manager.SetBackendKind(r.Context(), req.ModelType)
	if err != nil {
		h.log.WithError(err).WithField("model", req.ModelType).Warn("set model type rejected")
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, lifecycleResponse{
		Success: true,
		Message: fmt.Sprintf("Model type set to %s", req.ModelType),
		Config:  toConfigResponse(cfg),
	})
}

func (h *DetectorHandler) stop(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Stop(); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lifecycleResponse{Success: true, Message: "Model stopped successfully"})
}
