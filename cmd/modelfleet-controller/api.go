// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/bureau-foundation/modelfleet/lib/controlclient"
)

// requestIDHeader carries the correlation id. Callers may supply
// their own; otherwise one is generated.
const requestIDHeader = "X-Request-ID"

// maxRequestBody bounds request bodies. Control requests are a few
// hundred bytes.
const maxRequestBody = 1 << 20

// apiHandler adapts Controller to HTTP.
type apiHandler struct {
	controller *Controller
	logger     *slog.Logger
}

// deployBody accepts both the camelCase fields and the snake_case
// names older clients send.
type deployBody struct {
	ModelID       string `json:"modelId"`
	LegacyModelID string `json:"model_id"`
	Version       string `json:"version"`
}

type stopBody struct {
	DeploymentID       string `json:"deploymentId"`
	LegacyDeploymentID string `json:"deployment_id"`
}

type configBody struct {
	controlclient.ConfigUpdate
	LegacySkipConnectivityTest *bool                   `json:"skip_connectivity_test"`
	LegacyHealthCheckTimeout   *controlclient.Duration `json:"health_check_timeout"`
	LegacyEnablePublicURLs     *bool                   `json:"enable_public_urls"`
	LegacyStalenessWindow      *controlclient.Duration `json:"staleness_window"`
}

// update folds the snake_case fields into the canonical ones. The
// camelCase field wins when both are present.
func (b configBody) update() controlclient.ConfigUpdate {
	update := b.ConfigUpdate
	if update.SkipConnectivityTest == nil {
		update.SkipConnectivityTest = b.LegacySkipConnectivityTest
	}
	if update.HealthCheckTimeout == nil {
		update.HealthCheckTimeout = b.LegacyHealthCheckTimeout
	}
	if update.EnablePublicURLs == nil {
		update.EnablePublicURLs = b.LegacyEnablePublicURLs
	}
	if update.StalenessWindow == nil {
		update.StalenessWindow = b.LegacyStalenessWindow
	}
	return update
}

// newRouter builds the Control API. Every route is mounted at the root
// and again under /controller.
func newRouter(controller *Controller, metrics http.Handler, logger *slog.Logger) http.Handler {
	api := &apiHandler{controller: controller, logger: logger}

	router := mux.NewRouter()
	api.register(router)
	api.register(router.PathPrefix("/controller").Subrouter())
	if metrics != nil {
		router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, logger, http.StatusNotFound, controlclient.KindNotFound, fmt.Sprintf("no route for %s", r.URL.Path))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, logger, http.StatusMethodNotAllowed, controlclient.KindValidation, fmt.Sprintf("%s not allowed on %s", r.Method, r.URL.Path))
	})

	return withRequestID(logger, router)
}

func (a *apiHandler) register(router *mux.Router) {
	router.HandleFunc("/deploy", a.deploy).Methods(http.MethodPost)
	router.HandleFunc("/stop", a.stop).Methods(http.MethodPost)
	router.HandleFunc("/status", a.status).Methods(http.MethodGet)
	router.HandleFunc("/deployments", a.deployments).Methods(http.MethodGet)
	router.HandleFunc("/config", a.config).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc("/health", a.health).Methods(http.MethodGet)
	router.HandleFunc("/test-routing", a.testRouting).Methods(http.MethodGet)
}

func (a *apiHandler) deploy(w http.ResponseWriter, r *http.Request) {
	var body deployBody
	if err := decodeBody(w, r, &body); err != nil {
		a.fail(w, r, err, deployStatus)
		return
	}
	modelID := body.ModelID
	if modelID == "" {
		modelID = body.LegacyModelID
	}
	response, err := a.controller.Deploy(r.Context(), modelID, body.Version)
	if err != nil {
		a.fail(w, r, err, deployStatus)
		return
	}
	writeJSON(w, a.logger, http.StatusOK, response)
}

func (a *apiHandler) stop(w http.ResponseWriter, r *http.Request) {
	var body stopBody
	if err := decodeBody(w, r, &body); err != nil {
		a.fail(w, r, err, stopStatus)
		return
	}
	deploymentID := body.DeploymentID
	if deploymentID == "" {
		deploymentID = body.LegacyDeploymentID
	}
	message, err := a.controller.Stop(r.Context(), deploymentID)
	if err != nil {
		a.fail(w, r, err, stopStatus)
		return
	}
	writeJSON(w, a.logger, http.StatusOK, controlclient.StopResponse{Message: message})
}

func (a *apiHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.logger, http.StatusOK, a.controller.Status())
}

func (a *apiHandler) deployments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.logger, http.StatusOK, a.controller.Deployments())
}

func (a *apiHandler) config(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, a.logger, http.StatusOK, a.controller.Config())
		return
	}
	var body configBody
	if err := decodeBody(w, r, &body); err != nil {
		a.fail(w, r, err, configStatus)
		return
	}
	response, err := a.controller.UpdateConfig(body.update())
	if err != nil {
		a.fail(w, r, err, configStatus)
		return
	}
	writeJSON(w, a.logger, http.StatusOK, response)
}

func (a *apiHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.logger, http.StatusOK, controlclient.HealthResponse{Status: "healthy"})
}

func (a *apiHandler) testRouting(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.logger, http.StatusOK, a.controller.CheckRouting(r.Context()))
}

// fail writes err as {error, kind} with the status statusOf assigns
// to its kind.
func (a *apiHandler) fail(w http.ResponseWriter, r *http.Request, err error, statusOf func(kind string) int) {
	kind := errorKind(err)
	status := statusOf(kind)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", w.Header().Get(requestIDHeader),
			"kind", kind,
			"error", err,
		)
	}
	writeError(w, a.logger, status, kind, err.Error())
}

func deployStatus(kind string) int {
	switch kind {
	case controlclient.KindValidation:
		return http.StatusBadRequest
	case controlclient.KindNoActiveNodes, controlclient.KindNoReachableNodes:
		return http.StatusServiceUnavailable
	case controlclient.KindDispatchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func stopStatus(kind string) int {
	switch kind {
	case controlclient.KindValidation:
		return http.StatusBadRequest
	case controlclient.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func configStatus(kind string) int {
	if kind == controlclient.KindValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// decodeBody reads a JSON object into v. An empty body leaves v zero.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decoding request body: %v", errInvalidRequest, err)
	}
	return nil
}

// writeJSON sends value with status. The header is already out when
// encoding fails, so the failure is only logged.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		logger.Debug("writing response body failed",
			"status", status,
			"request_id", w.Header().Get(requestIDHeader),
			"error", err,
		)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, kind, message string) {
	writeJSON(w, logger, status, controlclient.ErrorResponse{Error: message, Kind: kind})
}

// statusRecorder captures the status code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestID stamps every response with X-Request-ID and logs one
// line per request.
func withRequestID(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)

		logger.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"request_id", requestID,
			"duration", time.Since(start),
		)
	})
}
