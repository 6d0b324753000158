// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bureau-foundation/modelfleet/lib/agentclient"
	"github.com/bureau-foundation/modelfleet/lib/clock"
	"github.com/bureau-foundation/modelfleet/lib/controlclient"
	"github.com/bureau-foundation/modelfleet/lib/deployment"
	"github.com/bureau-foundation/modelfleet/lib/fleetmetrics"
	"github.com/bureau-foundation/modelfleet/lib/fleetstate"
	"github.com/bureau-foundation/modelfleet/lib/routing"
	"github.com/bureau-foundation/modelfleet/lib/scheduler"
	"github.com/bureau-foundation/modelfleet/lib/telemetry"
	"github.com/bureau-foundation/modelfleet/lib/testutil"
)

var testEpoch = time.Date(2026, 4, 20, 8, 0, 0, 0, time.UTC)

func percent(value float64) *float64 { return &value }

// --- Fakes ---

// fakeAgent answers the node agent protocol and records calls.
type fakeAgent struct {
	mu             sync.Mutex
	deployResponse string
	deployStatus   int
	stopStatus     int
	healthStatus   int
	deploys        []string
	stops          []string
}

func (a *fakeAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/health":
		w.WriteHeader(a.healthStatus)

	case r.Method == http.MethodPost && r.URL.Path == "/deploy":
		var request struct {
			ModelID string `json:"modelId"`
			Version string `json:"version"`
		}
		json.NewDecoder(r.Body).Decode(&request)
		a.deploys = append(a.deploys, request.ModelID+":"+request.Version)
		if a.deployStatus != http.StatusOK {
			http.Error(w, "vm boot failed", a.deployStatus)
			return
		}
		io.WriteString(w, a.deployResponse)

	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/stop/"):
		a.stops = append(a.stops, strings.TrimPrefix(r.URL.Path, "/stop/"))
		if a.stopStatus != http.StatusOK {
			http.Error(w, "container busy", a.stopStatus)
			return
		}
		io.WriteString(w, `{"status":"stopped"}`)

	default:
		http.NotFound(w, r)
	}
}

func (a *fakeAgent) set(change func(*fakeAgent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	change(a)
}

func (a *fakeAgent) calls() (deploys, stops []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.deploys...), append([]string(nil), a.stops...)
}

// fakeCaddy keeps route ids and answers the admin API subset the
// publisher uses.
type fakeCaddy struct {
	mu     sync.Mutex
	routes map[string]bool
	broken bool

	// lostReply applies an added route but answers 502, as when the
	// admin API's response never reaches the publisher.
	lostReply bool
}

func (c *fakeCaddy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		http.Error(w, "admin endpoint disabled", http.StatusInternalServerError)
		return
	}
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/config/":
		io.WriteString(w, `{}`)
	case r.Method == http.MethodPost && r.URL.Path == "/config/apps/http/servers/srv0/routes":
		var added struct {
			ID string `json:"@id"`
		}
		json.NewDecoder(r.Body).Decode(&added)
		c.routes[added.ID] = true
		if c.lostReply {
			http.Error(w, "upstream reset", http.StatusBadGateway)
		}
	case strings.HasPrefix(r.URL.Path, "/id/"):
		id := strings.TrimPrefix(r.URL.Path, "/id/")
		if !c.routes[id] {
			http.Error(w, `{"error":"unknown object ID"}`, http.StatusNotFound)
			return
		}
		if r.Method == http.MethodDelete {
			delete(c.routes, id)
		}
	default:
		http.NotFound(w, r)
	}
}

func (c *fakeCaddy) has(deploymentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.routes[routing.RouteID(deploymentID)]
}

func (c *fakeCaddy) setLostReply(lost bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lostReply = lost
}

func (c *fakeCaddy) setBroken(broken bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broken = broken
}

// --- Harness ---

type testController struct {
	t          *testing.T
	clock      *clock.FakeClock
	store      *fleetstate.Store
	registry   *deployment.Registry
	metrics    *fleetmetrics.Metrics
	controller *Controller
	agent      *fakeAgent
	agentIP    string
	agentPort  int
	caddy      *fakeCaddy
	server     *httptest.Server
	client     *controlclient.Client
}

type harnessOptions struct {
	publicURLs bool
	noRouting  bool
}

func newTestController(t *testing.T, options harnessOptions) *testController {
	t.Helper()
	fake := clock.Fake(testEpoch)

	agent := &fakeAgent{
		deployResponse: `{"deploymentId":"m-123","accessUrl":"http://10.0.0.5:7000"}`,
		deployStatus:   http.StatusOK,
		stopStatus:     http.StatusOK,
		healthStatus:   http.StatusOK,
	}
	agentServer := httptest.NewServer(agent)
	t.Cleanup(agentServer.Close)
	agentIP, agentPort := serverAddress(t, agentServer)

	caddy := &fakeCaddy{routes: make(map[string]bool)}
	caddyServer := httptest.NewServer(caddy)
	t.Cleanup(caddyServer.Close)

	store := fleetstate.New(fleetstate.Config{Clock: fake})
	metrics := fleetmetrics.New()
	agents := agentclient.New(agentclient.Config{
		DeployTimeout: 5 * time.Second,
		StopTimeout:   5 * time.Second,
	})
	nodeScheduler, err := scheduler.New(store, meteredProber{prober: agents, metrics: metrics}, scheduler.Config{
		StalenessWindow:    300 * time.Second,
		HealthCheckTimeout: 5 * time.Second,
	}, fake, nil)
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	registry, err := deployment.NewRegistry(context.Background(), deployment.RegistryConfig{Clock: fake})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	var publisher routePublisher
	if !options.noRouting {
		caddyPublisher, err := routing.New(routing.Config{
			AdminURL:      caddyServer.URL,
			PublicURLBase: "https://models.example.com",
		})
		if err != nil {
			t.Fatalf("routing.New: %v", err)
		}
		publisher = caddyPublisher
	}

	logger := testutil.Logger(t)
	controller := newController(controllerConfig{
		Store:            store,
		Scheduler:        nodeScheduler,
		Registry:         registry,
		Agents:           agents,
		Publisher:        publisher,
		EnablePublicURLs: options.publicURLs,
		RoutingAdminURL:  caddyServer.URL,
		PublicURLBase:    "https://models.example.com",
		Metrics:          metrics,
		Clock:            fake,
		Logger:           logger,
	})

	server := httptest.NewServer(newRouter(controller, metrics.Handler(), logger))
	t.Cleanup(server.Close)

	return &testController{
		t:          t,
		clock:      fake,
		store:      store,
		registry:   registry,
		metrics:    metrics,
		controller: controller,
		agent:      agent,
		agentIP:    agentIP,
		agentPort:  agentPort,
		caddy:      caddy,
		server:     server,
		client:     controlclient.New(server.URL, server.Client()),
	}
}

func serverAddress(t *testing.T, server *httptest.Server) (string, int) {
	t.Helper()
	host, portText, err := net.SplitHostPort(server.Listener.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return host, port
}

// report records telemetry for nodeID pointing at the fake agent.
func (h *testController) report(nodeID string, cpu, memory float64) {
	h.store.UpsertTelemetry(nodeID, telemetry.Record{
		NodeID:        nodeID,
		IP:            h.agentIP,
		Port:          h.agentPort,
		CPUPercent:    percent(cpu),
		MemoryPercent: percent(memory),
	})
}

// post sends a raw JSON body and returns the response.
func (h *testController) post(path, body string) *http.Response {
	h.t.Helper()
	response, err := h.server.Client().Post(h.server.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		h.t.Fatalf("POST %s: %v", path, err)
	}
	h.t.Cleanup(func() { response.Body.Close() })
	return response
}

func decodeError(t *testing.T, response *http.Response) controlclient.ErrorResponse {
	t.Helper()
	var body controlclient.ErrorResponse
	if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body
}

// --- Deploy ---

func TestDeploySelectsLowestScoreNode(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	h.report("node-1", 80, 50) // score 71
	h.report("node-2", 50, 90) // score 62

	response, err := h.client.Deploy(context.Background(), "resnet", "v2")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if response.NodeID != "node-2" {
		t.Errorf("NodeID = %q, want node-2", response.NodeID)
	}
	deploys, _ := h.agent.calls()
	if len(deploys) != 1 || deploys[0] != "resnet:v2" {
		t.Errorf("agent deploys = %v, want [resnet:v2]", deploys)
	}
}

func TestDeployNoActiveNodesWhenTelemetryStale(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	h.report("node-1", 10, 10)
	h.clock.Advance(400 * time.Second)

	response := h.post("/deploy", `{"modelId":"resnet"}`)
	if response.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", response.StatusCode)
	}
	if body := decodeError(t, response); body.Kind != controlclient.KindNoActiveNodes {
		t.Errorf("kind = %q, want %q", body.Kind, controlclient.KindNoActiveNodes)
	}
	if deploys, _ := h.agent.calls(); len(deploys) != 0 {
		t.Errorf("agent called for a stale fleet: %v", deploys)
	}
	if got := promtestutil.ToFloat64(h.metrics.Deploys.WithLabelValues(controlclient.KindNoActiveNodes)); got != 1 {
		t.Errorf("deploys{no_active_nodes} = %v, want 1", got)
	}
}

func TestDeployRecordsRunningDeployment(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	h.report("node-1", 10, 10)

	response, err := h.client.Deploy(context.Background(), "resnet", "")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if response.DeploymentID != "m-123" || response.InternalURL != "http://10.0.0.5:7000" {
		t.Errorf("Deploy() = %+v", response)
	}
	if response.PublicURL != "" {
		t.Errorf("PublicURL = %q with public URLs disabled", response.PublicURL)
	}

	record, ok := h.registry.Get("m-123")
	if !ok {
		t.Fatal("m-123 not registered")
	}
	if record.State != deployment.StateRunning || record.InternalURL != "http://10.0.0.5:7000" {
		t.Errorf("record = %+v, want Running with the agent's access URL", record)
	}
	if record.Version != controlclient.DefaultVersion {
		t.Errorf("Version = %q, want %q", record.Version, controlclient.DefaultVersion)
	}
}

func TestDeploySucceedsWhenRoutingFails(t *testing.T) {
	h := newTestController(t, harnessOptions{publicURLs: true})
	h.report("node-1", 10, 10)
	h.caddy.setBroken(true)

	response, err := h.client.Deploy(context.Background(), "resnet", "v1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if response.InternalURL == "" {
		t.Error("InternalURL is empty")
	}
	if response.PublicURL != "" {
		t.Errorf("PublicURL = %q after a failed publish", response.PublicURL)
	}
	record, _ := h.registry.Get(response.DeploymentID)
	if record.State != deployment.StateRunning {
		t.Errorf("State = %s, want running", record.State)
	}
	if got := promtestutil.ToFloat64(h.metrics.RouteFailures.WithLabelValues("publish")); got != 1 {
		t.Errorf("route_failures{publish} = %v, want 1", got)
	}
}

func TestDeployPublishesRoute(t *testing.T) {
	h := newTestController(t, harnessOptions{publicURLs: true})
	h.report("node-1", 10, 10)

	response, err := h.client.Deploy(context.Background(), "resnet", "v1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if response.PublicURL != "https://models.example.com/m-123" {
		t.Errorf("PublicURL = %q", response.PublicURL)
	}
	if !h.caddy.has("m-123") {
		t.Error("route not added to the proxy")
	}
	record, _ := h.registry.Get("m-123")
	if record.State != deployment.StateRouted || record.PublicURL != response.PublicURL {
		t.Errorf("record = %+v, want Routed with the public URL", record)
	}
}

func TestDeployDispatchFailure(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	h.report("node-1", 10, 10)
	h.agent.set(func(a *fakeAgent) { a.deployStatus = http.StatusInternalServerError })

	_, err := h.client.Deploy(context.Background(), "resnet", "v1")
	if controlclient.ErrorKind(err) != controlclient.KindDispatchFailed {
		t.Fatalf("Deploy error = %v, want kind %s", err, controlclient.KindDispatchFailed)
	}
	if !strings.Contains(err.Error(), "vm boot failed") {
		t.Errorf("error %q does not carry the agent's body", err)
	}
	if h.registry.Len() != 0 {
		t.Errorf("registry has %d records after a failed dispatch", h.registry.Len())
	}
	response := h.post("/deploy", `{"modelId":"resnet"}`)
	if response.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", response.StatusCode)
	}
}

func TestDeployNoReachableNodes(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	h.report("node-1", 10, 10)
	h.agent.set(func(a *fakeAgent) { a.healthStatus = http.StatusServiceUnavailable })

	response := h.post("/deploy", `{"modelId":"resnet"}`)
	if response.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", response.StatusCode)
	}
	if body := decodeError(t, response); body.Kind != controlclient.KindNoReachableNodes {
		t.Errorf("kind = %q, want %q", body.Kind, controlclient.KindNoReachableNodes)
	}
	if got := promtestutil.ToFloat64(h.metrics.Probes.WithLabelValues("false")); got != 1 {
		t.Errorf("probes{reachable=false} = %v, want 1", got)
	}
}

func TestDeployGeneratesIDWhenAgentOmitsOne(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	h.report("node-1", 10, 10)
	h.agent.set(func(a *fakeAgent) {
		a.deployResponse = `{"accessUrl":"http://10.0.0.5:7001"}`
		// The agent has never heard of the generated id.
		a.stopStatus = http.StatusNotFound
	})

	response, err := h.client.Deploy(context.Background(), "resnet", "v1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if len(response.DeploymentID) != 36 {
		t.Errorf("DeploymentID = %q, want a generated UUID", response.DeploymentID)
	}
	record, ok := h.registry.Get(response.DeploymentID)
	if !ok {
		t.Fatal("generated id not registered")
	}
	if !record.LocalID {
		t.Error("generated id not marked LocalID")
	}

	if _, err := h.client.Stop(context.Background(), response.DeploymentID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, stops := h.agent.calls(); len(stops) != 0 {
		t.Errorf("agent stops = %v, want none for a generated id", stops)
	}
	if h.registry.Len() != 0 {
		t.Errorf("registry has %d records after stop", h.registry.Len())
	}
}

func TestDeployValidation(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	h.report("node-1", 10, 10)

	for _, body := range []string{`{}`, `{"modelId":"  "}`, `{"modelId":`, ``} {
		response := h.post("/deploy", body)
		if response.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, response.StatusCode)
			continue
		}
		if got := decodeError(t, response); got.Kind != controlclient.KindValidation {
			t.Errorf("body %q: kind = %q", body, got.Kind)
		}
	}
}

func TestDeployAcceptsSnakeCaseBody(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	h.report("node-1", 10, 10)

	response := h.post("/controller/deploy", `{"model_id":"resnet","version":"v3"}`)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", response.StatusCode)
	}
	deploys, _ := h.agent.calls()
	if len(deploys) != 1 || deploys[0] != "resnet:v3" {
		t.Errorf("agent deploys = %v", deploys)
	}
}

// --- Stop ---

func TestStopUnknownDeployment(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	h.report("node-1", 10, 10)
	if _, err := h.client.Deploy(context.Background(), "resnet", "v1"); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	response := h.post("/stop", `{"deploymentId":"missing"}`)
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", response.StatusCode)
	}
	if body := decodeError(t, response); body.Kind != controlclient.KindNotFound {
		t.Errorf("kind = %q, want not_found", body.Kind)
	}
	if h.registry.Len() != 1 {
		t.Errorf("registry has %d records, want 1", h.registry.Len())
	}
	if _, stops := h.agent.calls(); len(stops) != 0 {
		t.Errorf("agent stop called for an unknown deployment: %v", stops)
	}
}

func TestStopRemovesDeploymentAndRoute(t *testing.T) {
	h := newTestController(t, harnessOptions{publicURLs: true})
	h.report("node-1", 10, 10)
	if _, err := h.client.Deploy(context.Background(), "resnet", "v1"); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	response, err := h.client.Stop(context.Background(), "m-123")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !strings.Contains(response.Message, "m-123") {
		t.Errorf("Message = %q", response.Message)
	}
	if _, stops := h.agent.calls(); len(stops) != 1 || stops[0] != "m-123" {
		t.Errorf("agent stops = %v, want [m-123]", stops)
	}
	if h.caddy.has("m-123") {
		t.Error("route still present after stop")
	}
	if h.registry.Len() != 0 {
		t.Errorf("registry has %d records after stop", h.registry.Len())
	}
}

func TestStopRemovesRouteWhosePublishLookedFailed(t *testing.T) {
	h := newTestController(t, harnessOptions{publicURLs: true})
	h.report("node-1", 10, 10)
	h.caddy.setLostReply(true)

	response, err := h.client.Deploy(context.Background(), "resnet", "v1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if response.PublicURL != "" {
		t.Errorf("PublicURL = %q after a failed publish", response.PublicURL)
	}
	if !h.caddy.has("m-123") {
		t.Fatal("admin API did not keep the route")
	}
	if record, _ := h.registry.Get("m-123"); record.State != deployment.StateRunning {
		t.Fatalf("State = %s, want running", record.State)
	}

	if _, err := h.client.Stop(context.Background(), "m-123"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.caddy.has("m-123") {
		t.Error("route still present after stopping a running deployment")
	}
}

func TestStopAgentFailureKeepsRecord(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	h.report("node-1", 10, 10)
	if _, err := h.client.Deploy(context.Background(), "resnet", "v1"); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	h.agent.set(func(a *fakeAgent) { a.stopStatus = http.StatusConflict })

	response := h.post("/stop", `{"deployment_id":"m-123"}`)
	if response.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", response.StatusCode)
	}
	if body := decodeError(t, response); body.Kind != controlclient.KindDispatchFailed {
		t.Errorf("kind = %q, want dispatch_failed", body.Kind)
	}
	if _, ok := h.registry.Get("m-123"); !ok {
		t.Error("record removed after a failed stop")
	}
}

func TestStopNodeUnavailable(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	if _, err := h.registry.Insert(deployment.Record{
		ID:          "orphan",
		ModelID:     "resnet",
		NodeID:      "node-gone",
		InternalURL: "http://10.0.0.9:7000",
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	_, err := h.client.Stop(context.Background(), "orphan")
	if controlclient.ErrorKind(err) != controlclient.KindNodeUnavailable {
		t.Fatalf("Stop error = %v, want kind node_unavailable", err)
	}
	if _, ok := h.registry.Get("orphan"); !ok {
		t.Error("record removed though the node was unavailable")
	}
	if got := promtestutil.ToFloat64(h.metrics.Stops.WithLabelValues(controlclient.KindNodeUnavailable)); got != 1 {
		t.Errorf("stops{node_unavailable} = %v, want 1", got)
	}
}

// --- Queries ---

func TestStatusListsActiveNodesOnly(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	h.report("node-old", 10, 10)
	h.clock.Advance(301 * time.Second)
	h.report("node-new", 20, 30)

	status, err := h.client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.ActiveNodeCount != 1 || !status.Ready {
		t.Errorf("Status = %+v, want one active node and ready", status)
	}
	node, ok := status.Nodes["node-new"]
	if !ok {
		t.Fatalf("node-new missing from %v", status.Nodes)
	}
	if node.CPUPercent == nil || *node.CPUPercent != 20 || node.Port != h.agentPort {
		t.Errorf("node-new = %+v", node)
	}
	if _, ok := status.Nodes["node-old"]; ok {
		t.Error("stale node listed")
	}
}

func TestStatusEmptyFleetNotReady(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	status, err := h.client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Ready || status.ActiveNodeCount != 0 {
		t.Errorf("Status = %+v, want not ready", status)
	}
}

func TestDeploymentsOrderedWithUptime(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	h.report("node-1", 10, 10)

	if _, err := h.client.Deploy(context.Background(), "first", "v1"); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	h.clock.Advance(time.Minute)
	h.report("node-1", 10, 10)
	h.agent.set(func(a *fakeAgent) {
		a.deployResponse = `{"deploymentId":"m-456","accessUrl":"http://10.0.0.5:7001"}`
	})
	if _, err := h.client.Deploy(context.Background(), "second", "v1"); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	h.clock.Advance(30 * time.Second)

	listing, err := h.client.Deployments(context.Background())
	if err != nil {
		t.Fatalf("Deployments: %v", err)
	}
	if listing.Count != 2 || len(listing.Deployments) != 2 {
		t.Fatalf("listing = %+v", listing)
	}
	if listing.Deployments[0].DeploymentID != "m-123" || listing.Deployments[1].DeploymentID != "m-456" {
		t.Errorf("order = %s, %s", listing.Deployments[0].DeploymentID, listing.Deployments[1].DeploymentID)
	}
	if listing.Deployments[0].UptimeSeconds != 90 || listing.Deployments[1].UptimeSeconds != 30 {
		t.Errorf("uptimes = %v, %v, want 90, 30",
			listing.Deployments[0].UptimeSeconds, listing.Deployments[1].UptimeSeconds)
	}
	if listing.Deployments[0].State != string(deployment.StateRunning) {
		t.Errorf("State = %q", listing.Deployments[0].State)
	}
}

// --- Config ---

func TestUpdateConfig(t *testing.T) {
	h := newTestController(t, harnessOptions{})

	response := h.post("/config", `{"skipConnectivityTest":true,"healthCheckTimeout":"5s","staleness_window":120}`)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", response.StatusCode)
	}
	var effective controlclient.ConfigResponse
	if err := json.NewDecoder(response.Body).Decode(&effective); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !effective.SkipConnectivityTest ||
		effective.HealthCheckTimeout.Std() != 5*time.Second ||
		effective.StalenessWindow.Std() != 120*time.Second {
		t.Errorf("effective = %+v", effective)
	}

	// Probing is now off: an agent with a failing health endpoint is
	// still eligible.
	h.report("node-1", 10, 10)
	h.agent.set(func(a *fakeAgent) { a.healthStatus = http.StatusServiceUnavailable })
	if _, err := h.client.Deploy(context.Background(), "resnet", "v1"); err != nil {
		t.Errorf("Deploy with probing disabled: %v", err)
	}
}

func TestUpdateConfigRejectsInvalidAtomically(t *testing.T) {
	h := newTestController(t, harnessOptions{noRouting: true})
	before := h.controller.Config()

	disable := true
	zero := controlclient.Duration(0)
	_, err := h.client.UpdateConfig(context.Background(), controlclient.ConfigUpdate{
		SkipConnectivityTest: &disable,
		StalenessWindow:      &zero,
	})
	if controlclient.ErrorKind(err) != controlclient.KindValidation {
		t.Fatalf("UpdateConfig error = %v, want validation", err)
	}
	if after := h.controller.Config(); after != before {
		t.Errorf("config changed by a rejected update: %+v → %+v", before, after)
	}

	enable := true
	_, err = h.client.UpdateConfig(context.Background(), controlclient.ConfigUpdate{EnablePublicURLs: &enable})
	if controlclient.ErrorKind(err) != controlclient.KindValidation {
		t.Errorf("enabling public URLs without routing: error = %v, want validation", err)
	}
}

func TestEnablePublicURLsAtRuntime(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	h.report("node-1", 10, 10)

	enable := true
	effective, err := h.client.UpdateConfig(context.Background(), controlclient.ConfigUpdate{EnablePublicURLs: &enable})
	if err != nil || !effective.EnablePublicURLs {
		t.Fatalf("UpdateConfig = %+v, %v", effective, err)
	}
	response, err := h.client.Deploy(context.Background(), "resnet", "v1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if response.PublicURL == "" {
		t.Error("no public URL after enabling public URLs")
	}
}

// --- Misc endpoints ---

func TestHealthAndAliases(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	for _, path := range []string{"/health", "/controller/health", "/controller/status", "/deployments"} {
		response, err := h.server.Client().Get(h.server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		response.Body.Close()
		if response.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, response.StatusCode)
		}
	}
	health, err := h.client.Health(context.Background())
	if err != nil || health.Status != "healthy" {
		t.Errorf("Health = %+v, %v", health, err)
	}
}

func TestWriteJSONLogsEncodeFailure(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	recorder := httptest.NewRecorder()
	recorder.Header().Set(requestIDHeader, "req-42")
	writeJSON(recorder, logger, http.StatusOK, map[string]float64{"cpuPercent": math.NaN()})

	if recorder.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", recorder.Code)
	}
	if !strings.Contains(logs.String(), "writing response body failed") || !strings.Contains(logs.String(), "req-42") {
		t.Errorf("log = %q, want the encode failure with its request id", logs.String())
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	response, err := h.server.Client().Get(h.server.URL + "/nowhere")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", response.StatusCode)
	}
	if body := decodeError(t, response); body.Kind != controlclient.KindNotFound {
		t.Errorf("kind = %q", body.Kind)
	}
	if response.Header.Get(requestIDHeader) == "" {
		t.Error("404 response has no request id")
	}
}

func TestRequestIDEchoedOrGenerated(t *testing.T) {
	h := newTestController(t, harnessOptions{})

	request, _ := http.NewRequest(http.MethodGet, h.server.URL+"/health", nil)
	request.Header.Set(requestIDHeader, "trace-42")
	response, err := h.server.Client().Do(request)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	response.Body.Close()
	if got := response.Header.Get(requestIDHeader); got != "trace-42" {
		t.Errorf("echoed id = %q, want trace-42", got)
	}

	response, err = h.server.Client().Get(h.server.URL + "/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	response.Body.Close()
	if got := response.Header.Get(requestIDHeader); len(got) != 36 {
		t.Errorf("generated id = %q, want a UUID", got)
	}
}

func TestCheckRouting(t *testing.T) {
	h := newTestController(t, harnessOptions{publicURLs: true})

	result, err := h.client.CheckRouting(context.Background())
	if err != nil {
		t.Fatalf("CheckRouting: %v", err)
	}
	if !result.Success || result.Status != "connected" || !result.EnablePublicURLs {
		t.Errorf("CheckRouting = %+v", result)
	}

	h.caddy.setBroken(true)
	result, err = h.client.CheckRouting(context.Background())
	if err != nil {
		t.Fatalf("CheckRouting: %v", err)
	}
	if result.Success || result.Status != "error" {
		t.Errorf("CheckRouting with a broken proxy = %+v", result)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	h.metrics.RegisterFleet(h.controller)
	h.report("node-1", 10, 10)
	if _, err := h.client.Deploy(context.Background(), "resnet", "v1"); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	response, err := h.server.Client().Get(h.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer response.Body.Close()
	body, _ := io.ReadAll(response.Body)
	for _, want := range []string{
		`modelfleet_deploy_requests_total{result="success"} 1`,
		`modelfleet_deployments 1`,
		`modelfleet_nodes_active 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestErrorKindClassification(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, fleetmetrics.ResultSuccess},
		{errInvalidRequest, controlclient.KindValidation},
		{scheduler.ErrNoActiveNodes, controlclient.KindNoActiveNodes},
		{scheduler.ErrNoReachableNodes, controlclient.KindNoReachableNodes},
		{agentclient.ErrDispatch, controlclient.KindDispatchFailed},
		{deployment.ErrDeploymentNotFound, controlclient.KindNotFound},
		{deployment.ErrNodeUnavailable, controlclient.KindNodeUnavailable},
		{io.ErrUnexpectedEOF, controlclient.KindInternal},
	}
	for _, test := range tests {
		if got := errorKind(test.err); got != test.want {
			t.Errorf("errorKind(%v) = %q, want %q", test.err, got, test.want)
		}
	}
}

func TestPurgeHealthCache(t *testing.T) {
	h := newTestController(t, harnessOptions{})
	key := fleetstate.HealthKey{NodeID: "node-1", IP: "10.0.0.1", Port: 9000}
	h.store.SetHealth(key, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.controller.purgeHealthCache(ctx, 10*time.Second)
		close(done)
	}()

	h.clock.WaitForTimers(1)
	h.clock.Advance(31 * time.Second)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := h.store.GetHealth(key); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expired health entry not purged")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	testutil.RequireClosed(t, done, 5*time.Second)
}
