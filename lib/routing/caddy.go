// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/modelfleet/lib/netutil"
)

const (
	DefaultServer  = "srv0"
	DefaultTimeout = 10 * time.Second
)

// Config configures a Publisher.
type Config struct {
	// AdminURL is the Caddy admin endpoint, e.g. http://localhost:2019.
	AdminURL string

	// Server is the name of the HTTP server in Caddy's config that
	// routes are appended to.
	Server string

	// PublicURLBase is prefixed to "/{deploymentID}" to form the
	// public URL.
	PublicURLBase string

	// Timeout bounds each admin API call.
	Timeout time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Publisher adds and removes deployment routes.
type Publisher struct {
	adminURL      string
	server        string
	publicURLBase string
	timeout       time.Duration
	http          *http.Client
	logger        *slog.Logger
}

// New creates a Publisher.
func New(config Config) (*Publisher, error) {
	if config.AdminURL == "" {
		return nil, errors.New("routing: AdminURL is required")
	}
	if _, err := url.Parse(config.AdminURL); err != nil {
		return nil, fmt.Errorf("routing: invalid AdminURL: %w", err)
	}
	publisher := &Publisher{
		adminURL:      strings.TrimRight(config.AdminURL, "/"),
		server:        config.Server,
		publicURLBase: strings.TrimRight(config.PublicURLBase, "/"),
		timeout:       config.Timeout,
		http:          config.HTTPClient,
		logger:        config.Logger,
	}
	if publisher.server == "" {
		publisher.server = DefaultServer
	}
	if publisher.timeout <= 0 {
		publisher.timeout = DefaultTimeout
	}
	if publisher.http == nil {
		publisher.http = &http.Client{}
	}
	if publisher.logger == nil {
		publisher.logger = slog.New(slog.DiscardHandler)
	}
	return publisher, nil
}

// RouteID returns the Caddy @id for a deployment's route.
func RouteID(deploymentID string) string {
	sum := blake3.Sum256([]byte(deploymentID))
	return "route-" + hex.EncodeToString(sum[:])[:16]
}

// PublicURL returns the URL a published deployment is reachable at.
func (p *Publisher) PublicURL(deploymentID string) string {
	return p.publicURLBase + "/" + deploymentID
}

// AdminURL returns the configured admin endpoint.
func (p *Publisher) AdminURL() string { return p.adminURL }

type route struct {
	ID     string         `json:"@id"`
	Handle []routeHandler `json:"handle"`
	Match  []routeMatch   `json:"match"`
}

type routeHandler struct {
	Handler   string          `json:"handler"`
	Upstreams []routeUpstream `json:"upstreams"`
}

type routeUpstream struct {
	Dial string `json:"dial"`
}

type routeMatch struct {
	Path []string `json:"path"`
}

// Publish installs or replaces the route for a deployment and returns
// its public URL.
func (p *Publisher) Publish(ctx context.Context, deploymentID, internalURL string) (string, error) {
	dial, err := upstreamDial(internalURL)
	if err != nil {
		return "", fmt.Errorf("routing: deployment %s: %w", deploymentID, err)
	}
	routeID := RouteID(deploymentID)
	body, err := json.Marshal(route{
		ID: routeID,
		Handle: []routeHandler{{
			Handler:   "reverse_proxy",
			Upstreams: []routeUpstream{{Dial: dial}},
		}},
		Match: []routeMatch{{Path: []string{"/" + deploymentID, "/" + deploymentID + "/*"}}},
	})
	if err != nil {
		return "", fmt.Errorf("routing: encoding route: %w", err)
	}

	err = p.call(ctx, http.MethodPatch, "/id/"+routeID, body)
	if netutil.IsStatus(err, http.StatusNotFound) {
		err = p.call(ctx, http.MethodPost, "/config/apps/http/servers/"+p.server+"/routes", body)
	}
	if err != nil {
		return "", fmt.Errorf("routing: publishing %s: %w", deploymentID, err)
	}

	publicURL := p.PublicURL(deploymentID)
	p.logger.Info("route published",
		"deployment", deploymentID,
		"route", routeID,
		"upstream", dial,
		"public_url", publicURL,
	)
	return publicURL, nil
}

// Unpublish removes a deployment's route. A route that does not exist
// is already unpublished.
func (p *Publisher) Unpublish(ctx context.Context, deploymentID string) error {
	routeID := RouteID(deploymentID)
	err := p.call(ctx, http.MethodDelete, "/id/"+routeID, nil)
	if netutil.IsStatus(err, http.StatusNotFound) {
		p.logger.Debug("route already absent", "deployment", deploymentID, "route", routeID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("routing: unpublishing %s: %w", deploymentID, err)
	}
	p.logger.Info("route removed", "deployment", deploymentID, "route", routeID)
	return nil
}

// Check verifies the admin API answers GET /config/.
func (p *Publisher) Check(ctx context.Context) error {
	if err := p.call(ctx, http.MethodGet, "/config/", nil); err != nil {
		return fmt.Errorf("routing: admin API check: %w", err)
	}
	return nil
}

func (p *Publisher) call(ctx context.Context, method, path string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, p.adminURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := p.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if err := netutil.CheckStatus(response); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, netutil.MaxResponseSize))
	return nil
}

// upstreamDial turns an internal URL into the host:port Caddy dials.
// Bare host:port values pass through.
func upstreamDial(internalURL string) (string, error) {
	if internalURL == "" {
		return "", errors.New("internal URL is empty")
	}
	if !strings.Contains(internalURL, "://") {
		if _, _, err := net.SplitHostPort(internalURL); err != nil {
			return "", fmt.Errorf("internal URL %q: %w", internalURL, err)
		}
		return internalURL, nil
	}
	parsed, err := url.Parse(internalURL)
	if err != nil {
		return "", fmt.Errorf("internal URL %q: %w", internalURL, err)
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("internal URL %q has no host", internalURL)
	}
	port := parsed.Port()
	if port == "" {
		switch parsed.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(parsed.Hostname(), port), nil
}
