// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/modelfleet/lib/clock"
	"github.com/bureau-foundation/modelfleet/lib/testutil"
)

func TestAnnounceSendsRegistration(t *testing.T) {
	var received registrationBody
	registry := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/service-registry/register" || request.Method != http.MethodPost {
			http.NotFound(writer, request)
			return
		}
		json.NewDecoder(request.Body).Decode(&received)
		writer.WriteHeader(http.StatusCreated)
	}))
	defer registry.Close()

	err := Announce(context.Background(), AnnounceConfig{RegistryURL: registry.URL + "/"},
		Registration{Name: "controller", IP: "10.0.0.2", Port: 8090})
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if received.Name != "controller" || received.IP != "10.0.0.2" || received.Port != "8090" {
		t.Errorf("registry received %+v", received)
	}
}

func TestAnnounceRejectedIsFinal(t *testing.T) {
	var calls atomic.Int32
	registry := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(writer, "duplicate name", http.StatusBadRequest)
	}))
	defer registry.Close()

	err := Announce(context.Background(), AnnounceConfig{RegistryURL: registry.URL},
		Registration{Name: "controller", IP: "10.0.0.2", Port: 8090})
	if !errors.Is(err, ErrRegistrationRejected) {
		t.Fatalf("Announce error = %v, want ErrRegistrationRejected", err)
	}
	if calls.Load() != 1 {
		t.Errorf("registry called %d times, want 1", calls.Load())
	}
}

func TestAnnounceRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	registry := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(writer, "starting up", http.StatusServiceUnavailable)
			return
		}
		writer.WriteHeader(http.StatusOK)
	}))
	defer registry.Close()

	fake := clock.Fake(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	done := make(chan error, 1)
	go func() {
		done <- Announce(context.Background(), AnnounceConfig{
			RegistryURL: registry.URL,
			Clock:       fake,
			Logger:      testutil.Logger(t),
		}, Registration{Name: "controller", IP: "10.0.0.2", Port: 8090})
	}()

	fake.WaitForTimers(1)
	fake.Advance(time.Second)
	fake.WaitForTimers(1)
	fake.Advance(2 * time.Second)

	if err := testutil.RequireReceive(t, done, 5*time.Second, "Announce did not return"); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("registry called %d times, want 3", calls.Load())
	}
}

func TestAnnounceGivesUpAfterMaxAttempts(t *testing.T) {
	registry := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		http.Error(writer, "down", http.StatusBadGateway)
	}))
	defer registry.Close()

	err := Announce(context.Background(), AnnounceConfig{RegistryURL: registry.URL, MaxAttempts: 1},
		Registration{Name: "controller", IP: "10.0.0.2", Port: 8090})
	if err == nil || errors.Is(err, ErrRegistrationRejected) {
		t.Errorf("Announce error = %v, want a retryable failure", err)
	}
}
