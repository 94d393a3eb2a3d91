// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/medauth/medauth/internal/config"
	"github.com/medauth/medauth/internal/observability"
	"github.com/medauth/medauth/pkg/errutil"
)

const serveSecret = "serve-test-secret-0123456789abcdef"

type serveRun struct {
	apiAddr string
	obs     *observability.Server
	cancel  context.CancelFunc
	done    chan error
}

// memoryArgs runs serve with the memory backend on an ephemeral port.
func memoryArgs(metricsAddr string) []string {
	return []string{
		"--db-driver=memory",
		"--http-addr=127.0.0.1:0",
		"--metrics-addr=" + metricsAddr,
		"--log-format=text",
	}
}

func secretEnv(extra map[string]string) func(string) string {
	return func(key string) string {
		if key == config.EnvTokenSecret {
			return serveSecret
		}
		return extra[key]
	}
}

// startServe runs the serve command and waits until the API listener is
// bound.
func startServe(t *testing.T, getenv func(string) string, args ...string) *serveRun {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	listeners := make(chan net.Listener, 1)
	obsServers := make(chan *observability.Server, 1)
	deps := &ServeDeps{
		ListenerFactory: func(network, addr string) (net.Listener, error) {
			ln, err := net.Listen(network, addr)
			if err == nil {
				listeners <- ln
			}
			return ln, err
		},
		ObservabilityServerFactory: func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			s := observability.NewServer(addr, ready)
			obsServers <- s
			return s
		},
		Getenv: getenv,
	}

	cmd := NewServeCmd(deps)
	cmd.SetOut(io.Discard)
	cmd.SetArgs(args)

	ctx, cancel := context.WithCancel(context.Background())
	run := &serveRun{cancel: cancel, done: make(chan error, 1)}
	go func() { run.done <- cmd.ExecuteContext(ctx) }()

	select {
	case ln := <-listeners:
		run.apiAddr = ln.Addr().String()
	case err := <-run.done:
		cancel()
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(60 * time.Second):
		cancel()
		t.Fatal("serve did not start")
	}
	select {
	case run.obs = <-obsServers:
	default:
	}
	return run
}

func (r *serveRun) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not shut down")
	}
}

func postJSON(t *testing.T, client *http.Client, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestServe_MemoryBackend(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("os/signal.signal_recv"),
		goleak.IgnoreAnyFunction("os/signal.loop"),
	)

	run := startServe(t, secretEnv(nil), memoryArgs("")...)
	tr := &http.Transport{}
	defer tr.CloseIdleConnections()
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}
	base := "http://" + run.apiAddr

	resp, err := client.Get(base + "/api/password-policy")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, client, base+"/api/register", map[string]string{
		"email":     "walkin@hospital.test",
		"username":  "walkin",
		"firstName": "Walk",
		"lastName":  "In",
		"password":  "Clinic-Pass-2026!",
	})
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, client, base+"/api/login", map[string]string{
		"identifier": "walkin",
		"password":   "Clinic-Pass-2026!",
	})
	var tokens struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tokens))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, tokens.AccessToken)

	tr.CloseIdleConnections()
	run.stop(t)
}

func TestServe_MetricsEndpoint(t *testing.T) {
	run := startServe(t, secretEnv(nil), memoryArgs("127.0.0.1:0")...)
	defer run.stop(t)

	tr := &http.Transport{}
	defer tr.CloseIdleConnections()
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}

	resp, err := client.Get("http://" + run.apiAddr + "/api/password-policy")
	require.NoError(t, err)
	resp.Body.Close()

	obsBase := "http://" + run.obs.Addr()
	resp, err = client.Get(obsBase + "/healthz/readiness")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(obsBase + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	metrics := string(body)
	assert.True(t, strings.Contains(metrics, `medauth_http_requests_total{method="GET",route="/api/password-policy",status="200"} 1`), metrics)
	assert.Contains(t, metrics, "medauth_login_limiter_tracked")
}

func TestServe_InvalidConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd := NewServeCmd(&ServeDeps{Getenv: func(string) string { return "" }})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--db-driver=memory"})

	err := cmd.Execute()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}
