// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	store      *memStore
	registry   *memRegistry
	queue      *JobQueue
	locks      *AgentLock
	scheduler  *Scheduler
	agentToken string
	adminToken string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := newMemStore()
	registry := newMemRegistry()
	locks := NewAgentLock()
	executor := NewSyncExecutor(store, registry, nil, nil, nil)
	queue := NewJobQueue(executor, locks, &QueueConfig{
		Workers: 1, JobTimeout: time.Second, RequeueDelay: 10 * time.Millisecond,
	}, nil)
	queue.Start()
	t.Cleanup(queue.Close)

	scheduler := NewScheduler(queue, registry, &SchedulerConfig{
		AgentSyncInterval:  time.Hour,
		SharedSyncInterval: time.Hour,
		AgentActiveWindow:  time.Hour,
	}, nil)
	t.Cleanup(scheduler.Stop)

	delta := NewDeltaService(store, nil)
	reporter := NewStatusReporter(queue, locks, scheduler)
	jwtAuth := NewJWTAuth("test-secret")
	handlers := NewHTTPHandlers(delta, queue, scheduler, reporter, registry, jwtAuth, nil)

	server := httptest.NewServer(handlers.Mux())
	t.Cleanup(server.Close)

	agentToken, err := jwtAuth.GenerateToken("u1", "d1", RoleAgent, time.Minute)
	require.NoError(t, err)
	adminToken, err := jwtAuth.GenerateToken("ops", "d0", RoleAdmin, time.Minute)
	require.NoError(t, err)

	return &testServer{
		Server:     server,
		store:      store,
		registry:   registry,
		queue:      queue,
		locks:      locks,
		scheduler:  scheduler,
		agentToken: agentToken,
		adminToken: adminToken,
	}
}

func (ts *testServer) do(t *testing.T, method, path, token string, out any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHTTP_RequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{
		"/api/cache/version",
		"/api/cache/delta?clientVersion=0",
		"/api/sync/stats",
	} {
		resp := ts.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestHTTP_Version(t *testing.T) {
	ts := newTestServer(t)
	seedStore(t, ts.store, entry(EntityCustomers, "c1", OpCreate, false))

	var body VersionResponse
	resp := ts.do(t, http.MethodGet, "/api/cache/version", ts.agentToken, &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, body.Success)
	require.EqualValues(t, 1, body.Version)
	require.Contains(t, body.Metadata, EntityCustomers)
}

func TestHTTP_DeltaValidation(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{
		"/api/cache/delta",                  // missing
		"/api/cache/delta?clientVersion=x",  // non-numeric
		"/api/cache/delta?clientVersion=-1", // negative
	} {
		var body ErrorResponse
		resp := ts.do(t, http.MethodGet, path, ts.agentToken, &body)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		require.False(t, body.Success)
		require.Equal(t, "invalid_request", body.Error)
	}
}

// Server version 5, client already at 5: upToDate with no changes.
func TestHTTP_DeltaUpToDate(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 5; i++ {
		seedStore(t, ts.store, entry(EntityOrders, "o", OpUpdate, false))
	}

	var body DeltaResponse
	resp := ts.do(t, http.MethodGet, "/api/cache/delta?clientVersion=5", ts.agentToken, &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, body.UpToDate)
	require.Empty(t, body.Changes)
	require.EqualValues(t, 5, body.ServerVersion)
}

func TestHTTP_DeltaWithTypesFilter(t *testing.T) {
	ts := newTestServer(t)
	seedStore(t, ts.store,
		entry(EntityCustomers, "c1", OpCreate, false),
		entry(EntityPrices, "p1", OpUpdate, true),
	)

	var body DeltaResponse
	resp := ts.do(t, http.MethodGet, "/api/cache/delta?clientVersion=0&types=prices", ts.agentToken, &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Changes, 1)
	require.Equal(t, EntityPrices, body.Changes[0].EntityType)
	require.True(t, body.HasCritical)
}

func TestHTTP_DeltaRegistersAgent(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodGet, "/api/cache/delta?clientVersion=0", ts.agentToken, nil)

	agents, err := ts.registry.ActiveAgents(t.Context(), time.Hour)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	require.Equal(t, "u1", agents[0].AgentID)
}

func TestHTTP_Stats(t *testing.T) {
	ts := newTestServer(t)

	var body StatsResponse
	resp := ts.do(t, http.MethodGet, "/api/sync/stats", ts.agentToken, &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, body.Success)
	require.Zero(t, body.Queue.Waiting)
}

// Unknown trigger type: 400, no job created, waiting count unchanged.
func TestHTTP_TriggerUnknownType(t *testing.T) {
	ts := newTestServer(t)
	before := ts.queue.Stats()

	var body ErrorResponse
	resp := ts.do(t, http.MethodPost, "/api/sync/trigger/bogus-type", ts.agentToken, &body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.False(t, body.Success)
	require.Equal(t, before, ts.queue.Stats())
}

func TestHTTP_TriggerEnqueuesAndRuns(t *testing.T) {
	ts := newTestServer(t)
	seedStore(t, ts.store, entry(EntityCustomers, "c1", OpCreate, false))

	var body TriggerResponse
	resp := ts.do(t, http.MethodPost, "/api/sync/trigger/sync-customers", ts.agentToken, &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, body.Success)
	require.NotEmpty(t, body.JobID)

	require.Eventually(t, func() bool {
		job, ok := ts.queue.Job(body.JobID)
		return ok && job.State == StateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	job, _ := ts.queue.Job(body.JobID)
	require.Equal(t, "u1", job.AgentID, "trigger runs on behalf of the authenticated agent")
}

// A triggered job for an agent with a lock already held defers instead of
// running concurrently.
func TestHTTP_TriggerWhileAgentLocked(t *testing.T) {
	ts := newTestServer(t)
	require.True(t, ts.locks.TryAcquire("u1", "other-job", JobFullSync))

	var body TriggerResponse
	resp := ts.do(t, http.MethodPost, "/api/sync/trigger/sync-customers", ts.agentToken, &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		job, ok := ts.queue.Job(body.JobID)
		return ok && job.State == StateDelayed
	}, 2*time.Second, 2*time.Millisecond)

	ts.locks.Release("u1")
	require.Eventually(t, func() bool {
		job, ok := ts.queue.Job(body.JobID)
		return ok && job.State == StateCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHTTP_MonitoringRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/sync/monitoring/status", ts.agentToken, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	var body MonitoringResponse
	resp = ts.do(t, http.MethodGet, "/api/sync/monitoring/status", ts.adminToken, &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, body.Success)
	require.NotNil(t, body.ActiveJobs)
}

func TestHTTP_SchedulerControl(t *testing.T) {
	ts := newTestServer(t)

	// Agents may not control the scheduler.
	resp := ts.do(t, http.MethodPost, "/api/sync/auto-sync/start", ts.agentToken, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.False(t, ts.scheduler.IsRunning())

	resp = ts.do(t, http.MethodPost, "/api/sync/auto-sync/start", ts.adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, ts.scheduler.IsRunning())

	var status SchedulerStatusResponse
	resp = ts.do(t, http.MethodGet, "/api/sync/auto-sync/status", ts.adminToken, &status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, status.Running)
	require.EqualValues(t, time.Hour.Milliseconds(), status.Intervals.AgentSyncMs)

	resp = ts.do(t, http.MethodPost, "/api/sync/auto-sync/stop", ts.adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, ts.scheduler.IsRunning())
}
