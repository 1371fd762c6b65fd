package status

import (
	"context"
	"encoding/json"
	"fanreply/app/service/fleet"
	"fanreply/app/service/metrics"
	"io"
	"net/http"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fakeFleet struct {
	statuses []fleet.MonitorStatus
}

func (f fakeFleet) Running() []fleet.MonitorStatus {
	return f.statuses
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	m.SetRunningMonitors(2)

	return NewService("", fakeFleet{statuses: []fleet.MonitorStatus{
		{AccountID: "acc-1", State: "sleeping"},
		{AccountID: "acc-2", State: "stopped", ConsecutiveFailures: 5},
	}}, registry)
}

func TestHealthz(t *testing.T) {
	svc := newTestService(t)

	resp, err := svc.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMonitors(t *testing.T) {
	svc := newTestService(t)

	resp, err := svc.App().Test(httptest.NewRequest(http.MethodGet, "/monitors", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Monitors []fleet.MonitorStatus `json:"monitors"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Monitors, 2)
	assert.Equal(t, "acc-2", body.Monitors[1].AccountID)
	assert.Equal(t, "stopped", body.Monitors[1].State)
	assert.Equal(t, 5, body.Monitors[1].ConsecutiveFailures)
}

func TestMetrics(t *testing.T) {
	svc := newTestService(t)

	resp, err := svc.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "fanreply_fleet_running_monitors 2")
}

func TestRunOnBusyPortKeepsSiblingsRunning(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	registry := prometheus.NewRegistry()
	svc := NewService(listener.Addr().String(), fakeFleet{}, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	statusDone := make(chan struct{})
	group.Go(func() error {
		defer close(statusDone)
		return svc.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})

	select {
	case <-statusDone:
	case <-time.After(5 * time.Second):
		t.Fatal("status server did not give up on the busy port")
	}

	assert.NoError(t, groupCtx.Err(), "a listen failure must not cancel the other services")

	cancel()
	require.NoError(t, group.Wait())
}
