package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/melih/lighthouse-updater/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, handler http.HandlerFunc) (*HubClient, *int64) {
	t.Helper()
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client := NewHubClient(server.URL, HubOptions{
		Timeout:    time.Second,
		RetryUnit:  time.Millisecond,
		HTTPClient: server.Client(),
	})
	return client, &calls
}

func writePage(t *testing.T, w http.ResponseWriter, names ...string) {
	t.Helper()
	page := hubTagPage{Count: len(names)}
	for _, n := range names {
		page.Results = append(page.Results, hubTag{
			Name:        n,
			FullSize:    1024,
			LastUpdated: "2026-09-01T10:00:00.123456Z",
			Digest:      "sha256:" + n,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(page))
}

func TestHubClient_ListTags(t *testing.T) {
	client, calls := newTestHub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/repositories/melih/lighthouse/tags", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("page_size"))
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		writePage(t, w, "latest", "v1.2.0", "v1.1.0")
	})

	tags, err := client.ListTags(context.Background(), "melih/lighthouse", 25)
	require.NoError(t, err)
	require.Len(t, tags, 3)
	assert.Equal(t, "v1.2.0", tags[1].Name)
	assert.Equal(t, int64(1024), tags[1].FullSize)
	assert.Equal(t, "sha256:v1.2.0", tags[1].Digest)
	assert.Equal(t, 2026, tags[1].LastUpdated.Year())
	assert.Equal(t, int64(1), atomic.LoadInt64(calls))
}

func TestHubClient_RetriesServerErrors(t *testing.T) {
	var n int64
	client, calls := newTestHub(t, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt64(&n, 1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writePage(t, w, "v1.0.0")
	})

	tags, err := client.ListTags(context.Background(), "melih/lighthouse", 10)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, int64(3), atomic.LoadInt64(calls))
}

func TestHubClient_GivesUpAfterThreeAttempts(t *testing.T) {
	client, calls := newTestHub(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.ListTags(context.Background(), "melih/lighthouse", 10)
	require.Error(t, err)

	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, domain.CauseUnavailable, netErr.Cause)
	assert.Equal(t, int64(3), atomic.LoadInt64(calls))
}

func TestHubClient_ClientErrorsFailImmediately(t *testing.T) {
	client, calls := newTestHub(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.ListTags(context.Background(), "melih/missing", 10)
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, int64(1), atomic.LoadInt64(calls))
}

func TestHubClient_MalformedBodyIsNotRetried(t *testing.T) {
	client, calls := newTestHub(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	})

	_, err := client.ListTags(context.Background(), "melih/lighthouse", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode tag listing")
	assert.Equal(t, int64(1), atomic.LoadInt64(calls))
}

func TestHubClient_TimeoutIsReportedAsTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	client := NewHubClient(server.URL, HubOptions{
		Timeout:    20 * time.Millisecond,
		Attempts:   2,
		RetryUnit:  time.Millisecond,
		HTTPClient: server.Client(),
	})

	_, err := client.ListTags(context.Background(), "melih/lighthouse", 10)
	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, domain.CauseTimeout, netErr.Cause)
	assert.NotContains(t, netErr.Error(), "context deadline exceeded")
}

func TestHubClient_ConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	client := NewHubClient("http://"+addr, HubOptions{RetryUnit: time.Millisecond})
	_, err = client.ListTags(context.Background(), "melih/lighthouse", 10)

	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, domain.CauseConnectionRefused, netErr.Cause)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "registry.invalid"}, want: domain.CauseDNS},
		{name: "deadline", err: context.DeadlineExceeded, want: domain.CauseTimeout},
		{name: "other", err: errors.New("boom"), want: domain.CauseUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err).Cause)
		})
	}
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{unit: time.Second}
	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}
