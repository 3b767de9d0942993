package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/SPCG-NEST/daemon/internal/approval"
	"github.com/SPCG-NEST/daemon/internal/events"
	"github.com/SPCG-NEST/daemon/internal/generation"
	"github.com/SPCG-NEST/daemon/internal/identity"
	"github.com/SPCG-NEST/daemon/internal/lifecycle"
	"github.com/SPCG-NEST/daemon/internal/orchestrator"
)

// fakeIdentity keeps characters and logs in memory.
type fakeIdentity struct {
	mu         sync.Mutex
	characters map[string]identity.Character
	logs       []identity.LogEntry
	lastQuery  identity.LogQuery
	err        error
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{characters: map[string]identity.Character{}}
}

func (f *fakeIdentity) RegisterCharacter(_ context.Context, c identity.Character) (identity.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return identity.Character{}, f.err
	}
	if c.Pubkey == "" {
		return identity.Character{}, identity.ErrInvalidCharacter
	}
	if existing, ok := f.characters[c.Pubkey]; ok {
		return existing, nil
	}
	f.characters[c.Pubkey] = c
	return c, nil
}

func (f *fakeIdentity) FetchCharacter(_ context.Context, pubkey string) (*identity.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.characters[pubkey]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeIdentity) FetchLogs(_ context.Context, q identity.LogQuery) ([]identity.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	if q.OrderBy != "" && q.OrderBy != identity.OrderAsc && q.OrderBy != identity.OrderDesc {
		return nil, identity.ErrInvalidOrder
	}
	return f.logs, f.err
}

type pipelineFunc func(ctx context.Context, rec lifecycle.Record) (lifecycle.Record, error)

func (f pipelineFunc) RunPipeline(ctx context.Context, rec lifecycle.Record) (lifecycle.Record, error) {
	return f(ctx, rec)
}

func echoPipeline(ctx context.Context, rec lifecycle.Record) (lifecycle.Record, error) {
	if err := rec.Validate(); err != nil {
		return rec, err
	}
	rec.Output = "hi " + rec.Message
	return rec, nil
}

func setupTestServer(t *testing.T, modify func(*Deps)) (*Server, *fakeIdentity) {
	t.Helper()
	ids := newFakeIdentity()
	deps := Deps{
		Identity:   ids,
		Pipeline:   pipelineFunc(echoPipeline),
		Registerer: prometheus.NewRegistry(),
	}
	if modify != nil {
		modify(&deps)
	}
	s, err := NewServer(deps, zap.NewNop(), nil)
	require.NoError(t, err)
	return s, ids
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	ids := newFakeIdentity()
	p := pipelineFunc(echoPipeline)

	_, err := NewServer(Deps{Pipeline: p}, zap.NewNop(), nil)
	assert.Error(t, err)
	_, err = NewServer(Deps{Identity: ids}, zap.NewNop(), nil)
	assert.Error(t, err)
	_, err = NewServer(Deps{Identity: ids, Pipeline: p}, nil, nil)
	assert.Error(t, err)

	s, err := NewServer(Deps{Identity: ids, Pipeline: p, Registerer: prometheus.NewRegistry()}, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, "localhost", s.config.Host)
	assert.Equal(t, 9090, s.config.Port)
}

func TestHandleHealth(t *testing.T) {
	s, _ := setupTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCharacters(t *testing.T) {
	s, _ := setupTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/characters", `{"pubkey":"abc","name":"Bob"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"pubkey":"abc"}`, rec.Body.String())

	// Re-registering returns the same pubkey.
	rec = do(t, s, http.MethodPost, "/v1/characters", `{"pubkey":"abc","name":"Alice"}`)
	assert.JSONEq(t, `{"pubkey":"abc"}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/v1/characters/abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var c identity.Character
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, "Bob", c.Name)

	rec = do(t, s, http.MethodGet, "/v1/characters/nobody", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/characters", `{"name":"no key"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/characters", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFetchLogs(t *testing.T) {
	s, ids := setupTestServer(t, nil)
	ids.logs = []identity.LogEntry{{
		ID:           "log-1",
		DaemonPubkey: "abc",
		ChannelID:    "general",
		CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Lifecycle:    lifecycle.Record{DaemonPubkey: "abc", Message: "hello", Output: "hi"},
	}}

	rec := do(t, s, http.MethodGet, "/v1/daemons/abc/logs?channel_id=general&limit=5&order_by=asc", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, identity.LogQuery{DaemonPubkey: "abc", ChannelID: "general", Limit: 5, OrderBy: identity.OrderAsc}, ids.lastQuery)

	var resp LogsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Logs, 1)
	assert.Equal(t, "hi", resp.Logs[0].Lifecycle.Output)

	ids.logs = nil
	rec = do(t, s, http.MethodGet, "/v1/daemons/abc/logs", "")
	assert.JSONEq(t, `{"logs":[]}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/v1/daemons/abc/logs?limit=many", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/daemons/abc/logs?order_by=sideways", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunPipeline(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, _ := setupTestServer(t, func(d *Deps) { d.Registerer = reg })

	rec := do(t, s, http.MethodPost, "/v1/pipeline", `{"daemon_pubkey":"abc","message":"there"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out lifecycle.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "hi there", out.Output)

	rec = do(t, s, http.MethodPost, "/v1/pipeline", `{"message":"no pubkey"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `daemon_http_pipeline_runs_total{outcome="ok"} 1`)
	assert.Contains(t, rec.Body.String(), `daemon_http_pipeline_runs_total{outcome="failed"} 1`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{approval.ErrApprovalDenied, http.StatusForbidden},
		{&lifecycle.ProviderError{Provider: "p", Tool: "t", Err: approval.ErrApprovalDenied}, http.StatusForbidden},
		{lifecycle.ErrNotInitialized, http.StatusServiceUnavailable},
		{lifecycle.Unavailable("append log", errors.New("disk full")), http.StatusServiceUnavailable},
		{lifecycle.ErrInvalidRecord, http.StatusBadRequest},
		{identity.ErrInvalidCharacter, http.StatusBadRequest},
		{identity.ErrInvalidOrder, http.StatusBadRequest},
		{fmt.Errorf("%w: %w", orchestrator.ErrGenerationFailed, generation.ErrUnknownCharacter), http.StatusNotFound},
		{fmt.Errorf("%w: upstream 529", orchestrator.ErrGenerationFailed), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestPipelineErrors(t *testing.T) {
	s, _ := setupTestServer(t, func(d *Deps) {
		d.Pipeline = pipelineFunc(func(context.Context, lifecycle.Record) (lifecycle.Record, error) {
			return lifecycle.Record{}, fmt.Errorf("%w: upstream 529", orchestrator.ErrGenerationFailed)
		})
	})
	rec := do(t, s, http.MethodPost, "/v1/pipeline", `{"daemon_pubkey":"abc","message":"hello"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Message, "upstream 529")
}

func TestMCPMount(t *testing.T) {
	var hits []string
	mcpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	})
	s, _ := setupTestServer(t, func(d *Deps) { d.MCP = mcpHandler })

	assert.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/mcp", `{}`).Code)
	assert.Equal(t, http.StatusAccepted, do(t, s, http.MethodGet, "/mcp/session", "").Code)
	assert.Equal(t, []string{"/mcp", "/mcp/session"}, hits)

	withoutMCP, _ := setupTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, do(t, withoutMCP, http.MethodPost, "/mcp", `{}`).Code)
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response and log", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		s, err := NewServer(Deps{
			Identity:   newFakeIdentity(),
			Pipeline:   pipelineFunc(echoPipeline),
			Registerer: prometheus.NewRegistry(),
		}, zap.New(core), nil)
		require.NoError(t, err)

		rec := do(t, s, http.MethodPost, "/v1/pipeline", `{"daemon_pubkey":"abc","channel_id":"general","message":"x"}`)
		id := rec.Header().Get(echo.HeaderXRequestID)
		require.NotEmpty(t, id)

		entries := logs.FilterMessage("http request").All()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, id, fields["request.id"])
		assert.Equal(t, "abc", fields["daemon.pubkey"])
		assert.EqualValues(t, http.StatusOK, fields["status"])
	})

	t.Run("ignores malformed client request IDs", func(t *testing.T) {
		s, _ := setupTestServer(t, nil)
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(echo.HeaderXRequestID, "not a valid id")
		rec := httptest.NewRecorder()
		assert.NotPanics(t, func() { s.Echo().ServeHTTP(rec, req) })
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("recovers from panic", func(t *testing.T) {
		s, _ := setupTestServer(t, nil)
		s.Echo().GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})
		rec := httptest.NewRecorder()
		assert.NotPanics(t, func() {
			s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestEventsStream(t *testing.T) {
	ns := startTestNATSServer(t)
	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	s, _ := setupTestServer(t, func(d *Deps) { d.NATS = nc })
	ts := httptest.NewServer(s.Echo())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/daemons/abc/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	pub := events.NewNATSPublisher(nc, nil)
	require.NoError(t, pub.Publish(ctx, events.Event{Type: events.TypeCompleted, TurnID: "other", DaemonPubkey: "xyz"}))
	require.NoError(t, pub.Publish(ctx, events.Event{Type: events.TypeCompleted, TurnID: "turn-1", DaemonPubkey: "abc", Output: "hi"}))

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for dataLine == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, events.TypeCompleted, eventLine)

	var got events.Event
	require.NoError(t, json.Unmarshal([]byte(dataLine), &got))
	assert.Equal(t, "turn-1", got.TurnID, "events for other daemons are filtered by subject")
	assert.Equal(t, "hi", got.Output)
}

func TestEventsRoute_RequiresNATS(t *testing.T) {
	s, _ := setupTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/daemons/abc/events", "").Code)
}

func TestServerLifecycle(t *testing.T) {
	s, err := NewServer(Deps{
		Identity:   newFakeIdentity(),
		Pipeline:   pipelineFunc(echoPipeline),
		Registerer: prometheus.NewRegistry(),
	}, zap.NewNop(), &Config{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.True(t, err == nil || errors.Is(err, http.ErrServerClosed))
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
