package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vango-go/vai-coach/pkg/coach"
	"github.com/vango-go/vai-coach/pkg/metrics"
	"github.com/vango-go/vai-coach/pkg/procedures"
)

type fakeCoach struct {
	mu       sync.Mutex
	mode     coach.Mode
	executed []coach.Command
	primary  int
	toggles  int
	loaded   []procedures.Procedure
	loadErr  error
	apply    bool
}

func (c *fakeCoach) Projection() coach.Projection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return coach.Projection{Mode: c.mode, Status: "watching"}
}

func (c *fakeCoach) Execute(cmd coach.Command) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executed = append(c.executed, cmd)
	return c.apply
}

func (c *fakeCoach) Primary() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.primary++
}

func (c *fakeCoach) TogglePause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toggles++
	return c.toggles%2 == 1
}

func (c *fakeCoach) LoadProcedure(p procedures.Procedure) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadErr != nil {
		return c.loadErr
	}
	c.loaded = append(c.loaded, p)
	c.mode = coach.ModeReady
	return nil
}

func newTestServer(t *testing.T, c *fakeCoach) (*Server, *procedures.Store, *metrics.Metrics) {
	t.Helper()
	store := procedures.NewStore(procedures.NewMemoryKV())
	m := metrics.New("")
	return New(Config{Account: "default"}, c, store, m, nil), store, m
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	return env.Error
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeCoach{})
	rec := do(t, s.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestProjection(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeCoach{mode: coach.ModeCoaching})
	rec := do(t, s.Handler(), http.MethodGet, "/api/projection", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var p coach.Projection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, coach.ModeCoaching, p.Mode)
	assert.Equal(t, "watching", p.Status)
}

func TestCommand(t *testing.T) {
	c := &fakeCoach{apply: true}
	s, _, _ := newTestServer(t, c)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/command", `{"command":" Skip "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp commandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Applied)

	rec = do(t, h, http.MethodPost, "/api/command", `{"command":"primary"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/command", `{"command":"toggle_pause"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, []coach.Command{coach.CommandSkip}, c.executed)
	assert.Equal(t, 1, c.primary)
	assert.Equal(t, 1, c.toggles)
}

func TestCommand_Invalid(t *testing.T) {
	c := &fakeCoach{}
	s, _, _ := newTestServer(t, c)
	h := s.Handler()

	cases := []string{
		`{"command":"dance"}`,
		`{"command":"none"}`,
		`not json`,
		`{"command":"skip","extra":1}`,
	}
	for _, body := range cases {
		rec := do(t, h, http.MethodPost, "/api/command", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		e := decodeError(t, rec)
		assert.Equal(t, "invalid_request_error", e["type"], body)
	}
	assert.Empty(t, c.executed)
}

func TestProcedures_ListAndUse(t *testing.T) {
	c := &fakeCoach{}
	s, store, _ := newTestServer(t, c)
	h := s.Handler()
	ctx := context.Background()

	saved, err := store.Save(ctx, "default", procedures.Procedure{
		Title: "Latte art",
		Steps: []procedures.Step{{Number: 1, Action: "Steam milk", LookFor: "Wand in jug"}},
	})
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/api/procedures", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Procedures []procedures.Procedure `json:"procedures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Procedures, 1)
	assert.Equal(t, "Latte art", list.Procedures[0].Title)

	rec = do(t, h, http.MethodPost, "/api/procedures/"+saved.ID+"/use", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, c.loaded, 1)
	assert.Equal(t, saved.ID, c.loaded[0].ID)

	cur, ok, err := store.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, saved.ID, cur.ID)

	rec = do(t, h, http.MethodPost, "/api/procedures/"+procedures.Barista().ID+"/use", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Espresso Making", c.loaded[1].Title)
}

func TestProcedures_UseUnknown(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeCoach{})
	rec := do(t, s.Handler(), http.MethodPost, "/api/procedures/nope/use", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found_error", decodeError(t, rec)["type"])
}

func TestProcedures_LoadRejected(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeCoach{loadErr: errors.New("coach: procedure has no usable steps")})
	rec := do(t, s.Handler(), http.MethodPost, "/api/procedures/"+procedures.Barista().ID+"/use", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestNotFound(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeCoach{})
	rec := do(t, s.Handler(), http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found_error", decodeError(t, rec)["type"])
}

func TestMetricsRouteRecordsPattern(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeCoach{})
	h := s.Handler()
	do(t, h, http.MethodPost, "/api/procedures/abc/use", "")

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `route="/api/procedures/{id}/use"`)
	assert.NotContains(t, body, `route="/api/procedures/abc/use"`)
}

func TestRoutesWithoutOptionalDeps(t *testing.T) {
	s := New(Config{}, &fakeCoach{}, nil, nil, nil)
	h := s.Handler()
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/procedures", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := New(Config{ShutdownGracePeriod: time.Second}, &fakeCoach{}, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestAccessLogCarriesRouteAndRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := New(Config{}, &fakeCoach{}, nil, nil, zap.New(core))

	req := httptest.NewRequest(http.MethodGet, "/api/projection", nil)
	req.Header.Set("X-Request-Id", "req-42")
	s.Handler().ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/projection", fields["route"])
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
}
