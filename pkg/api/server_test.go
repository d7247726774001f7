package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/bundler"
	"github.com/cuemby/burrow/pkg/loader"
	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/storage"
)

// countingBundler resolves the entry like the real bundler and emits it as
// the single output module, so dispatch responses reflect the source.
func countingBundler(calls *atomic.Int64) bundler.Func {
	return func(ctx context.Context, files map[string]string, opts bundler.Options) (*bundler.Result, error) {
		calls.Add(1)
		entry, err := bundler.ResolveEntry(files, opts.EntryPoint)
		if err != nil {
			return nil, err
		}
		return &bundler.Result{
			MainModule: "dist/index.js",
			Modules:    map[string]string{"dist/index.js": files[entry]},
		}, nil
	}
}

var responseLiteral = regexp.MustCompile(`Response\('([^']*)'\)`)

type fakeRuntime struct {
	mu    sync.Mutex
	loads []string
}

func (rt *fakeRuntime) Get(ctx context.Context, name string, cold loader.ColdStart) (loader.Stub, error) {
	desc, err := cold.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	rt.loads = append(rt.loads, name)
	rt.mu.Unlock()
	return &fakeStub{desc: desc}, nil
}

func (rt *fakeRuntime) Remove(ctx context.Context, name string) error {
	return nil
}

type fakeStub struct {
	desc *loader.ModuleDescriptor
}

func (s *fakeStub) GetEntrypoint(name string) (loader.Fetcher, error) {
	return &fakeFetcher{desc: s.desc}, nil
}

type fakeFetcher struct {
	desc *loader.ModuleDescriptor
}

func (f *fakeFetcher) Dispatch(ctx context.Context, req *loader.Request) (*loader.Response, error) {
	src := f.desc.Modules[f.desc.MainModule]
	if m := responseLiteral.FindStringSubmatch(src); m != nil {
		return &loader.Response{
			Status:  200,
			Headers: map[string]string{"content-type": "text/plain"},
			Body:    []byte(m[1]),
		}, nil
	}
	return &loader.Response{
		Status:  500,
		Headers: map[string]string{"x-worker-error": "script threw before producing a response"},
		Body:    []byte("internal error"),
	}, nil
}

type apiHarness struct {
	srv      *httptest.Server
	platform *platform.Platform
	runtime  *fakeRuntime
	builds   *atomic.Int64
}

func newAPIHarness(t *testing.T, opts Options) *apiHarness {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	runtime := &fakeRuntime{}
	var builds atomic.Int64
	p, err := platform.New(platform.Options{
		Store:   store,
		Bundler: countingBundler(&builds),
		Loader:  runtime,
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)

	srv := httptest.NewServer(NewServer(p, opts).Handler())
	t.Cleanup(srv.Close)

	return &apiHarness{srv: srv, platform: p, runtime: runtime, builds: &builds}
}

// do issues one JSON request against the test server and returns the
// status code and raw body.
func (h *apiHarness) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, payload)
	require.NoError(t, err)

	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func unmarshal[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), "body: %s", raw)
	return v
}

// errorKind extracts the taxonomy kind from an error envelope.
func errorKind(t *testing.T, raw []byte) string {
	t.Helper()
	return unmarshal[errorEnvelope](t, raw).Error.Kind
}

func helloFiles(body string) map[string]string {
	return map[string]string{
		"src/index.ts": "export default{fetch(){return new Response('" + body + "')}}",
		"package.json": `{"main":"src/index.ts"}`,
	}
}

func (h *apiHarness) createTenant(t *testing.T, id string) {
	t.Helper()
	status, raw := h.do(t, http.MethodPost, "/api/tenants", map[string]any{"id": id})
	require.Equal(t, http.StatusCreated, status, "body: %s", raw)
}

func TestDefaultsRoundTrip(t *testing.T) {
	h := newAPIHarness(t, Options{})

	status, raw := h.do(t, http.MethodGet, "/api/defaults", nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = h.do(t, http.MethodPut, "/api/defaults", map[string]any{
		"env":               map[string]string{"MODE": "standard"},
		"compatibilityDate": "2024-06-01",
	})
	require.Equal(t, http.StatusOK, status)

	status, raw = h.do(t, http.MethodGet, "/api/defaults", nil)
	require.Equal(t, http.StatusOK, status)
	got := unmarshal[map[string]any](t, raw)
	assert.Equal(t, "2024-06-01", got["compatibilityDate"])
}

func TestTenantLifecycle(t *testing.T) {
	h := newAPIHarness(t, Options{})

	h.createTenant(t, "acme")

	status, raw := h.do(t, http.MethodPost, "/api/tenants", map[string]any{"id": "acme"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", errorKind(t, raw))

	status, raw = h.do(t, http.MethodGet, "/api/tenants/acme", nil)
	require.Equal(t, http.StatusOK, status)
	tenant := unmarshal[map[string]any](t, raw)
	assert.Equal(t, "acme", tenant["id"])

	status, _ = h.do(t, http.MethodPut, "/api/tenants/acme", map[string]any{
		"env": map[string]string{"TIER": "gold"},
	})
	require.Equal(t, http.StatusOK, status)

	status, _ = h.do(t, http.MethodDelete, "/api/tenants/acme", nil)
	require.Equal(t, http.StatusNoContent, status)

	status, raw = h.do(t, http.MethodGet, "/api/tenants/acme", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errorKind(t, raw))
}

func TestTenantListPagination(t *testing.T) {
	h := newAPIHarness(t, Options{})
	for _, id := range []string{"alpha", "beta", "gamma"} {
		h.createTenant(t, id)
	}

	type tenantPage struct {
		Items  []struct{ ID string `json:"id"` } `json:"items"`
		Cursor string                            `json:"cursor"`
	}

	status, raw := h.do(t, http.MethodGet, "/api/tenants?limit=2", nil)
	require.Equal(t, http.StatusOK, status)
	page := unmarshal[tenantPage](t, raw)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.Cursor)

	status, raw = h.do(t, http.MethodGet, "/api/tenants?limit=2&cursor="+page.Cursor, nil)
	require.Equal(t, http.StatusOK, status)
	page = unmarshal[tenantPage](t, raw)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "gamma", page.Items[0].ID)
	assert.Empty(t, page.Cursor)
}

func TestWorkerDeployAndFetch(t *testing.T) {
	h := newAPIHarness(t, Options{})
	h.createTenant(t, "acme")

	status, raw := h.do(t, http.MethodPost, "/api/tenants/acme/workers", map[string]any{
		"id":    "api",
		"files": helloFiles("hi"),
	})
	require.Equal(t, http.StatusCreated, status, "body: %s", raw)
	worker := unmarshal[map[string]any](t, raw)
	assert.Equal(t, float64(1), worker["version"])

	status, raw = h.do(t, http.MethodPost, "/api/tenants/acme/workers/api/fetch", map[string]any{
		"method": "GET",
		"path":   "/greet",
	})
	require.Equal(t, http.StatusOK, status, "body: %s", raw)

	var fetched struct {
		Status int    `json:"status"`
		Body   []byte `json:"body"`
	}
	require.NoError(t, json.Unmarshal(raw, &fetched))
	assert.Equal(t, 200, fetched.Status)
	assert.Equal(t, "hi", string(fetched.Body))
}

func TestFetchDefaultsToEmptyRequest(t *testing.T) {
	h := newAPIHarness(t, Options{})
	h.createTenant(t, "acme")

	status, _ := h.do(t, http.MethodPost, "/api/tenants/acme/workers", map[string]any{
		"id": "api", "files": helloFiles("hi"),
	})
	require.Equal(t, http.StatusCreated, status)

	status, raw := h.do(t, http.MethodPost, "/api/tenants/acme/workers/api/fetch", map[string]any{})
	require.Equal(t, http.StatusOK, status, "body: %s", raw)
}

func TestWorkerValidationEnvelope(t *testing.T) {
	h := newAPIHarness(t, Options{})
	h.createTenant(t, "acme")

	status, raw := h.do(t, http.MethodPost, "/api/tenants/acme/workers", map[string]any{
		"id": "Not:Valid", "files": helloFiles("x"),
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", errorKind(t, raw))

	// Unknown fields are rejected rather than silently dropped.
	status, raw = h.do(t, http.MethodPost, "/api/tenants/acme/workers", map[string]any{
		"id": "api", "files": helloFiles("x"), "colour": "green",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", errorKind(t, raw))
}

func TestBuildErrorEnvelope(t *testing.T) {
	h := newAPIHarness(t, Options{})
	h.createTenant(t, "acme")

	// No entrypoint anywhere in the tree, so the bundler refuses it.
	status, raw := h.do(t, http.MethodPost, "/api/tenants/acme/workers", map[string]any{
		"id":    "broken",
		"files": map[string]string{"lib/util.ts": "export const x = 1"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status, "body: %s", raw)
	assert.Equal(t, "build", errorKind(t, raw))
}

func TestRunExecutesAndCaches(t *testing.T) {
	h := newAPIHarness(t, Options{})

	body := map[string]any{"files": helloFiles("adhoc")}

	type runOut struct {
		BuildInfo struct {
			Fingerprint string `json:"fingerprint"`
		} `json:"buildInfo"`
		Response struct {
			Status int    `json:"status"`
			Body   []byte `json:"body"`
		} `json:"response"`
		Timing struct {
			Cached bool `json:"cached"`
		} `json:"timing"`
	}

	status, raw := h.do(t, http.MethodPost, "/api/run", body)
	require.Equal(t, http.StatusOK, status, "body: %s", raw)
	first := unmarshal[runOut](t, raw)
	assert.Len(t, first.BuildInfo.Fingerprint, 16)
	assert.Equal(t, "adhoc", string(first.Response.Body))
	assert.False(t, first.Timing.Cached)

	status, raw = h.do(t, http.MethodPost, "/api/run", body)
	require.Equal(t, http.StatusOK, status)
	second := unmarshal[runOut](t, raw)
	assert.True(t, second.Timing.Cached)
	assert.Equal(t, first.BuildInfo.Fingerprint, second.BuildInfo.Fingerprint)
	assert.Equal(t, int64(1), h.builds.Load())
}

func TestRunSurfacesWorkerError(t *testing.T) {
	h := newAPIHarness(t, Options{})

	status, raw := h.do(t, http.MethodPost, "/api/run", map[string]any{
		"files": map[string]string{
			"src/index.ts": "export default{fetch(){throw new Error('boom')}}",
			"package.json": `{"main":"src/index.ts"}`,
		},
	})
	require.Equal(t, http.StatusOK, status, "worker failures are responses, not API errors")

	var out struct {
		Response struct {
			Status int `json:"status"`
		} `json:"response"`
		WorkerError string `json:"workerError"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 500, out.Response.Status)
	assert.NotEmpty(t, out.WorkerError)
}

func TestOutboundAndTailAliases(t *testing.T) {
	h := newAPIHarness(t, Options{})

	status, raw := h.do(t, http.MethodPost, "/api/outbound-workers", map[string]any{
		"id": "audit", "files": helloFiles("audited"),
	})
	require.Equal(t, http.StatusCreated, status, "body: %s", raw)
	worker := unmarshal[map[string]any](t, raw)
	assert.Equal(t, h.platform.SystemTenant(), worker["tenantId"])

	// Both aliases are views over the same tenant.
	status, raw = h.do(t, http.MethodGet, "/api/tail-workers", nil)
	require.Equal(t, http.StatusOK, status)
	var page struct {
		Items []struct{ ID string `json:"id"` } `json:"items"`
	}
	require.NoError(t, json.Unmarshal(raw, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "audit", page.Items[0].ID)

	status, _ = h.do(t, http.MethodPost, "/api/tail-workers/audit/fetch", map[string]any{})
	assert.Equal(t, http.StatusOK, status)
}

func TestTemplateGenerate(t *testing.T) {
	h := newAPIHarness(t, Options{})
	h.createTenant(t, "acme")

	status, raw := h.do(t, http.MethodPost, "/api/templates", map[string]any{
		"id": "greeter",
		"files": map[string]string{
			"src/index.ts": "export default{fetch(){return new Response('{{word}}')}}",
			"package.json": `{"main":"src/index.ts"}`,
		},
		"slots": []map[string]any{{"name": "word", "default": "hello"}},
	})
	require.Equal(t, http.StatusCreated, status, "body: %s", raw)

	// Without a target the call is interpolation only.
	status, raw = h.do(t, http.MethodPost, "/api/templates/greeter/generate", map[string]any{
		"slots": map[string]string{"word": "hey"},
	})
	require.Equal(t, http.StatusOK, status, "body: %s", raw)
	preview := unmarshal[generatePreview](t, raw)
	assert.Contains(t, preview.Files["src/index.ts"], "Response('hey')")

	// Nothing was deployed by the preview.
	status, raw = h.do(t, http.MethodGet, "/api/tenants/acme/workers", nil)
	require.Equal(t, http.StatusOK, status)
	var page struct {
		Items []json.RawMessage `json:"items"`
	}
	require.NoError(t, json.Unmarshal(raw, &page))
	assert.Empty(t, page.Items)

	status, raw = h.do(t, http.MethodPost, "/api/templates/greeter/generate", map[string]any{
		"tenantId": "acme",
		"workerId": "greeter-1",
	})
	require.Equal(t, http.StatusCreated, status, "body: %s", raw)
	worker := unmarshal[map[string]any](t, raw)
	assert.Equal(t, "greeter-1", worker["id"])

	status, raw = h.do(t, http.MethodPost, "/api/tenants/acme/workers/greeter-1/fetch", map[string]any{})
	require.Equal(t, http.StatusOK, status)
	var fetched struct {
		Body []byte `json:"body"`
	}
	require.NoError(t, json.Unmarshal(raw, &fetched))
	assert.Equal(t, "hello", string(fetched.Body), "template default fills the slot")

	status, raw = h.do(t, http.MethodPost, "/api/templates/greeter/generate", map[string]any{
		"workerId": "orphan",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", errorKind(t, raw))
}

func TestHostnameRoutesAndDispatch(t *testing.T) {
	h := newAPIHarness(t, Options{})
	h.createTenant(t, "acme")

	status, raw := h.do(t, http.MethodPost, "/api/tenants/acme/workers", map[string]any{
		"id":        "web",
		"files":     helloFiles("routed"),
		"hostnames": []string{"app.acme.com"},
	})
	require.Equal(t, http.StatusCreated, status, "body: %s", raw)

	status, raw = h.do(t, http.MethodGet, "/api/routes", nil)
	require.Equal(t, http.StatusOK, status)
	var routes struct {
		Items []struct {
			Hostname string `json:"hostname"`
			WorkerID string `json:"workerId"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(raw, &routes))
	require.Len(t, routes.Items, 1)
	assert.Equal(t, "web", routes.Items[0].WorkerID)

	status, raw = h.do(t, http.MethodGet, "/api/tenants/acme/workers/web/hostnames", nil)
	require.Equal(t, http.StatusOK, status)
	var held struct {
		Hostnames []string `json:"hostnames"`
	}
	require.NoError(t, json.Unmarshal(raw, &held))
	assert.Equal(t, []string{"app.acme.com"}, held.Hostnames)

	req, err := http.NewRequest(http.MethodGet, h.srv.URL+"/anything", nil)
	require.NoError(t, err)
	req.Host = "app.acme.com"
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "routed", string(body))

	req, err = http.NewRequest(http.MethodGet, h.srv.URL+"/anything", nil)
	require.NoError(t, err)
	req.Host = "unclaimed.example.com"
	resp, err = h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", errorKind(t, raw))
}

func TestUnknownAPIEndpointIsNotRouted(t *testing.T) {
	h := newAPIHarness(t, Options{})

	status, raw := h.do(t, http.MethodGet, "/api/nonsense", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errorKind(t, raw))
}

func TestSweepEndpoint(t *testing.T) {
	h := newAPIHarness(t, Options{})

	status, raw := h.do(t, http.MethodPost, "/api/gc", nil)
	require.Equal(t, http.StatusOK, status, "body: %s", raw)
	result := unmarshal[map[string]any](t, raw)
	assert.Contains(t, result, "expiredBundles")
}

func TestEventStream(t *testing.T) {
	h := newAPIHarness(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The subscription is live once the headers arrive, so this event is
	// guaranteed to reach the stream.
	h.createTenant(t, "acme")

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, "event: tenant.created", eventLine)

	var event struct {
		TenantID string `json:"tenantId"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &event))
	assert.Equal(t, "acme", event.TenantID)
}

func TestRateLimitAnswers429(t *testing.T) {
	h := newAPIHarness(t, Options{RateLimit: 1, RateBurst: 1})

	status, _ := h.do(t, http.MethodGet, "/api/tenants", nil)
	require.Equal(t, http.StatusOK, status)

	status, raw := h.do(t, http.MethodGet, "/api/tenants", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", errorKind(t, raw))
}
