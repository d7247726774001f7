package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRuntime is a minimal in-memory worker runtime speaking the Remote
// wire protocol.
type fakeRuntime struct {
	mu       sync.Mutex
	workers  map[string]*ModuleDescriptor
	dispatch func(name, entrypoint string, req *Request) *Response
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{workers: map[string]*ModuleDescriptor{}}
}

func (f *fakeRuntime) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/workers/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		_, ok := f.workers[r.PathValue("name")]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/workers/{name}", func(w http.ResponseWriter, r *http.Request) {
		var desc ModuleDescriptor
		if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.workers[r.PathValue("name")] = &desc
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /v1/workers/{name}/dispatch", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Entrypoint string   `json:"entrypoint"`
			Request    *Request `json:"request"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := f.dispatch(r.PathValue("name"), payload.Entrypoint, payload.Request)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("DELETE /v1/workers/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		delete(f.workers, r.PathValue("name"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func descriptorFixture() *ModuleDescriptor {
	return &ModuleDescriptor{
		MainModule:        "dist/index.js",
		Modules:           map[string]string{"dist/index.js": "export default {}"},
		CompatibilityDate: "2026-01-24",
		Env:               map[string]string{},
	}
}

func TestRemoteGetColdStart(t *testing.T) {
	runtime := newFakeRuntime()
	server := httptest.NewServer(runtime.handler())
	defer server.Close()

	prepared := 0
	cold := ColdStartFunc(func(ctx context.Context) (*ModuleDescriptor, error) {
		prepared++
		return descriptorFixture(), nil
	})

	remote := NewRemote(server.URL)
	stub, err := remote.Get(context.Background(), "acme:api:v1", cold)
	require.NoError(t, err)
	require.NotNil(t, stub)
	assert.Equal(t, 1, prepared)

	runtime.mu.Lock()
	desc := runtime.workers["acme:api:v1"]
	runtime.mu.Unlock()
	require.NotNil(t, desc, "descriptor must reach the runtime")
	assert.Equal(t, "dist/index.js", desc.MainModule)

	// Resident now: a second Get must not prepare again.
	_, err = remote.Get(context.Background(), "acme:api:v1", cold)
	require.NoError(t, err)
	assert.Equal(t, 1, prepared)
}

func TestRemoteGetPrepareFailurePassesThrough(t *testing.T) {
	runtime := newFakeRuntime()
	server := httptest.NewServer(runtime.handler())
	defer server.Close()

	cold := ColdStartFunc(func(ctx context.Context) (*ModuleDescriptor, error) {
		return nil, fmt.Errorf("bundle missing: %w", errdefs.ErrFailedPrecondition)
	})

	_, err := NewRemote(server.URL).Get(context.Background(), "acme:api:v1", cold)
	require.Error(t, err)
	assert.True(t, errdefs.IsFailedPrecondition(err), "control-plane errors must not be rewrapped")

	var le *Error
	assert.False(t, errors.As(err, &le), "prepare failures are not runtime failures")
}

func TestRemoteDispatch(t *testing.T) {
	runtime := newFakeRuntime()
	runtime.dispatch = func(name, entrypoint string, req *Request) *Response {
		return &Response{
			Status:  200,
			Headers: map[string]string{"content-type": "text/plain"},
			Body:    []byte(entrypoint + " saw " + req.Method + " " + req.Path),
		}
	}
	server := httptest.NewServer(runtime.handler())
	defer server.Close()

	remote := NewRemote(server.URL)
	stub, err := remote.Get(context.Background(), "acme:api:v1", ColdStartFunc(func(ctx context.Context) (*ModuleDescriptor, error) {
		return descriptorFixture(), nil
	}))
	require.NoError(t, err)

	fetcher, err := stub.GetEntrypoint("")
	require.NoError(t, err)

	resp, err := fetcher.Dispatch(context.Background(), &Request{Method: "GET", Path: "/hello"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "default saw GET /hello", string(resp.Body), "empty entrypoint selects default")
}

func TestRemoteDispatchWorkerFailure(t *testing.T) {
	runtime := newFakeRuntime()
	runtime.dispatch = func(name, entrypoint string, req *Request) *Response {
		return &Response{Status: 500, Body: []byte("TypeError: x is not a function")}
	}
	server := httptest.NewServer(runtime.handler())
	defer server.Close()

	remote := NewRemote(server.URL)
	stub, err := remote.Get(context.Background(), "acme:api:v1", ColdStartFunc(func(ctx context.Context) (*ModuleDescriptor, error) {
		return descriptorFixture(), nil
	}))
	require.NoError(t, err)

	fetcher, err := stub.GetEntrypoint("default")
	require.NoError(t, err)

	resp, err := fetcher.Dispatch(context.Background(), &Request{Method: "GET", Path: "/"})
	require.NoError(t, err, "a worker-level failure is a response, not a transport error")
	assert.Equal(t, 500, resp.Status)
	assert.Contains(t, string(resp.Body), "TypeError")
}

func TestRemoteUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	_, err := NewRemote(server.URL).Get(context.Background(), "acme:api:v1", ColdStartFunc(func(ctx context.Context) (*ModuleDescriptor, error) {
		t.Fatal("prepare must not run when the runtime is unreachable")
		return nil, nil
	}))
	require.Error(t, err)

	var le *Error
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "acme:api:v1", le.Name)
	assert.True(t, errdefs.IsUnavailable(err))
}

func TestRemoteRemove(t *testing.T) {
	runtime := newFakeRuntime()
	server := httptest.NewServer(runtime.handler())
	defer server.Close()

	remote := NewRemote(server.URL)
	_, err := remote.Get(context.Background(), "acme:api:v1", ColdStartFunc(func(ctx context.Context) (*ModuleDescriptor, error) {
		return descriptorFixture(), nil
	}))
	require.NoError(t, err)

	require.NoError(t, remote.Remove(context.Background(), "acme:api:v1"))
	runtime.mu.Lock()
	_, resident := runtime.workers["acme:api:v1"]
	runtime.mu.Unlock()
	assert.False(t, resident)

	// Evicting again is a no-op.
	require.NoError(t, remote.Remove(context.Background(), "acme:api:v1"))
}
