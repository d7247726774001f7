package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
)

// Remote talks to an out-of-process worker runtime over HTTP. The runtime
// owns isolate lifecycles; this adapter only instantiates by name and
// forwards dispatches.
//
// Wire protocol:
//
//	GET    /v1/workers/{name}           200 resident, 404 not resident
//	POST   /v1/workers/{name}           instantiate from a ModuleDescriptor
//	POST   /v1/workers/{name}/dispatch  {entrypoint, request} -> Response
//	DELETE /v1/workers/{name}           evict
type Remote struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewRemote creates a loader against the runtime at baseURL.
func NewRemote(baseURL string) *Remote {
	return &Remote{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  log.WithComponent("loader"),
	}
}

// Get implements Loader. A resident worker is reused; otherwise the
// cold-start callback supplies the descriptor and the worker is
// instantiated before the stub is returned.
func (r *Remote) Get(ctx context.Context, name string, cold ColdStart) (Stub, error) {
	status, body, err := r.do(ctx, http.MethodGet, r.workerPath(name), nil)
	if err != nil {
		return nil, &Error{Name: name, Err: err}
	}

	switch status {
	case http.StatusOK:
		return &remoteStub{remote: r, name: name}, nil
	case http.StatusNotFound:
		// Cold start below.
	default:
		return nil, &Error{Name: name, Err: remoteFailure("lookup", status, body)}
	}

	desc, err := cold.Prepare(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(desc)
	if err != nil {
		return nil, &Error{Name: name, Err: fmt.Errorf("encode descriptor: %w", err)}
	}

	r.logger.Debug().Str("worker", name).Int("modules", len(desc.Modules)).Msg("Instantiating worker")

	status, body, err = r.do(ctx, http.MethodPost, r.workerPath(name), payload)
	if err != nil {
		return nil, &Error{Name: name, Err: err}
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, &Error{Name: name, Err: remoteFailure("instantiate", status, body)}
	}

	return &remoteStub{remote: r, name: name}, nil
}

// Remove implements Remover. Evicting an absent worker is not an error.
func (r *Remote) Remove(ctx context.Context, name string) error {
	status, body, err := r.do(ctx, http.MethodDelete, r.workerPath(name), nil)
	if err != nil {
		return &Error{Name: name, Err: err}
	}
	switch status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return &Error{Name: name, Err: remoteFailure("evict", status, body)}
	}
}

func (r *Remote) workerPath(name string) string {
	return "/v1/workers/" + url.PathEscape(name)
}

func (r *Remote) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("worker runtime unreachable: %v: %w", err, errdefs.ErrUnavailable)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read runtime response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func remoteFailure(op string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("%s failed (%d): %s", op, status, msg)
}

type remoteStub struct {
	remote *Remote
	name   string
}

// GetEntrypoint implements Stub. An empty name selects the default export.
func (s *remoteStub) GetEntrypoint(name string) (Fetcher, error) {
	if name == "" {
		name = "default"
	}
	return &remoteFetcher{remote: s.remote, name: s.name, entrypoint: name}, nil
}

type remoteFetcher struct {
	remote     *Remote
	name       string
	entrypoint string
}

// Dispatch implements Fetcher.
func (f *remoteFetcher) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	payload, err := json.Marshal(struct {
		Entrypoint string   `json:"entrypoint"`
		Request    *Request `json:"request"`
	}{f.entrypoint, req})
	if err != nil {
		return nil, &Error{Name: f.name, Err: fmt.Errorf("encode request: %w", err)}
	}

	status, body, err := f.remote.do(ctx, http.MethodPost, f.remote.workerPath(f.name)+"/dispatch", payload)
	if err != nil {
		return nil, &Error{Name: f.name, Err: err}
	}
	if status != http.StatusOK {
		return nil, &Error{Name: f.name, Err: remoteFailure("dispatch", status, body)}
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Name: f.name, Err: fmt.Errorf("invalid dispatch response: %w", err)}
	}
	return &resp, nil
}
