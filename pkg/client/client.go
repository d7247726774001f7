package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"

	"github.com/cuemby/burrow/pkg/loader"
	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// System worker collections exposed by the API.
const (
	CollectionOutbound = "outbound-workers"
	CollectionTail     = "tail-workers"
)

// Client talks to a burrow API server over JSON/HTTP.
type Client struct {
	baseURL string
	httpc   *http.Client
	stream  *http.Client
}

// New creates a client for the API server at baseURL, e.g.
// "http://localhost:8080".
func New(baseURL string) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: 30 * time.Second})
}

// NewWithHTTPClient creates a client using the caller's HTTP client for
// unary calls. Event streams always use an untimed client bound to the
// caller's context instead.
func NewWithHTTPClient(baseURL string, httpc *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   httpc,
		stream:  &http.Client{Transport: httpc.Transport},
	}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpc.CloseIdleConnections()
	c.stream.CloseIdleConnections()
}

// APIError is a decoded server error envelope. It unwraps to the matching
// errdefs sentinel, so errdefs.IsNotFound and friends work on it.
type APIError struct {
	Status  int      `json:"-"`
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	File    string   `json:"file,omitempty"`
	Line    int      `json:"line,omitempty"`
	Details []string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s (%s:%d)", e.Kind, e.Message, e.File, e.Line)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Kind {
	case "validation", "build":
		return errdefs.ErrInvalidArgument
	case "not_found":
		return errdefs.ErrNotFound
	case "conflict":
		return errdefs.ErrConflict
	case "loader":
		return errdefs.ErrFailedPrecondition
	case "rate_limited":
		return errdefs.ErrUnavailable
	case "storage":
		return errdefs.ErrInternal
	default:
		return nil
	}
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var envelope struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Kind == "" {
		return fmt.Errorf("server answered %s: %s", resp.Status, bytes.TrimSpace(raw))
	}
	envelope.Error.Status = resp.StatusCode
	return &envelope.Error
}

// do issues one JSON call. A nil out discards the response body.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func listQuery(opts storage.ListOptions) string {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

type page[T any] struct {
	Items  []T    `json:"items"`
	Cursor string `json:"cursor"`
}

// Defaults returns the platform-wide fallback configuration.
func (c *Client) Defaults(ctx context.Context) (*types.Defaults, error) {
	var out types.Defaults
	if err := c.do(ctx, http.MethodGet, "/api/defaults", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get defaults: %w", err)
	}
	return &out, nil
}

// UpdateDefaults merges patch into the platform defaults.
func (c *Client) UpdateDefaults(ctx context.Context, patch *types.ConfigBundle) (*types.Defaults, error) {
	var out types.Defaults
	if err := c.do(ctx, http.MethodPut, "/api/defaults", patch, &out); err != nil {
		return nil, fmt.Errorf("failed to update defaults: %w", err)
	}
	return &out, nil
}

// CreateTenant registers a new tenant.
func (c *Client) CreateTenant(ctx context.Context, tenant *types.Tenant) (*types.Tenant, error) {
	var out types.Tenant
	if err := c.do(ctx, http.MethodPost, "/api/tenants", tenant, &out); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	return &out, nil
}

// GetTenant returns one tenant.
func (c *Client) GetTenant(ctx context.Context, id string) (*types.Tenant, error) {
	var out types.Tenant
	if err := c.do(ctx, http.MethodGet, "/api/tenants/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get tenant %s: %w", id, err)
	}
	return &out, nil
}

// ListTenants returns one page of tenants and the cursor for the next.
func (c *Client) ListTenants(ctx context.Context, opts storage.ListOptions) ([]*types.Tenant, string, error) {
	var out page[*types.Tenant]
	if err := c.do(ctx, http.MethodGet, "/api/tenants"+listQuery(opts), nil, &out); err != nil {
		return nil, "", fmt.Errorf("failed to list tenants: %w", err)
	}
	return out.Items, out.Cursor, nil
}

// UpdateTenant merges patch into a tenant's configuration.
func (c *Client) UpdateTenant(ctx context.Context, id string, patch *types.ConfigBundle) (*types.Tenant, error) {
	var out types.Tenant
	if err := c.do(ctx, http.MethodPut, "/api/tenants/"+url.PathEscape(id), patch, &out); err != nil {
		return nil, fmt.Errorf("failed to update tenant %s: %w", id, err)
	}
	return &out, nil
}

// DeleteTenant removes a tenant and everything it owns.
func (c *Client) DeleteTenant(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/tenants/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("failed to delete tenant %s: %w", id, err)
	}
	return nil
}

func workerPath(tenantID, workerID string) string {
	p := "/api/tenants/" + url.PathEscape(tenantID) + "/workers"
	if workerID != "" {
		p += "/" + url.PathEscape(workerID)
	}
	return p
}

// CreateWorker deploys a new worker into a tenant.
func (c *Client) CreateWorker(ctx context.Context, tenantID string, worker *types.Worker) (*types.Worker, error) {
	var out types.Worker
	if err := c.do(ctx, http.MethodPost, workerPath(tenantID, ""), worker, &out); err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}
	return &out, nil
}

// GetWorker returns one worker.
func (c *Client) GetWorker(ctx context.Context, tenantID, workerID string) (*types.Worker, error) {
	var out types.Worker
	if err := c.do(ctx, http.MethodGet, workerPath(tenantID, workerID), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get worker %s/%s: %w", tenantID, workerID, err)
	}
	return &out, nil
}

// ListWorkers returns one page of a tenant's workers.
func (c *Client) ListWorkers(ctx context.Context, tenantID string, opts storage.ListOptions) ([]*types.Worker, string, error) {
	var out page[*types.Worker]
	if err := c.do(ctx, http.MethodGet, workerPath(tenantID, "")+listQuery(opts), nil, &out); err != nil {
		return nil, "", fmt.Errorf("failed to list workers: %w", err)
	}
	return out.Items, out.Cursor, nil
}

// UpdateWorker applies a partial update, bumping the worker's version when
// it changes code or config.
func (c *Client) UpdateWorker(ctx context.Context, tenantID, workerID string, patch *types.WorkerUpdate) (*types.Worker, error) {
	var out types.Worker
	if err := c.do(ctx, http.MethodPut, workerPath(tenantID, workerID), patch, &out); err != nil {
		return nil, fmt.Errorf("failed to update worker %s/%s: %w", tenantID, workerID, err)
	}
	return &out, nil
}

// DeleteWorker removes a worker, its bundles, and its hostname bindings.
func (c *Client) DeleteWorker(ctx context.Context, tenantID, workerID string) error {
	if err := c.do(ctx, http.MethodDelete, workerPath(tenantID, workerID), nil, nil); err != nil {
		return fmt.Errorf("failed to delete worker %s/%s: %w", tenantID, workerID, err)
	}
	return nil
}

// FetchRequest is a synthetic request dispatched into a deployed worker.
// Zero values default to GET /.
type FetchRequest struct {
	Method     string            `json:"method,omitempty"`
	Path       string            `json:"path,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Entrypoint string            `json:"entrypoint,omitempty"`
}

// FetchResponse is the worker's response. WorkerError carries the
// runtime's exception summary when the script threw.
type FetchResponse struct {
	loader.Response
	WorkerError string `json:"workerError,omitempty"`
}

// Fetch dispatches one request into a deployed worker.
func (c *Client) Fetch(ctx context.Context, tenantID, workerID string, req *FetchRequest) (*FetchResponse, error) {
	if req == nil {
		req = &FetchRequest{}
	}
	var out FetchResponse
	if err := c.do(ctx, http.MethodPost, workerPath(tenantID, workerID)+"/fetch", req, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch from worker %s/%s: %w", tenantID, workerID, err)
	}
	return &out, nil
}

// ListHostnames reports the hostnames a worker currently holds.
func (c *Client) ListHostnames(ctx context.Context, tenantID, workerID string) ([]string, error) {
	var out struct {
		Hostnames []string `json:"hostnames"`
	}
	if err := c.do(ctx, http.MethodGet, workerPath(tenantID, workerID)+"/hostnames", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list hostnames: %w", err)
	}
	return out.Hostnames, nil
}

// AddHostnames claims hostnames for a worker. Claims are exclusive; a name
// held by another worker fails the whole call.
func (c *Client) AddHostnames(ctx context.Context, tenantID, workerID string, hostnames []string) (*types.Worker, error) {
	var out types.Worker
	in := map[string][]string{"hostnames": hostnames}
	if err := c.do(ctx, http.MethodPost, workerPath(tenantID, workerID)+"/hostnames", in, &out); err != nil {
		return nil, fmt.Errorf("failed to add hostnames: %w", err)
	}
	return &out, nil
}

// RemoveHostnames releases hostnames held by a worker.
func (c *Client) RemoveHostnames(ctx context.Context, tenantID, workerID string, hostnames []string) (*types.Worker, error) {
	var out types.Worker
	in := map[string][]string{"hostnames": hostnames}
	if err := c.do(ctx, http.MethodDelete, workerPath(tenantID, workerID)+"/hostnames", in, &out); err != nil {
		return nil, fmt.Errorf("failed to remove hostnames: %w", err)
	}
	return &out, nil
}

// CreateSystemWorker deploys a worker into one of the system collections,
// CollectionOutbound or CollectionTail.
func (c *Client) CreateSystemWorker(ctx context.Context, collection string, worker *types.Worker) (*types.Worker, error) {
	var out types.Worker
	if err := c.do(ctx, http.MethodPost, "/api/"+collection, worker, &out); err != nil {
		return nil, fmt.Errorf("failed to create %s worker: %w", collection, err)
	}
	return &out, nil
}

// GetSystemWorker returns one worker from a system collection.
func (c *Client) GetSystemWorker(ctx context.Context, collection, id string) (*types.Worker, error) {
	var out types.Worker
	if err := c.do(ctx, http.MethodGet, "/api/"+collection+"/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get %s worker %s: %w", collection, id, err)
	}
	return &out, nil
}

// ListSystemWorkers returns one page of a system collection.
func (c *Client) ListSystemWorkers(ctx context.Context, collection string, opts storage.ListOptions) ([]*types.Worker, string, error) {
	var out page[*types.Worker]
	if err := c.do(ctx, http.MethodGet, "/api/"+collection+listQuery(opts), nil, &out); err != nil {
		return nil, "", fmt.Errorf("failed to list %s: %w", collection, err)
	}
	return out.Items, out.Cursor, nil
}

// DeleteSystemWorker removes a worker from a system collection.
func (c *Client) DeleteSystemWorker(ctx context.Context, collection, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/"+collection+"/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("failed to delete %s worker %s: %w", collection, id, err)
	}
	return nil
}

// RegisterTemplate stores a new worker template.
func (c *Client) RegisterTemplate(ctx context.Context, tpl *types.Template) (*types.Template, error) {
	var out types.Template
	if err := c.do(ctx, http.MethodPost, "/api/templates", tpl, &out); err != nil {
		return nil, fmt.Errorf("failed to register template: %w", err)
	}
	return &out, nil
}

// GetTemplate returns one template.
func (c *Client) GetTemplate(ctx context.Context, id string) (*types.Template, error) {
	var out types.Template
	if err := c.do(ctx, http.MethodGet, "/api/templates/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get template %s: %w", id, err)
	}
	return &out, nil
}

// ListTemplates returns one page of template listings.
func (c *Client) ListTemplates(ctx context.Context, opts storage.ListOptions) ([]types.TemplateMetadata, string, error) {
	var out page[types.TemplateMetadata]
	if err := c.do(ctx, http.MethodGet, "/api/templates"+listQuery(opts), nil, &out); err != nil {
		return nil, "", fmt.Errorf("failed to list templates: %w", err)
	}
	return out.Items, out.Cursor, nil
}

// UpdateTemplate replaces a template definition.
func (c *Client) UpdateTemplate(ctx context.Context, id string, tpl *types.Template) (*types.Template, error) {
	var out types.Template
	if err := c.do(ctx, http.MethodPut, "/api/templates/"+url.PathEscape(id), tpl, &out); err != nil {
		return nil, fmt.Errorf("failed to update template %s: %w", id, err)
	}
	return &out, nil
}

// DeleteTemplate removes a template. Workers stamped from it keep running.
func (c *Client) DeleteTemplate(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/templates/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("failed to delete template %s: %w", id, err)
	}
	return nil
}

// PreviewTemplate interpolates a template's files without deploying
// anything.
func (c *Client) PreviewTemplate(ctx context.Context, id string, slots map[string]string) (map[string]string, error) {
	in := map[string]any{"slots": slots}
	var out struct {
		Files map[string]string `json:"files"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/templates/"+url.PathEscape(id)+"/generate", in, &out); err != nil {
		return nil, fmt.Errorf("failed to preview template %s: %w", id, err)
	}
	return out.Files, nil
}

// InstantiateTemplate stamps a worker out of a template and deploys it
// into the tenant.
func (c *Client) InstantiateTemplate(ctx context.Context, templateID, tenantID string, in platform.TemplateInstantiation) (*types.Worker, error) {
	body := struct {
		TenantID string `json:"tenantId"`
		platform.TemplateInstantiation
	}{TenantID: tenantID, TemplateInstantiation: in}

	var out types.Worker
	if err := c.do(ctx, http.MethodPost, "/api/templates/"+url.PathEscape(templateID)+"/generate", body, &out); err != nil {
		return nil, fmt.Errorf("failed to instantiate template %s: %w", templateID, err)
	}
	return &out, nil
}

// RunRequest bundles and executes a source tree once without deploying it.
type RunRequest struct {
	Files    map[string]string   `json:"files"`
	TenantID string              `json:"tenantId,omitempty"`
	Options  platform.RunOptions `json:"options,omitempty"`
	Request  *FetchRequest       `json:"request,omitempty"`
}

// Run executes an ephemeral worker and returns the build, response, and
// timing breakdown.
func (c *Client) Run(ctx context.Context, in *RunRequest) (*platform.RunResult, error) {
	var out platform.RunResult
	if err := c.do(ctx, http.MethodPost, "/api/run", in, &out); err != nil {
		return nil, fmt.Errorf("failed to run: %w", err)
	}
	return &out, nil
}

// Routes returns the full hostname routing table.
func (c *Client) Routes(ctx context.Context) ([]*types.HostnameRoute, error) {
	var out page[*types.HostnameRoute]
	if err := c.do(ctx, http.MethodGet, "/api/routes", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	return out.Items, nil
}

// Sweep triggers a storage garbage collection pass.
func (c *Client) Sweep(ctx context.Context) (*platform.SweepResult, error) {
	var out platform.SweepResult
	if err := c.do(ctx, http.MethodPost, "/api/gc", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to sweep: %w", err)
	}
	return &out, nil
}

// Events subscribes to the server's lifecycle event stream. The channel
// closes when the context is cancelled or the stream ends.
func (c *Client) Events(ctx context.Context) (<-chan *types.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", c.baseURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("failed to subscribe to events: %w", decodeAPIError(resp))
	}

	ch := make(chan *types.Event, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var event types.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}
			select {
			case ch <- &event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
