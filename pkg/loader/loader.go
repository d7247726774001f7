package loader

import (
	"context"
	"fmt"

	"github.com/cuemby/burrow/pkg/types"
)

// ModuleDescriptor is everything a runtime needs to instantiate a worker:
// compiled modules plus the flattened configuration they run under.
type ModuleDescriptor struct {
	MainModule         string            `json:"mainModule"`
	Modules            map[string]string `json:"modules"`
	CompatibilityDate  string            `json:"compatibilityDate"`
	CompatibilityFlags []string          `json:"compatibilityFlags,omitempty"`
	Env                map[string]string `json:"env"`
	Limits             *types.Limits     `json:"limits,omitempty"`
	GlobalOutbound     string            `json:"globalOutbound,omitempty"`
	Tails              []string          `json:"tails,omitempty"`
}

// ColdStart produces the descriptor for a worker the runtime has not seen.
// The runtime calls Prepare at most once per Get.
type ColdStart interface {
	Prepare(ctx context.Context) (*ModuleDescriptor, error)
}

// ColdStartFunc adapts a plain function to the ColdStart interface.
type ColdStartFunc func(ctx context.Context) (*ModuleDescriptor, error)

// Prepare implements ColdStart
func (f ColdStartFunc) Prepare(ctx context.Context) (*ModuleDescriptor, error) {
	return f(ctx)
}

// Request is the wire shape dispatched into a worker.
type Request struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// Response is what a worker produced. A worker-level failure is a Response
// with a 5xx status, not a transport error.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// Fetcher dispatches requests into one worker entrypoint.
type Fetcher interface {
	Dispatch(ctx context.Context, req *Request) (*Response, error)
}

// Stub is a handle to a loaded worker.
type Stub interface {
	GetEntrypoint(name string) (Fetcher, error)
}

// Loader materializes stubs by name. When the named worker is not resident
// the loader invokes the cold-start callback for its descriptor.
type Loader interface {
	Get(ctx context.Context, name string, cold ColdStart) (Stub, error)
}

// Remover is implemented by loaders that can evict a resident worker.
type Remover interface {
	Remove(ctx context.Context, name string) error
}

// Error wraps a runtime-side failure with the worker name it concerned.
// Cold-start preparation errors pass through unwrapped; they belong to the
// control plane, not the runtime.
type Error struct {
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("loader %q: %v", e.Name, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
