/*
Package client provides a Go client library for the burrow JSON API.

The client wraps every control-surface endpoint with a typed method,
decodes server error envelopes back into errors that satisfy the errdefs
predicates, and exposes the lifecycle event stream as a channel.

# Architecture

	┌──────────────────── APPLICATION CODE ──────────────────────┐
	│                                                             │
	│  import "github.com/cuemby/burrow/pkg/client"               │
	│                                                             │
	│  c := client.New("http://localhost:8080")                   │
	│  w, err := c.CreateWorker(ctx, "acme", worker)              │
	│                                                             │
	└──────────────────┬──────────────────────────────────────────┘
	                   │
	┌──────────────────▼──── pkg/client ──────────────────────────┐
	│  - one method per endpoint, context on every call           │
	│  - error envelopes decoded into *APIError                   │
	│  - pagination cursors passed straight through               │
	│  - SSE event stream parsed into <-chan *types.Event         │
	└──────────────────┬──────────────────────────────────────────┘
	                   │ HTTP/JSON
	                   ▼
	            burrow API server

# Error Handling

Server errors come back as *APIError carrying the taxonomy kind, the
message, and for build failures the offending file and line. APIError
unwraps to the matching errdefs sentinel:

	w, err := c.GetWorker(ctx, "acme", "api")
	if errdefs.IsNotFound(err) {
	    // deploy it
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Kind == "build" {
	    fmt.Printf("%s:%d: %s\n", apiErr.File, apiErr.Line, apiErr.Message)
	}

# Event Streaming

Events delivers lifecycle events until the context ends:

	events, err := c.Events(ctx)
	for event := range events {
	    fmt.Println(event.Type, event.TenantID, event.WorkerID)
	}

Unary calls use a 30 second timeout by default; the event stream has no
timeout and lives exactly as long as its context.

# Thread Safety

A Client is safe for concurrent use. Methods share one pooled HTTP
client underneath.
*/
package client
