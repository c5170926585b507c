package domain

import (
	"context"
	"maps"
	"time"
)

// OperationRequest names a remote operation and its parameters.
type OperationRequest struct {
	Operation string
	Params    map[string]any
}

// NewOperationRequest copies params so later changes by the caller are not
// observed by the executor.
func NewOperationRequest(operation string, params map[string]any) OperationRequest {
	return OperationRequest{Operation: operation, Params: maps.Clone(params)}
}

// Result is what a successful execution returns to the caller.
type Result struct {
	Operation string
	Resource  string
	Output    any
	Duration  time.Duration
}

// RemoteClient is the capability that performs the actual cloud call.
type RemoteClient interface {
	Invoke(ctx context.Context, operation string, params map[string]any) (any, error)
	Close(ctx context.Context) error
}

// Connector establishes a RemoteClient for a service in a region.
type Connector interface {
	Connect(ctx context.Context, service, region string) (RemoteClient, error)
}
