// Package registry lets RPC servers advertise their listen addresses under a service
// name and lets clients look them up.
package registry

import "context"

// DefaultTTL is the lease lifetime of a registration, in seconds. Registrations are
// renewed while the registering process lives.
const DefaultTTL int64 = 10

// Endpoint is one reachable RPC server of a service.
type Endpoint struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"` // Weight for load balancing
	Version string `json:"version,omitempty"`
}

type Registry interface {
	Register(ctx context.Context, service string, ep Endpoint, ttl int64) error
	Deregister(ctx context.Context, service string, addr string) error
	Discover(ctx context.Context, service string) ([]Endpoint, error)
	// Watch emits the full endpoint list of service on every change until ctx is done.
	Watch(ctx context.Context, service string) <-chan []Endpoint
}
