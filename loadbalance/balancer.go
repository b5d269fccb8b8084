// Package loadbalance picks the endpoint a client dials among those registered for a
// service.
//
//   - RoundRobin:      equal-capacity endpoints
//   - WeightedRandom:  endpoints of different capacity
//   - ConsistentHash:  the same key always lands on the same endpoint
package loadbalance

import (
	"errors"

	"peer-rpc/registry"
)

var ErrNoEndpoints = errors.New("loadbalance: no endpoints available")

// Balancer selects one endpoint per connection attempt. Implementations are
// goroutine-safe.
type Balancer interface {
	Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error)
	Name() string
}
