package loadbalance

import (
	"fmt"
	"hash/crc32"
	"slices"
	"sort"
	"sync"

	"peer-rpc/registry"
)

// ConsistentHashBalancer maps keys to endpoints on a hash ring with virtual nodes,
// so a key keeps its endpoint while the endpoint set changes around it.
//
//	                  0
//	                ╱   ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A'
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu    sync.RWMutex
	ring  []uint32
	nodes map[uint32]registry.Endpoint
	addrs []string // sorted addresses currently on the ring
}

// NewConsistentHashBalancer creates a ring with 100 virtual nodes per endpoint.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]registry.Endpoint),
	}
}

// Add places an endpoint on the ring.
func (b *ConsistentHashBalancer) Add(ep registry.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(ep)
	b.addrs = append(b.addrs, ep.Addr)
	slices.Sort(b.addrs)
}

func (b *ConsistentHashBalancer) add(ep registry.Endpoint) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", ep.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = ep
	}
	slices.Sort(b.ring)
}

// Set rebuilds the ring from endpoints unless it already holds exactly those addresses.
func (b *ConsistentHashBalancer) Set(endpoints []registry.Endpoint) {
	addrs := make([]string, len(endpoints))
	for i, ep := range endpoints {
		addrs[i] = ep.Addr
	}
	slices.Sort(addrs)

	b.mu.Lock()
	defer b.mu.Unlock()
	if slices.Equal(addrs, b.addrs) {
		return
	}
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]registry.Endpoint, len(endpoints)*b.replicas)
	for _, ep := range endpoints {
		b.add(ep)
	}
	b.addrs = addrs
}

// Pick finds the endpoint responsible for key: the first virtual node at or after the
// key's hash, wrapping around to the start of the ring.
func (b *ConsistentHashBalancer) Pick(key string) (*registry.Endpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) == 0 {
		return nil, ErrNoEndpoints
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	ep := b.nodes[b.ring[idx]]
	return &ep, nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}

// For returns a Balancer that always picks the endpoint owning key.
func (b *ConsistentHashBalancer) For(key string) Balancer {
	return keyed{ring: b, key: key}
}

type keyed struct {
	ring *ConsistentHashBalancer
	key  string
}

func (k keyed) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	k.ring.Set(endpoints)
	return k.ring.Pick(k.key)
}

func (k keyed) Name() string {
	return k.ring.Name()
}
