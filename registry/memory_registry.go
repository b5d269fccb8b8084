package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry is an in-process Registry. TTLs are ignored.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]Endpoint
	watchers map[string][]chan []Endpoint
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string]map[string]Endpoint),
		watchers: make(map[string][]chan []Endpoint),
	}
}

func (m *MemoryRegistry) Register(_ context.Context, service string, ep Endpoint, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	eps, ok := m.services[service]
	if !ok {
		eps = make(map[string]Endpoint)
		m.services[service] = eps
	}
	eps[ep.Addr] = ep
	m.notify(service)
	return nil
}

func (m *MemoryRegistry) Deregister(_ context.Context, service string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[service][addr]; !ok {
		return nil
	}
	delete(m.services[service], addr)
	m.notify(service)
	return nil
}

func (m *MemoryRegistry) Discover(_ context.Context, service string) ([]Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(service), nil
}

func (m *MemoryRegistry) Watch(ctx context.Context, service string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)
	m.mu.Lock()
	m.watchers[service] = append(m.watchers[service], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		watchers := m.watchers[service]
		for i, w := range watchers {
			if w == ch {
				m.watchers[service] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// list returns the endpoints of service sorted by address. Requires m.mu.
func (m *MemoryRegistry) list(service string) []Endpoint {
	eps := make([]Endpoint, 0, len(m.services[service]))
	for _, ep := range m.services[service] {
		eps = append(eps, ep)
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].Addr < eps[j].Addr })
	return eps
}

// notify hands the current list to every watcher, replacing an unread older list.
// Requires m.mu.
func (m *MemoryRegistry) notify(service string) {
	eps := m.list(service)
	for _, ch := range m.watchers[service] {
		select {
		case <-ch:
		default:
		}
		ch <- eps
	}
}
