package registry

// etcd layout:
//
//	Key:   {prefix}{service}/{addr}
//	Value: JSON-encoded Endpoint
//
// Every key is attached to its own lease. A crashed server stops renewing, the lease
// expires and the endpoint disappears.

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const DefaultPrefix = "/peer-rpc/"

type EtcdOption func(*EtcdRegistry)

func WithLogger(l *zap.Logger) EtcdOption {
	return func(r *EtcdRegistry) {
		if l != nil {
			r.log = l
		}
	}
}

func WithPrefix(prefix string) EtcdOption {
	return func(r *EtcdRegistry) { r.prefix = prefix }
}

func WithDialTimeout(d time.Duration) EtcdOption {
	return func(r *EtcdRegistry) { r.dialTimeout = d }
}

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client      *clientv3.Client
	log         *zap.Logger
	prefix      string
	dialTimeout time.Duration

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, revoked on Deregister
}

// NewEtcdRegistry creates a registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, opts ...EtcdOption) (*EtcdRegistry, error) {
	r := &EtcdRegistry{
		log:         zap.L(),
		prefix:      DefaultPrefix,
		dialTimeout: 5 * time.Second,
		leases:      make(map[string]clientv3.LeaseID),
	}
	for _, opt := range opts {
		opt(r)
	}

	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: r.dialTimeout,
		Logger:      r.log.Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	r.client = c
	return r, nil
}

func (r *EtcdRegistry) key(service, addr string) string {
	return r.servicePrefix(service) + addr
}

func (r *EtcdRegistry) servicePrefix(service string) string {
	return r.prefix + service + "/"
}

// Register stores ep under a fresh lease of ttl seconds and keeps the lease alive
// until Deregister or Close. Registering the same address again replaces the entry.
func (r *EtcdRegistry) Register(ctx context.Context, service string, ep Endpoint, ttl int64) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}

	key := r.key(service, ep.Addr)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// The keepalive must outlive ctx, which usually only bounds the registration call.
	ch, err := r.client.KeepAlive(context.WithoutCancel(ctx), lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
		r.log.Debug("lease keepalive stopped", zap.String("key", key))
	}()

	r.mu.Lock()
	old, replaced := r.leases[key]
	r.leases[key] = lease.ID
	r.mu.Unlock()
	if replaced {
		r.client.Revoke(ctx, old)
	}

	r.log.Info("endpoint registered",
		zap.String("service", service),
		zap.String("addr", ep.Addr),
		zap.Int64("ttl", ttl))
	return nil
}

// Deregister removes an endpoint and stops renewing its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, service string, addr string) error {
	key := r.key(service, addr)

	r.mu.Lock()
	lease, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		// revoking deletes the attached key as well
		if _, err := r.client.Revoke(ctx, lease); err == nil {
			return nil
		}
	}
	_, err := r.client.Delete(ctx, key)
	return err
}

// Discover returns all currently registered endpoints of a service.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, r.servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	endpoints := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			r.log.Warn("skipping malformed endpoint", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// Watch re-reads the endpoint list whenever a key under the service prefix changes.
// The channel is closed when ctx is done.
func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, r.servicePrefix(service), clientv3.WithPrefix())
		for resp := range watchChan {
			if err := resp.Err(); err != nil {
				r.log.Warn("watch failed", zap.String("service", service), zap.Error(err))
				continue
			}
			endpoints, err := r.Discover(ctx, service)
			if err != nil {
				r.log.Warn("discover after change failed", zap.String("service", service), zap.Error(err))
				continue
			}
			select {
			case ch <- endpoints:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close revokes every lease this registry holds and closes the etcd client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	leases := r.leases
	r.leases = make(map[string]clientv3.LeaseID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.dialTimeout)
	defer cancel()

	var err error
	for _, lease := range leases {
		_, revokeErr := r.client.Revoke(ctx, lease)
		err = multierr.Append(err, revokeErr)
	}
	return multierr.Append(err, r.client.Close())
}
