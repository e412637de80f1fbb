// Package registry publishes server instances in etcd so deployment tooling and
// clients can find them.
//
//	Key:   {prefix}/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Entries are attached to a TTL lease that is kept alive for as long as the
// process runs. There is no shutdown hook: when the process is torn down the
// keepalive stops and etcd drops the entry once the lease expires.
package registry

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"ackrpc/logger"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	prefix string
	log    zerolog.Logger

	// keepAliveCtx outlives individual Register calls; cancelled by Close.
	keepAliveCtx context.Context
	cancel       context.CancelFunc
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, prefix string, dialTimeout time.Duration) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "etcd client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{
		client:       c,
		prefix:       strings.TrimRight(prefix, "/"),
		log:          logger.WithComponent("registry"),
		keepAliveCtx: ctx,
		cancel:       cancel,
	}, nil
}

func (r *EtcdRegistry) key(serviceName, addr string) string {
	return r.servicePrefix(serviceName) + addr
}

func (r *EtcdRegistry) servicePrefix(serviceName string) string {
	return r.prefix + "/" + serviceName + "/"
}

// Register puts the instance under a fresh TTL lease and starts renewing it.
// The lease id stays local to the call so concurrent registrations do not race.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Wrap(err, "grant lease")
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := r.key(serviceName, instance.Addr)
	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Wrapf(err, "put %s", key)
	}

	ch, err := r.client.KeepAlive(r.keepAliveCtx, lease.ID)
	if err != nil {
		return errors.Wrap(err, "keepalive")
	}

	// Drain responses so the client-side buffer never fills. The channel closes
	// when the lease is lost or Close is called.
	go func() {
		for range ch {
		}
		r.log.Warn().Str("key", key).Msg("lease keepalive stopped")
	}()

	r.log.Info().Str("key", key).Int64("ttl", ttl).Msg("instance registered")
	return nil
}

// Deregister removes a service instance from etcd.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	_, err := r.client.Delete(ctx, r.key(serviceName, addr))
	return errors.Wrap(err, "delete instance")
}

// Discover returns all currently registered instances for a service.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, r.servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "list instances")
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.log.Warn().Str("key", string(kv.Key)).Err(err).Msg("skipping malformed instance")
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close stops lease renewal and closes the etcd client.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	return r.client.Close()
}
