package registry

import "context"

// ServiceInstance is what a server publishes about itself. Codec and Framing
// tell a discovering client how to talk to the instance; Weight is its share
// under weighted balancing.
type ServiceInstance struct {
	Addr    string
	Version string
	Weight  int
	Codec   string
	Framing string
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Close() error
}
