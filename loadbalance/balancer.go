// Package loadbalance picks one of the instances a registry returns for a service.
//
//   - RoundRobin:     long-lived clients dialing repeatedly, equal-capacity instances
//   - Random:         one-shot clients (each process would otherwise start at the same index)
//   - WeightedRandom: instances published with different weights
package loadbalance

import (
	"strings"

	"ackrpc/registry"

	"github.com/pkg/errors"
)

// ErrNoInstances is returned by Pick when the instance list is empty.
var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer chooses the instance to dial. Pick must be goroutine-safe.
type Balancer interface {
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)
	Name() string
}

// ParseBalancer maps a flag value to a Balancer.
func ParseBalancer(name string) (Balancer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "random":
		return &RandomBalancer{}, nil
	case "roundrobin", "rr":
		return &RoundRobinBalancer{}, nil
	case "weighted":
		return &WeightedRandomBalancer{}, nil
	}
	return nil, errors.Errorf("loadbalance: unknown strategy %q", name)
}
