package client

import (
	"context"

	"ackrpc/codec"
	"ackrpc/loadbalance"
	"ackrpc/protocol"
	"ackrpc/registry"

	"github.com/pkg/errors"
)

// ErrNoInstance is returned when the registry has no live instance of the service.
var ErrNoInstance = errors.New("client: no registered instance")

// DialService looks serviceName up in reg, lets opts.Balancer choose an
// instance and dials it, taking codec and framing from what the instance published.
func DialService(ctx context.Context, reg registry.Registry, serviceName string, opts Options) (*Client, error) {
	instances, err := reg.Discover(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, errors.Wrap(ErrNoInstance, serviceName)
	}

	balancer := opts.Balancer
	if balancer == nil {
		balancer = &loadbalance.RandomBalancer{}
	}
	inst, err := balancer.Pick(instances)
	if err != nil {
		return nil, err
	}
	if opts.Codec == nil && inst.Codec != "" {
		ct, err := codec.ParseCodecType(inst.Codec)
		if err != nil {
			return nil, err
		}
		opts.Codec = codec.GetCodec(ct, false)
	}
	if opts.Framer == nil && inst.Framing != "" {
		if opts.Framer, err = protocol.ParseFramer(inst.Framing); err != nil {
			return nil, err
		}
	}
	return Dial(inst.Addr, opts)
}
