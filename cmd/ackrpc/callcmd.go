package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ackrpc/client"
	"ackrpc/codec"
	"ackrpc/config"
	"ackrpc/loadbalance"
	"ackrpc/logger"
	"ackrpc/protocol"
	"ackrpc/registry"

	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"
)

var callCommand = cli.Command{
	Action:      callAction,
	Name:        "call",
	Usage:       "send requests to a running server and print the responses",
	Flags:       callFlags,
	Description: "Either --addr or --registry must be given.",
}

func callAction(ctx *cli.Context) error {
	logConf := config.Default().Log
	if ctx.IsSet(LogLevelFlag.Name) {
		logConf.Level = ctx.String(LogLevelFlag.Name)
	}
	if err := logger.Init(logConf); err != nil {
		return err
	}

	opts := client.Options{}
	if ctx.IsSet(CodecFlag.Name) {
		ct, err := codec.ParseCodecType(ctx.String(CodecFlag.Name))
		if err != nil {
			return err
		}
		opts.Codec = codec.GetCodec(ct, false)
	}
	if ctx.IsSet(FramingFlag.Name) {
		f, err := protocol.ParseFramer(ctx.String(FramingFlag.Name))
		if err != nil {
			return err
		}
		opts.Framer = f
	}

	c, err := dialForCall(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	id := ctx.Uint64(IDFlag.Name)
	timeout := ctx.Duration(TimeoutFlag.Name)
	for i := 0; i < ctx.Int(CountFlag.Name); i++ {
		if err := callOnce(c, id+uint64(i), timeout); err != nil {
			return err
		}
	}
	return nil
}

func callOnce(c *client.Client, id uint64, timeout time.Duration) error {
	callCtx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.Call(callCtx, id)
	if err != nil {
		return err
	}
	logger.Debug().Dur("rtt", time.Since(start)).Uint64("id", resp.ID).Msg("call")
	fmt.Printf("id=%d success=%t message=%q\n", resp.ID, resp.Success, resp.Message)
	return nil
}

func dialForCall(ctx *cli.Context, opts client.Options) (*client.Client, error) {
	if endpoints := ctx.String(RegistryFlag.Name); endpoints != "" {
		balancer, err := loadbalance.ParseBalancer(ctx.String(BalanceFlag.Name))
		if err != nil {
			return nil, err
		}
		opts.Balancer = balancer

		defaults := config.Default().Registry
		reg, err := registry.NewEtcdRegistry(strings.Split(endpoints, ","), defaults.Prefix, defaults.DialTimeout)
		if err != nil {
			return nil, err
		}
		defer reg.Close()

		discoverCtx, cancel := context.WithTimeout(context.Background(), defaults.DialTimeout)
		defer cancel()
		return client.DialService(discoverCtx, reg, ctx.String(ServiceFlag.Name), opts)
	}

	addr := ctx.String(AddrFlag.Name)
	if addr == "" {
		return nil, errors.New("call: --addr or --registry is required")
	}
	return client.Dial(addr, opts)
}
