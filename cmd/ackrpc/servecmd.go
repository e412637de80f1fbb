package main

import (
	"context"
	"fmt"
	"os"

	"ackrpc/config"
	"ackrpc/logger"
	"ackrpc/metrics"
	"ackrpc/registry"
	"ackrpc/server"

	"gopkg.in/urfave/cli.v1"
)

var serveCommand = cli.Command{
	Action: serveAction,
	Name:   "serve",
	Usage:  "run the server (default)",
	Flags:  serveFlags,
}

func serveAction(ctx *cli.Context) error {
	if args := ctx.Args(); len(args) > 0 {
		return fmt.Errorf("invalid command: %q", args[0])
	}

	cfg, err := loadServeConfig(ctx)
	if err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	opts, err := server.OptionsFromConfig(cfg.Server)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid server configuration")
	}
	opts.Metrics = metrics.New(cfg.Metrics.Namespace)

	if cfg.Metrics.Addr != "" {
		go func() {
			err := opts.Metrics.Serve(context.Background(), cfg.Metrics.Addr, logger.WithComponent("metrics"))
			if err != nil {
				logger.Error().Err(err).Msg("Metrics endpoint stopped")
			}
		}()
	}

	if len(cfg.Registry.Endpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.Prefix, cfg.Registry.DialTimeout)
		if err != nil {
			logger.Fatal().Err(err).Strs("endpoints", cfg.Registry.Endpoints).Msg("Failed to create registry client")
		}
		defer reg.Close()
		opts.Registry = reg
		opts.ServiceName = cfg.Registry.Service
		opts.RegistryTTL = cfg.Registry.TTL
		opts.Weight = cfg.Registry.Weight
		opts.Version = ctx.App.Version
	}

	svr := server.NewServer(opts)
	if err := svr.ListenAndServe(cfg.Server.Addr); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	return nil
}

// loadServeConfig layers flags over the config file and environment.
func loadServeConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.String(ConfigFileFlag.Name))
	if err != nil {
		return nil, err
	}

	if ctx.IsSet(AddrFlag.Name) {
		cfg.Server.Addr = ctx.String(AddrFlag.Name)
	}
	if ctx.IsSet(MaxConnectionsFlag.Name) {
		cfg.Server.MaxConnections = ctx.Int(MaxConnectionsFlag.Name)
	}
	if ctx.IsSet(CodecFlag.Name) {
		cfg.Server.Codec = ctx.String(CodecFlag.Name)
	}
	if ctx.IsSet(FramingFlag.Name) {
		cfg.Server.Framing = ctx.String(FramingFlag.Name)
	}
	if ctx.Bool(StrictDecodeFlag.Name) {
		cfg.Server.StrictDecode = true
	}
	if ctx.IsSet(LogLevelFlag.Name) {
		cfg.Log.Level = ctx.String(LogLevelFlag.Name)
	}
	if ctx.IsSet(MetricsAddrFlag.Name) {
		cfg.Metrics.Addr = ctx.String(MetricsAddrFlag.Name)
	}

	return cfg, cfg.Validate()
}
