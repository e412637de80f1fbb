package main

import "gopkg.in/urfave/cli.v1"

var (
	ConfigFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "ini configuration file",
	}
	AddrFlag = cli.StringFlag{
		Name:  "addr",
		Usage: "listen address (serve) or server address (call)",
	}
	MaxConnectionsFlag = cli.IntFlag{
		Name:  "max-connections",
		Usage: "maximum simultaneous connections, 0 for unbounded",
	}
	CodecFlag = cli.StringFlag{
		Name:  "codec",
		Usage: "wire codec: flatbuffers | proto",
	}
	FramingFlag = cli.StringFlag{
		Name:  "framing",
		Usage: "message framing: raw | length",
	}
	StrictDecodeFlag = cli.BoolFlag{
		Name:  "strict-decode",
		Usage: "verify FlatBuffers input before reading it",
	}
	LogLevelFlag = cli.StringFlag{
		Name:  "log-level",
		Usage: "trace | debug | info | warn | error",
	}
	MetricsAddrFlag = cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "serve /metrics on this address",
	}

	IDFlag = cli.Uint64Flag{
		Name:  "id",
		Usage: "request identifier",
	}
	CountFlag = cli.IntFlag{
		Name:  "count",
		Usage: "number of requests, ids increase from --id",
		Value: 1,
	}
	TimeoutFlag = cli.DurationFlag{
		Name:  "timeout",
		Usage: "per-call deadline",
	}
	RegistryFlag = cli.StringFlag{
		Name:  "registry",
		Usage: "comma separated etcd endpoints; call discovers the server instead of --addr",
	}
	ServiceFlag = cli.StringFlag{
		Name:  "service",
		Usage: "service name to discover in the registry",
		Value: "ackrpc",
	}

	BalanceFlag = cli.StringFlag{
		Name:  "balance",
		Usage: "instance selection with --registry: random | roundrobin | weighted",
		Value: "random",
	}

	serveFlags = []cli.Flag{
		ConfigFileFlag,
		AddrFlag,
		MaxConnectionsFlag,
		CodecFlag,
		FramingFlag,
		StrictDecodeFlag,
		LogLevelFlag,
		MetricsAddrFlag,
	}

	callFlags = []cli.Flag{
		AddrFlag,
		IDFlag,
		CountFlag,
		CodecFlag,
		FramingFlag,
		TimeoutFlag,
		RegistryFlag,
		ServiceFlag,
		BalanceFlag,
		LogLevelFlag,
	}
)
