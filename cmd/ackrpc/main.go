// Command ackrpc runs the acknowledgment server or sends requests to one.
//
//	ackrpc [serve] --config configs/ackrpc.ini --addr 0.0.0.0:8888
//	ackrpc call --addr 127.0.0.1:8888 --id 42
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/urfave/cli.v1"
)

var app = cli.NewApp()

func init() {
	app.Name = filepath.Base(os.Args[0])
	app.Usage = "TCP request/acknowledgment server"
	app.Version = "0.1.0"

	app.Commands = []cli.Command{
		serveCommand,
		callCommand,
	}

	// Running without a subcommand serves.
	app.Flags = serveFlags
	app.Action = serveAction
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
