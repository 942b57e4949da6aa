package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/gops/agent"
	"github.com/scott-cotton/cli"

	"github.com/signadot/echod/system/echod/api"
	"github.com/signadot/echod/system/echod/console"
	"github.com/signadot/echod/system/echod/server"
)

type ServeConfig struct {
	*MainConfig
	Serve *cli.Command

	ConfigFile  string `cli:"name=config desc='YAML configuration file; flags override its values'"`
	Port        int    `cli:"name=port desc='TCP port to listen on (or give it as the argument)'"`
	Echo        bool   `cli:"name=e desc='echo each message back to its sender'"`
	Broadcast   bool   `cli:"name=b desc='send each message to every connected client'"`
	Mode        string `cli:"name=mode desc='delivery mode: none, echo or broadcast'"`
	Address     string `cli:"name=si desc='IP address to bind (default any)'"`
	ExcludeSelf bool   `cli:"name=exclude-self desc='do not broadcast back to the sender'"`
	BufferSize  int    `cli:"name=buf desc='receive buffer size, the largest single message' default=65536"`
	Fanout      int    `cli:"name=fanout desc='concurrent sends per broadcast' default=16"`
	Filter      string `cli:"name=filter desc='only deliver messages for which this expression is true'"`
	Gops        bool   `cli:"name=gops desc='start the gops diagnostics agent'"`
	Color       bool   `cli:"name=color desc='color connection lines (default: when stdout is a terminal)'"`
}

func ServeCommand(mainCfg *MainConfig) *cli.Command {
	return newServeConfig(mainCfg).Serve
}

func newServeConfig(mainCfg *MainConfig) *ServeConfig {
	cfg := &ServeConfig{
		MainConfig: mainCfg,
		BufferSize: server.DefaultBufferSize,
		Fanout:     server.DefaultFanout,
	}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	cfg.Serve = cli.NewCommand("serve").
		WithSynopsis("serve [-e | -b] [-si ip] [-config file] [opts] port").
		WithDescription("run the TCP server; sample: echod serve -b 1234").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return serve(cfg, cc, args)
		})
	return cfg
}

// isSet reports whether the named option was given on the command line.
func (cfg *ServeConfig) isSet(name string) bool {
	for _, opt := range cfg.Serve.Opts {
		if opt.Name == name {
			return opt.Value != nil
		}
	}
	return false
}

// serverConfig builds the server configuration: the config file if
// any, then the flags given on the command line, then the positional
// port. An invalid result is a usage error wrapping the api.ErrConfig
// error.
func (cfg *ServeConfig) serverConfig(args []string) (*server.Config, error) {
	sc := server.DefaultConfig()
	if cfg.ConfigFile != "" {
		var err error
		sc, err = server.LoadConfig(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
	}

	if count(cfg.Echo, cfg.Broadcast, cfg.isSet("mode")) > 1 {
		return nil, fmt.Errorf("%w: specify at most one of -e, -b and -mode", cli.ErrUsage)
	}
	switch {
	case cfg.Echo:
		sc.Mode = api.ModeEcho.String()
	case cfg.Broadcast:
		sc.Mode = api.ModeBroadcast.String()
	case cfg.isSet("mode"):
		sc.Mode = cfg.Mode
	}

	if cfg.isSet("port") {
		sc.Port = cfg.Port
	}
	switch len(args) {
	case 0:
	case 1:
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid port %q", cli.ErrUsage, args[0])
		}
		sc.Port = port
	default:
		return nil, fmt.Errorf("%w: unexpected arguments %q", cli.ErrUsage, args[1:])
	}

	if cfg.isSet("si") {
		sc.Address = cfg.Address
	}
	if cfg.ExcludeSelf {
		includeSelf := false
		sc.IncludeSelf = &includeSelf
	}
	if cfg.isSet("buf") {
		sc.BufferSize = cfg.BufferSize
	}
	if cfg.isSet("fanout") {
		sc.Fanout = cfg.Fanout
	}
	if cfg.isSet("filter") {
		sc.Filter = cfg.Filter
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}
	return sc, nil
}

func (cfg *ServeConfig) colorMode() console.ColorMode {
	switch {
	case cfg.Color:
		return console.ColorAlways
	case cfg.isSet("color"):
		return console.ColorNever
	}
	return console.ColorAuto
}

func serve(cfg *ServeConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Serve.Parse(cc, args)
	if err != nil {
		cfg.Serve.Usage(cc, err)
		return cli.ExitCodeErr(1)
	}

	sc, err := cfg.serverConfig(args)
	if err != nil {
		if errors.Is(err, cli.ErrUsage) {
			return err
		}
		fmt.Fprintf(os.Stderr, "echod: %v\n", err)
		return cli.ExitCodeErr(1)
	}

	if cfg.Gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			fmt.Fprintf(os.Stderr, "gops agent failed: %v\n", err)
		}
		defer agent.Close()
	}

	srv, err := server.New(&server.Spec{
		Config:   sc,
		Observer: console.New(cc.Out, cfg.colorMode()),
	})
	if err != nil {
		return err
	}

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintf(os.Stderr, "\nShutting down...\n")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := srv.StartTCP(ctx, sc.Addr()); err != nil {
		fmt.Fprintf(os.Stderr, "echod: %v\n", err)
		return cli.ExitCodeErr(1)
	}
	defer srv.StopTCP()

	select {
	case <-ctx.Done():
		return srv.StopTCP()
	case <-srv.Done():
	}
	if err := srv.Err(); err != nil {
		// accept failed: let the open connections finish
		fmt.Fprintf(os.Stderr, "echod: %v\n", err)
		drained := make(chan struct{})
		go func() {
			srv.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
		}
		return cli.ExitCodeErr(1)
	}
	return nil
}

func count(vs ...bool) int {
	ttl := 0
	for _, v := range vs {
		if v {
			ttl++
		}
	}
	return ttl
}
