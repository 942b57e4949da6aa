package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/scott-cotton/cli"
)

// version is the echod release, set with -ldflags at build time.
var version = "0.1.0"

type MainConfig struct {
	Main *cli.Command
}

func MainCommand() *cli.Command {
	cfg := &MainConfig{}
	return cli.NewCommandAt(&cfg.Main, "echod").
		WithSynopsis("echod command [opts]").
		WithDescription("echod is a TCP server that logs, echoes or broadcasts what its clients send.").
		WithRun(func(cc *cli.Context, args []string) error {
			return echodMain(cfg, cc, args)
		}).
		WithSubs(
			ServeCommand(cfg),
			VersionCommand(cfg))
}

func echodMain(cfg *MainConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Main.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return cli.ErrNoCommandProvided
	}
	sub := cfg.Main.FindSub(cc, args[0])
	if sub == nil {
		return fmt.Errorf("%w: %q not found", cli.ErrNoSuchCommand, args[0])
	}
	err = sub.Run(cc, args[1:])
	if errors.Is(err, cli.ErrUsage) {
		sub.Usage(cc, err)
		os.Exit(sub.Exit(cc, err))
	}
	return err
}

type VersionConfig struct {
	*MainConfig
	Version *cli.Command
}

func VersionCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &VersionConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.Version, "version").
		WithSynopsis("version").
		WithDescription("print the echod version").
		WithRun(func(cc *cli.Context, args []string) error {
			if _, err := cfg.Version.Parse(cc, args); err != nil {
				return err
			}
			fmt.Fprintf(cc.Out, "echod %s\n", version)
			return nil
		})
}
