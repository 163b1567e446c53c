// actorvm applies messages to a content-addressed actor state tree.
//
// State lives in a badger or bolt blockstore. The current state root is
// kept next to the store in a HEAD file and advanced by every command that
// changes state.
package main

import (
	"fmt"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/fortiblox/actorvm/pkg/machine"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

var log = logging.Logger("actorvm")

var globalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "TOML machine configuration",
	},
	&cli.StringFlag{
		Name:  "backend",
		Usage: "blockstore backend: badger or bolt",
		Value: machine.BackendBolt,
	},
	&cli.StringFlag{
		Name:    "store",
		Usage:   "blockstore path",
		Value:   "actorvm.db",
		EnvVars: []string{"ACTORVM_STORE"},
	},
	&cli.StringFlag{
		Name:  "log-level",
		Usage: "debug, info, warn or error",
		Value: "info",
	},
	&cli.BoolFlag{
		Name:  "trace",
		Usage: "record and print every gas charge",
	},
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "actorvm",
		Usage:   "apply and validate messages against an actor state tree",
		Version: fmt.Sprintf("%s (%s)", Version, GitCommit),
		Flags:   globalFlags,
		Before: func(cctx *cli.Context) error {
			lvl, err := logging.LevelFromString(cctx.String("log-level"))
			if err != nil {
				return err
			}
			logging.SetAllLoggers(lvl)
			return nil
		},
		Commands: []*cli.Command{
			initCmd,
			installCmd,
			execCmd,
			applyCmd,
			validateCmd,
			stateCmd,
			keygenCmd,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Errorf("%v", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig builds the machine configuration from the config file and the
// global flags. Flags win over the file.
func loadConfig(cctx *cli.Context) (machine.Config, error) {
	cfg := machine.DefaultConfig()
	if path := cctx.String("config"); path != "" {
		var err error
		if cfg, err = machine.LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	if cctx.IsSet("backend") || cfg.Backend == machine.BackendMemory {
		cfg.Backend = cctx.String("backend")
	}
	if cctx.IsSet("store") || cfg.StorePath == "" {
		cfg.StorePath = cctx.String("store")
	}
	if cctx.Bool("trace") {
		cfg.Tracing = true
	}
	return cfg, cfg.Validate()
}
