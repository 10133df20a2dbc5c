// Command kvstored runs the replicated key-value store daemon: one
// supervisor owning a StoreDb per configured area, listening for peer
// traffic and exposing the Control API.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/routewire/kvstore/config"
	"github.com/routewire/kvstore/netx"
	"github.com/routewire/kvstore/supervisor"
	"github.com/routewire/kvstore/wire"
)

var configFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kvstored",
		Short: "Replicated key-value store daemon for a link-state routing platform",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (YAML/TOML/JSON)")
	root.AddCommand(newRunCmd())
	root.AddCommand(newDemoCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("node_id", cfg.NodeId)
			slog.SetDefault(logger)

			sup, err := supervisor.New(cfg, netx.NewTCP(), defaultCodec(false))
			if err != nil {
				return err
			}
			defer sup.Close()

			logger.Info("kvstored started", "listen_addr", cfg.ListenAddr, "areas", len(cfg.Areas))
			select {}
		},
	}
}

// defaultCodec picks BinaryCodec unless the deployment asked for the
// human-readable JSON one (useful for debugging a capture with a text
// editor rather than a hex dump).
func defaultCodec(useJSON bool) wire.Codec {
	if useJSON {
		return wire.JSONCodec{}
	}
	return wire.BinaryCodec{}
}
