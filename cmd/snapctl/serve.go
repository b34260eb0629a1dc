package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	zfs "github.com/vansante/snapctl"
	snapctlhttp "github.com/vansante/snapctl/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve CONFIG-FILE",
	Short: "run an HTTP agent server, exposing the local dataset tree to remote HTTPAgent clients",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return invalidArgsf("reading config file: %v", err)
		}

		var cfg snapctlhttp.Config
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return invalidArgsf("parsing config file: %v", err)
		}

		srv := snapctlhttp.NewServer(cmd.Context(), cfg, zfs.NewLocalAgent(), logger)
		if err := srv.Listen(); err != nil {
			return err
		}
		logger.WithField("addr", srv.Addr().String()).Info("http agent server listening")
		return srv.Serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
