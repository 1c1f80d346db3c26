package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/daemonrun"
)

// newDaemonRunCommand builds the hidden foreground runner that `snowtower
// start` re-execs. Config load is deferred to RunE so a broken config file
// surfaces through the daemon's own error path rather than cobra's.
func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var diagnostic bool
	cmd := &cobra.Command{
		Use:          "daemon",
		Short:        "Run the snowtower daemon in the foreground",
		Hidden:       true,
		SilenceUsage: true,
		Annotations:  map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var socket string
			if ctx.socketFlag != nil {
				socket = strings.TrimSpace(*ctx.socketFlag)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				SocketPath: socket,
				Diagnostic: diagnostic,
			})
		},
	}
	cmd.Flags().BoolVar(&diagnostic, "diagnostic", false, "Enable diagnostic mode with DEBUG logging")
	return cmd
}
