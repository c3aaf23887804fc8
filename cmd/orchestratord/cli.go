package main

import (
	"github.com/spf13/cobra"
)

type serverFlags struct {
	configPath string
	port       uint16
	debug      bool
}

func rootCmd() *cobra.Command {
	flags := &serverFlags{}

	c := &cobra.Command{
		Use:     "orchestratord",
		Short:   "HTTP service orchestrating audio transcription worker jobs",
		Example: "orchestratord --config configs/orchestrator.yaml",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(flags)
		},
	}

	c.Flags().StringVar(&flags.configPath, "config", "", "Path to configuration file")
	c.Flags().Uint16Var(&flags.port, "port", 0, "HTTP server port (overrides config)")
	c.Flags().BoolVar(&flags.debug, "debug", false, "Enable debug logs")

	return c
}
