package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/forPelevin/clipper/internal/config"
	"github.com/forPelevin/clipper/internal/logging"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

type rootFlags struct {
	configPath string
	verbose    bool
	jsonLogs   bool
}

func NewRootCommand() *cobra.Command {
	var f rootFlags
	root := &cobra.Command{
		Use:          "clipper",
		Short:        "Cut short vertical and square clips out of long videos",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logging.Init(f.verbose, f.jsonLogs)
		},
	}
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	root.PersistentFlags().StringVar(&f.configPath, "config", "", "YAML config file")
	root.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "Debug logging")
	root.PersistentFlags().BoolVar(&f.jsonLogs, "json-logs", false, "Log JSON lines instead of console output")

	root.AddCommand(newRunCommand(&f), newServeCommand(&f), newConfigCommand(&f))
	return root
}

func (f *rootFlags) load() (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	log.Debug().Str("config", f.configPath).Msg("config loaded")
	return cfg, nil
}
