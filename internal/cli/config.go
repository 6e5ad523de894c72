package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/forPelevin/clipper/internal/config"
)

const defaultConfigPath = "clipper.yaml"

func newConfigCommand(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the YAML config file",
	}
	cmd.AddCommand(newConfigInitCommand(f))
	return cmd
}

func newConfigInitCommand(f *rootFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default config to a file (--config or ./clipper.yaml)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := f.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = defaultConfigPath
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists, pass --force to overwrite", path)
				}
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			log.Info().Str("path", path).Msg("config written")
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
