package main

import (
	"context"

	"github.com/shipgate/shipgate/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	jsonOut bool
	dryRun  bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "shipgate",
	Short: "shipgate - vulnerability-gated container image publishing",
	Long: `shipgate builds container images, scans them for vulnerabilities,
and publishes them to ECR only when the findings stay within the
configured severity thresholds.

The pipeline never pushes an unscanned image: the build runs locally,
the scanner inspects the local image, and publishing happens last,
only after the gate passes. Scan reports are retained on every run,
including failed ones.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}

		// The init command must work before any config exists.
		if cmd.Name() == "init" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		return nil
	},
}

func ExecuteWithContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func getConfig() *config.Config {
	if cfg == nil {
		return config.DefaultConfig()
	}
	return cfg
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default is ~/.config/shipgate/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false,
		"output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false,
		"show what the pipeline would do without executing")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}
