package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/surgeon-pipeline/internal/config"
)

var (
	cfg *config.Config

	logLevelOverride string
)

const rootLong = `surgeon-pipeline ingests a public surgeon directory in four stages:

  extract     render the listing in headless Chrome and read every row
  normalize   dedupe clinics and map each row to a surgeon record
  enrich      ask Claude for specialties, social links and a trust prior
  aggregate   blend priors with social signals into trust_score

"load" writes the normalized directory to the store and "run" chains every
stage. Settings come from ./config.yaml and SURGEON_* environment variables,
e.g. SURGEON_STORE_DATABASE_URL or SURGEON_ANTHROPIC_KEY.`

var rootCmd = &cobra.Command{
	Use:               "surgeon-pipeline",
	Short:             "Extract, normalize, enrich and score a surgeon directory",
	Long:              rootLong,
	SilenceUsage:      true,
	PersistentPreRunE: setupCommand,
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "override log.level (debug, info, warn, error)")
}

// setupCommand loads configuration and installs the global logger before any
// subcommand runs.
func setupCommand(*cobra.Command, []string) error {
	c, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "surgeon-pipeline: load config")
	}
	if logLevelOverride != "" {
		c.Log.Level = logLevelOverride
	}
	if err := config.InitLogger(c.Log); err != nil {
		return eris.Wrap(err, "surgeon-pipeline: init logger")
	}
	cfg = c
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
