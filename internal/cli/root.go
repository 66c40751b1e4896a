package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/go-core-stack/throttle/internal/config"
	"github.com/go-core-stack/throttle/internal/observability"
)

// app carries the state shared by subcommands once the root pre-run has
// loaded configuration
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	rootCmd := &cobra.Command{
		Use:   "throttle",
		Short: "Bandwidth-capped byte streaming",
		Long: `throttle paces byte streams to a configured sustained rate while
allowing short bursts.

Use the subcommands to copy data, serve files or manage stored rate profiles.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format: console or json")

	// Bind flags to viper
	_ = a.v.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(newCatCmd(a))
	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newProfileCmd(a))
	return rootCmd
}

// init loads the config file and environment, then builds the logger
func (a *app) init() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format, a.verbose)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// Execute runs the command tree against os.Args
func Execute() error {
	return NewRootCmd().Execute()
}
