package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/watzon/targethook/internal/config"
	"github.com/watzon/targethook/internal/database"
	"github.com/watzon/targethook/internal/simhost"
	"github.com/watzon/targethook/internal/targeting"
)

// version is overridden at build time with -ldflags "-X".
var version = "0.1.0-dev"

var (
	cfgFile string
	dbPath  string
	verbose bool

	appConfig *config.Config
	appViper  *viper.Viper
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "targethook",
	Short: "Targeting hook registry for game servers",
	Long: `targethook manages durable targeting hooks: per-player, per-slot capture
sessions that collect world selections into named lists and fire a callback
when they finish.

Inspect stored hooks and captured targets:
  targethook hooks list
  targethook targets list --slot 'loot*'

Run a scripted session against a scratch database:
  targethook replay session.yaml

Serve metrics for a live database:
  targethook serve`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		setupLogging(&appConfig.Logging)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./targethook.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides database.path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version())
	},
}

// initConfig reads the config file and TARGETHOOK_* environment variables.
func initConfig() error {
	cfg, v, err := config.LoadViper(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		return err
	}

	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	appConfig = cfg
	appViper = v

	if used := v.ConfigFileUsed(); used != "" {
		log.Debug().Str("file", used).Msg("Using config file")
	}
	return nil
}

// setupLogging configures zerolog from the logging section and --verbose.
func setupLogging(cfg *config.LoggingConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	lc := logger.With()
	if cfg.Timestamp {
		lc = lc.Timestamp()
	}
	if cfg.Caller {
		lc = lc.Caller()
	}
	log.Logger = lc.Logger()
}

// openStore opens the configured database.
func openStore() (*targeting.Store, *database.DB, error) {
	db, err := database.Open(&appConfig.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return targeting.NewStore(db), db, nil
}

// engineConfig translates the targeting section into engine defaults.
func engineConfig(cfg *config.TargetingConfig) (*targeting.EngineConfig, error) {
	filter, err := targeting.ParseObjectType(cfg.DefaultFilter)
	if err != nil {
		return nil, fmt.Errorf("targeting.default_filter: %w", err)
	}
	return &targeting.EngineConfig{
		DefaultUses:   cfg.DefaultUses,
		DefaultFilter: filter,
		MaxSlotLength: cfg.MaxSlotLength,
	}, nil
}

// adminEngine returns an engine for administrative operations run outside a
// game server. No player is connected, so callbacks are logged rather than
// executed.
func adminEngine(store *targeting.Store) (*targeting.Engine, error) {
	ecfg, err := engineConfig(&appConfig.Targeting)
	if err != nil {
		return nil, err
	}
	return targeting.NewEngine(store, simhost.New(), ecfg), nil
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("targethook version %s", version)
}
