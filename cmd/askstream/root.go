package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	internal "github.com/ZanzyTHEbar/askstream/askstream"
	"github.com/ZanzyTHEbar/askstream/askstream/chat"
	"github.com/ZanzyTHEbar/askstream/askstream/config"
	"github.com/ZanzyTHEbar/askstream/askstream/db"
	"github.com/ZanzyTHEbar/askstream/askstream/logging"
)

// app holds what every subcommand needs once configuration is loaded.
type app struct {
	configPath string
	envFile    string
	logLevel   string

	loader *config.Loader
	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           internal.DefaultAppName,
		Short:         "Ask questions against a streaming retrieval chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default searches ./config.yaml and "+internal.DefaultConfigPath+")")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before configuration")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newAskCmd(a),
		newChatCmd(a),
		newHistoryCmd(a),
		newDevServerCmd(a),
	)

	return root
}

func (a *app) load() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", a.envFile, err)
		}
	}

	a.loader = config.NewLoader(a.configPath)
	cfg, err := a.loader.Load()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	a.cfg = cfg
	a.logger = logging.New(cfg.Logging, os.Stderr)
	if used := a.loader.ConfigFileUsed(); used != "" {
		a.logger.Debug().Str("path", used).Msg("Loaded configuration")
	}
	return nil
}

// controller opens the database when needed and builds a wired controller.
// The returned func releases both.
func (a *app) controller(ctx context.Context, opts ...chat.Option) (*chat.Controller, func(), error) {
	var conn *sql.DB
	if a.cfg.Persistence.Backend == "sql" {
		var err error
		conn, err = db.OpenAndMigrate(ctx, a.cfg.Persistence.Database, a.logger)
		if err != nil {
			return nil, nil, err
		}
	}

	ctl, err := chat.NewFactory(a.cfg, conn, a.logger).CreateController(opts...)
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		return nil, nil, err
	}

	release := func() {
		if err := ctl.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close controller")
		}
		if conn != nil {
			if err := conn.Close(); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to close database")
			}
		}
	}
	return ctl, release, nil
}
