package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/execution-hub/serial-reservation/internal/config"
)

const serverURLKey = "server_url"

var (
	userConfig string
	logger     = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Real-time serial number reservation service",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := initConfig()
		logger = newLogger(os.Stdout, viper.GetString(config.LogLevelKey))
		if err != nil {
			return err
		}
		if configPath != "" {
			logger.Debug().Str("path", configPath).Msg("using config file")
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("execution failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&userConfig, "config", "", "Config file (default is ./reservation.yaml)")

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	mustBindFlag(config.LogLevelKey, rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "Base URL of a running server, for client commands")
	mustBindFlag(serverURLKey, rootCmd.PersistentFlags().Lookup("server"))

	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

func initConfig() (string, error) {
	if userConfig != "" {
		viper.SetConfigFile(userConfig)
	} else {
		viper.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(dir + "/reservation")
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("reservation")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return "", fmt.Errorf("reading config: %w", err)
		}
		return "", nil
	}
	return viper.ConfigFileUsed(), nil
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func mustBindFlag(key string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for %s not defined", key))
	}
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind %s: %v", key, err))
	}
}
