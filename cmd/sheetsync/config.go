package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/formcanvas/sheetsync"
	"github.com/formcanvas/sheetsync/pkg/logger"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "SHEETSYNC"

	cfgKeyEndpoint       = "endpoint"
	cfgKeyOrigin         = "origin"
	cfgKeyClientID       = "client-id"
	cfgKeyTransport      = "transport"
	cfgKeyReconnectDelay = "reconnect-delay"
	cfgKeyHeartbeat      = "heartbeat"
	cfgKeyLogLevel       = "log-level"
	cfgKeyTaskURL        = "task-url"
	cfgKeyTaskTimeout    = "task-timeout"

	defaultTransport      = string(sheetsync.TransportGorilla)
	defaultReconnectDelay = sheetsync.DefaultReconnectDelay
	defaultLogLevel       = "info"
)

// loadConfig merges cmd's flags, SHEETSYNC_* environment variables and the
// config file, in that order of precedence. A missing config file is not an
// error unless it was named explicitly.
func loadConfig(cmd *cobra.Command, file string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyTransport, defaultTransport)
	v.SetDefault(cfgKeyReconnectDelay, defaultReconnectDelay)
	v.SetDefault(cfgKeyLogLevel, defaultLogLevel)
	v.SetDefault(cfgKeyTaskTimeout, sheetsync.DefaultTaskTimeout)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// clientConfig builds a sheetsync.Config from v.
func clientConfig(v *viper.Viper, log logger.Logger) (sheetsync.Config, error) {
	c := sheetsync.DefaultConfig(v.GetString(cfgKeyEndpoint))
	c.Origin = v.GetString(cfgKeyOrigin)
	c.ClientID = v.GetString(cfgKeyClientID)
	c.Transport = sheetsync.Transport(v.GetString(cfgKeyTransport))
	c.ReconnectDelay = v.GetDuration(cfgKeyReconnectDelay)
	c.HeartbeatInterval = v.GetDuration(cfgKeyHeartbeat)
	c.TaskBaseURL = v.GetString(cfgKeyTaskURL)
	c.TaskTimeout = v.GetDuration(cfgKeyTaskTimeout)
	c.Logger = log

	if err := c.Validate(); err != nil {
		return sheetsync.Config{}, err
	}
	return c, nil
}

// newLogger returns a zerolog console logger on stderr.
func newLogger(level string) (logger.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return logger.Console(os.Stderr, lvl), nil
}

// newClient builds a client from the loaded configuration.
func newClient(modify func(*sheetsync.Config)) (*sheetsync.Client, error) {
	log, err := newLogger(cfg.GetString(cfgKeyLogLevel))
	if err != nil {
		return nil, err
	}
	c, err := clientConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	if modify != nil {
		modify(&c)
	}
	return sheetsync.New(c)
}

func durationOr(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	if d := v.GetDuration(key); d > 0 {
		return d
	}
	return fallback
}
