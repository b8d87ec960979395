package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zero-day-ai/noderegistry/config"
)

// EnvPrefix prefixes environment overrides, e.g. NODEREGISTRY_STORE_TYPE.
const EnvPrefix = "NODEREGISTRY"

// app carries the state shared by all subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	out     io.Writer
	errOut  io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "noderegistry",
		Short: "In-memory node registry with pluggable persistence",
		Long: `noderegistry keeps the set of managed nodes (virtual machines, hosts, ...)
with unique names and lookup keys, optional parent links and free-form
metadata, and serves it over gRPC.

Configuration is read from noderegistry.yaml (current directory or --config),
then overridden by NODEREGISTRY_* environment variables and flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "",
		"config file or directory (default: ./noderegistry.yaml)")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = a.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		newServeCmd(a),
		newNodeCmd(a),
		newConfigCmd(a),
	)
	return root
}

// loadConfig merges defaults, the config file, the environment and bound
// flags into a.cfg.
func (a *app) loadConfig() error {
	setDefaults(a.v, config.Defaults())

	a.v.SetEnvPrefix(EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if a.cfgFile != "" {
		path, err := config.Resolve(a.cfgFile)
		if err != nil {
			return err
		}
		a.v.SetConfigFile(path)
	} else {
		a.v.SetConfigName(strings.TrimSuffix(config.FileName, ".yaml"))
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	if err := a.v.Unmarshal(&a.cfg); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	return nil
}

func (a *app) logger() (*slog.Logger, error) {
	return a.cfg.Log.NewLogger(a.errOut)
}

func setDefaults(v *viper.Viper, d config.Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.graceful_timeout", d.Server.GracefulTimeout)
	v.SetDefault("server.health_interval", d.Server.HealthInterval)
	v.SetDefault("server.tls_cert_file", d.Server.TLSCertFile)
	v.SetDefault("server.tls_key_file", d.Server.TLSKeyFile)

	v.SetDefault("store.type", d.Store.Type)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.redis.url", d.Store.Redis.URL)
	v.SetDefault("store.redis.prefix", d.Store.Redis.Prefix)
	v.SetDefault("store.etcd.endpoints", d.Store.Etcd.Endpoints)
	v.SetDefault("store.etcd.namespace", d.Store.Etcd.Namespace)
	v.SetDefault("store.etcd.dial_timeout", d.Store.Etcd.DialTimeout)
	v.SetDefault("store.etcd.tls.enabled", d.Store.Etcd.TLS.Enabled)
	v.SetDefault("store.etcd.tls.cert_file", d.Store.Etcd.TLS.CertFile)
	v.SetDefault("store.etcd.tls.key_file", d.Store.Etcd.TLS.KeyFile)
	v.SetDefault("store.etcd.tls.ca_file", d.Store.Etcd.TLS.CAFile)

	v.SetDefault("registry.detect_cycles", d.Registry.DetectCycles)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("addr", fmt.Sprintf("localhost:%d", d.Server.Port))
}
