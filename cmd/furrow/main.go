// Command furrow is the offline-first sync engine CLI.
//
// It manages a durable local store, a deferred action queue, and a
// connectivity-aware sync loop that replays queued actions against the
// backend API when the network is available.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tallgrassfarm/furrow/internal/connectivity"
	"github.com/tallgrassfarm/furrow/internal/engine"
	"github.com/tallgrassfarm/furrow/internal/queue"
	"github.com/tallgrassfarm/furrow/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "furrow",
	Short: "Offline-first sync engine",
	Long: `Furrow keeps a device useful without a network connection.

Data reads and writes go to a durable local store (SQLite, with a flat-file
fallback). Mutating API calls made while offline are queued and replayed in
priority order when connectivity returns.

Configuration is read from flags, FURROW_* environment variables, and an
optional config file (default: $HOME/.furrow.yaml).`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.furrow.yaml)")
	rootCmd.PersistentFlags().String("data-dir", defaultDataDir(), "directory for the durable store")
	rootCmd.PersistentFlags().String("api-base", "http://localhost:8080", "base URL for relative action endpoints")
	rootCmd.PersistentFlags().String("probe-url", "", "connectivity probe URL (default: <api-base>/health)")

	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("api_base", rootCmd.PersistentFlags().Lookup("api-base"))
	viper.BindPFlag("probe_url", rootCmd.PersistentFlags().Lookup("probe-url"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".furrow")
			viper.SetConfigType("yaml")
		}
	}

	viper.SetEnvPrefix("FURROW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// A missing config file is fine; flags and env still apply.
	_ = viper.ReadInConfig()
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".furrow"
	}
	return filepath.Join(home, ".furrow")
}

func probeURL() string {
	if u := viper.GetString("probe_url"); u != "" {
		return u
	}
	return strings.TrimRight(viper.GetString("api_base"), "/") + "/health"
}

// resolveEndpoint turns a relative action endpoint into an absolute URL
// against the configured API base. Absolute URLs pass through unchanged.
func resolveEndpoint(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return strings.TrimRight(viper.GetString("api_base"), "/") + "/" + strings.TrimLeft(endpoint, "/")
}

// buildEngine wires a store, queue, and connectivity tracker into an engine
// using the resolved configuration. The caller owns both lifecycles: Stop
// the engine, then Close the store.
func buildEngine(logger *log.Logger) (*engine.Engine, *store.Store, error) {
	st, err := store.Open(store.Config{
		Dir:    viper.GetString("data_dir"),
		Logger: logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	q := queue.New(st, queue.Config{Logger: logger})

	probe := &connectivity.HTTPProbe{
		URL:    probeURL(),
		Client: &http.Client{Timeout: 5 * time.Second},
	}
	// InitialOnline keeps the first successful probe from registering as an
	// offline-to-online transition, which would race a background sync
	// against whatever the caller is about to do.
	tracker := connectivity.New(connectivity.Config{
		Probe:         probe,
		InitialOnline: true,
		Logger:        logger,
	})

	return engine.New(st, q, tracker, engine.Config{Logger: logger}), st, nil
}

func newLogger(prefix string) *log.Logger {
	return log.New(os.Stderr, prefix, log.LstdFlags)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
