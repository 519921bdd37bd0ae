// Command broker runs the FOSSA Broker daemon: it bridges internal git
// repositories to FOSSA's analysis service, per spec.md.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fossas/broker/internal/config"
	"github.com/fossas/broker/internal/lockfile"
	"github.com/fossas/broker/internal/supervisor"
)

// Exit codes, per spec.md §6.1.
const (
	exitOK            = 0
	exitGenericFail   = 1
	exitConfigInvalid = 2
)

var (
	configPath string
	dbPath     string
	dataRoot   string
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if ec, ok := err.(exitCodeError); ok {
			return int(ec)
		}
		return exitGenericFail
	}
	return exitOK
}

// exitCodeError lets a subcommand signal a specific process exit code.
// Its Error text is empty and the root command sets SilenceErrors, so
// cobra prints nothing; any message comes from the subcommand itself.
type exitCodeError int

func (e exitCodeError) Error() string { return "" }

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "broker",
		Short:         "broker bridges git repositories to FOSSA's analysis service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yml")
	cmd.PersistentFlags().StringVarP(&dbPath, "database", "d", "", "path to the reference store database")
	cmd.PersistentFlags().StringVarP(&dataRoot, "data-root", "r", "", "path to broker's data root")

	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("database", cmd.PersistentFlags().Lookup("database"))
	_ = viper.BindPFlag("data-root", cmd.PersistentFlags().Lookup("data-root"))
	viper.SetEnvPrefix("broker")
	viper.AutomaticEnv()

	cmd.AddCommand(newInitCmd(), newFixCmd(), newRunCmd())
	return cmd
}

func resolveDataRoot() (string, error) {
	if dataRoot != "" {
		return dataRoot, nil
	}
	if v := viper.GetString("data-root"); v != "" {
		return v, nil
	}
	return config.DefaultDataRoot()
}

func resolveConfigPath(root string) string {
	if configPath != "" {
		return configPath
	}
	if v := viper.GetString("config"); v != "" {
		return v
	}
	return filepath.Join(root, "config.yml")
}

// resolveDBPath returns the Reference Store path, honoring -d/--database
// (flag, then env). It returns "" when neither is set, and
// supervisor.Boot then uses "db.sqlite" under the data root.
func resolveDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return viper.GetString("database")
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "scaffold broker's data root and an example config",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveDataRoot()
			if err != nil {
				return exitCodeError(exitGenericFail)
			}
			if err := os.MkdirAll(root, 0o700); err != nil {
				fmt.Fprintf(os.Stderr, "broker init: %v\n", err)
				return exitCodeError(exitGenericFail)
			}
			examplePath := filepath.Join(root, "config.example.yml")
			if err := os.WriteFile(examplePath, []byte(exampleConfig), 0o600); err != nil {
				fmt.Fprintf(os.Stderr, "broker init: %v\n", err)
				return exitCodeError(exitGenericFail)
			}
			fmt.Printf("data root ready at %s\nedit %s and copy it to config.yml to get started\n", root, examplePath)
			return nil
		},
	}
}

func newFixCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fix",
		Short: "diagnose and repair common data root problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveDataRoot()
			if err != nil {
				return exitCodeError(exitGenericFail)
			}
			cfgPath := resolveConfigPath(root)
			if _, err := config.Load(cfgPath); err != nil {
				fmt.Printf("config at %s is invalid: %v\nrun \"broker init\" to scaffold a fresh data root\n", cfgPath, err)
				return nil
			}

			if running, err := brokerIsRunning(root); err != nil {
				fmt.Printf("could not check %s: %v\n", filepath.Join(root, "broker.lock"), err)
			} else if running {
				fmt.Printf("a broker process currently holds the lock on %s\n", root)
			}

			fmt.Printf("config at %s looks valid; nothing to fix\n", cfgPath)
			return nil
		},
	}
}

// brokerIsRunning reports whether another broker process currently holds
// dataRoot's exclusive lock, by taking (and immediately releasing) a
// shared lock on broker.lock: a shared lock conflicts with a holder's
// exclusive lock but never with another shared locker, so this never
// disturbs a running daemon.
func brokerIsRunning(dataRoot string) (bool, error) {
	path := filepath.Join(dataRoot, "broker.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600) // #nosec G304 - fixed filename under our own data root
	if err != nil {
		return false, err
	}
	defer f.Close()

	if err := lockfile.AcquireShared(f); err != nil {
		if lockfile.IsLocked(err) {
			return true, nil
		}
		return false, err
	}
	_ = lockfile.Release(f)
	return false, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the broker daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

func runDaemon(parent context.Context) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	root, err := resolveDataRoot()
	if err != nil {
		logger.Error("resolve data root", "error", err)
		return exitCodeError(exitGenericFail)
	}

	cfgPath := resolveConfigPath(root)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("load config", "path", cfgPath, "error", err)
		return exitCodeError(exitConfigInvalid)
	}

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sup, err := supervisor.Boot(ctx, cfg, root, resolveDBPath(), logger)
	if err != nil {
		logger.Error("boot supervisor", "error", err)
		return exitCodeError(exitGenericFail)
	}
	defer func() {
		if err := sup.Close(); err != nil {
			logger.Error("close reference store", "error", err)
		}
	}()

	logger.Info("broker starting", "integrations", len(cfg.Integrations), "data_root", root)
	if err := sup.Run(ctx); err != nil {
		logger.Error("supervisor exited with error", "error", err)
		return exitCodeError(exitGenericFail)
	}
	logger.Info("broker stopped")
	return nil
}

const exampleConfig = `version: 1
fossa_endpoint: https://app.fossa.com
fossa_integration_key: ""
concurrency: 10
debugging:
  location: ./debug
  retention:
    days: 7
integrations:
  - type: git
    remote: https://github.com/example/repo.git
    poll_interval: 1h
    auth:
      type: none
      transport: http
    import_branches: true
    import_tags: false
`
