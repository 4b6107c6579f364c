package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/InvestigateHealth/connectsync/internal/cliconfig"
	"github.com/InvestigateHealth/connectsync/pkg/connectsync"
	logadapter "github.com/InvestigateHealth/connectsync/pkg/log"
)

const helpDescription = `
Offline-first sync agent for the ConnectHealth document service.

Keeps a durable local cache and operation queue so reads and writes keep
working without a connection, and reconciles queued work in order once
the service is reachable again.

Highlights:
  - Durable FIFO queue with retry, backoff, and a dead-letter list.
  - TTL document cache with optional stale reads.
  - Deduplicates audit and share events across connection flaps.
  - Configure via file, environment (CONNECTSYNC_*), or flags.
`

var exampleUsage = strings.TrimSpace(`
  connectsync --data-dir /var/lib/connectsync --auth-key <api-key>
  connectsync --config $HOME/.connectsync/config.toml --backend sqlite
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	log := cliconfig.Logger()

	root := &cobra.Command{
		Use:     "connectsync",
		Short:   "Offline-first sync agent for the ConnectHealth document service",
		Long:    strings.TrimSpace(helpDescription),
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load config file first (default $HOME/.connectsync/config.toml),
			// then apply env and flag overrides.
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			// Build set of changed flags
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			// Environment overrides file config but loses to flags.
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			if cfg.Verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}

			// Log configuration (masking the API key)
			logCfg := cfg
			if len(logCfg.AuthKey) > 0 {
				logCfg.AuthKey = "*****"
			}
			log.Info().Interface("config", logCfg).Msg("configuration")

			libCfg := connectsync.Config{
				DataDir:       cfg.DataDir,
				Backend:       cfg.Backend,
				ServiceURL:    cfg.ServiceURL,
				AuthKey:       cfg.AuthKey,
				ClientID:      cfg.ClientID,
				ActorID:       cfg.ActorID,
				ProbeURL:      cfg.ProbeURL,
				ProbeInterval: cfg.ProbeInterval,
				HTTPTimeout:   cfg.HTTPTimeout,
				DefaultTTL:    cfg.CacheTTL,
				DedupWindow:   cfg.DedupWindow,
				BatchLimit:    cfg.BatchLimit,
				MaxRetries:    cfg.MaxRetries,
				BackoffBase:   cfg.BackoffBase,
				BackoffMax:    cfg.BackoffMax,
				YieldEvery:    cfg.YieldEvery,
			}

			client, err := connectsync.New(libCfg,
				connectsync.WithLogger(logadapter.NewZerologAdapterWithLogger(log)),
			)
			if err != nil {
				return fmt.Errorf("create client: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			if err := client.Start(ctx); err != nil {
				return fmt.Errorf("start client: %w", err)
			}

			// Hot-reload the retry tuning when the config file changes.
			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				watcher := cliconfig.NewWatcher(cfgFile, cfg, log, func(next cliconfig.Config) {
					client.UpdateTuning(next.MaxRetries, next.BackoffBase, next.BackoffMax, next.YieldEvery)
				})
				go watcher.Run(ctx)
			}

			// Detect a crashed client so we exit instead of hanging.
			doneCh := make(chan struct{})
			go func() {
				ticker := time.NewTicker(100 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						status := client.Status()
						if status == connectsync.StateStopped || status == connectsync.StateCrashed {
							close(doneCh)
							return
						}
					}
				}
			}()

			select {
			case <-sigCh:
				log.Info().Msg("received signal, stopping...")
			case <-doneCh:
				if client.Status() == connectsync.StateCrashed {
					log.Error().Msg("client crashed")
				}
			}

			if err := client.Stop(); err != nil {
				return fmt.Errorf("stop client: %w", err)
			}
			return nil
		},
	}

	// Flags
	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.connectsync/config.toml)")
	root.Flags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the durable cache and queues")
	root.Flags().StringVar(&cfg.Backend, "backend", cfg.Backend, "storage backend: file or sqlite")

	root.Flags().StringVar(&cfg.ServiceURL, "service-url", cfg.ServiceURL, fmt.Sprintf("base service URL (defaults to %s)", cliconfig.DefaultServiceURL))
	root.Flags().StringVar(&cfg.AuthKey, "auth-key", cfg.AuthKey, "API key for authentication")
	root.Flags().StringVar(&cfg.ClientID, "client-id", cfg.ClientID, "device identifier sent with requests")
	root.Flags().StringVar(&cfg.ActorID, "actor-id", cfg.ActorID, "user identity recorded in queued operations")

	root.Flags().StringVar(&cfg.ProbeURL, "probe-url", cfg.ProbeURL, "reachability probe endpoint (defaults to service-url/v1/ping)")
	root.Flags().DurationVar(&cfg.ProbeInterval, "probe-interval", cfg.ProbeInterval, "reachability probe interval")
	root.Flags().DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "HTTP timeout")

	root.Flags().DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "freshness window for cached records")
	root.Flags().DurationVar(&cfg.DedupWindow, "dedup-window", cfg.DedupWindow, "dedup window for audit and share events")
	root.Flags().IntVar(&cfg.BatchLimit, "batch-limit", cfg.BatchLimit, "maximum operations per batch commit")

	root.Flags().IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "retries before an operation is dead-lettered")
	root.Flags().DurationVar(&cfg.BackoffBase, "backoff-base", cfg.BackoffBase, "base retry backoff")
	root.Flags().DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "maximum retry backoff")
	root.Flags().IntVar(&cfg.YieldEvery, "yield-every", cfg.YieldEvery, "re-probe connectivity after this many drained operations")
	root.Flags().BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "verbose logging")

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("connectsync")
		os.Exit(1)
	}
}
