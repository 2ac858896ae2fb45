// Package main provides the CLI entry point for the stegochannel engine.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/postalsys/stegochannel/internal/beacon"
	"github.com/postalsys/stegochannel/internal/config"
	"github.com/postalsys/stegochannel/internal/crypto"
	"github.com/postalsys/stegochannel/internal/engine"
	"github.com/postalsys/stegochannel/internal/frame"
	"github.com/postalsys/stegochannel/internal/keytext"
	"github.com/postalsys/stegochannel/internal/logging"
	"github.com/postalsys/stegochannel/internal/metrics"
	"github.com/postalsys/stegochannel/internal/sender"
	"github.com/postalsys/stegochannel/internal/source"
	"github.com/postalsys/stegochannel/internal/source/stub"
	"github.com/postalsys/stegochannel/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "stegochannel",
		Short:   "stegochannel - covert channels over social-feed post features",
		Long:    "stegochannel synchronizes a pair of peers against a public beacon and carries a message's bits in the textual features of ordinary social-feed posts.",
		Version: Version,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "config", Title: "Configuration:"})
	rootCmd.AddGroup(&cobra.Group{ID: "run", Title: "Running:"})

	cfgCmd := configCmd()
	cfgCmd.GroupID = "config"
	rootCmd.AddCommand(cfgCmd)

	channelCmd := channelCmd()
	channelCmd.GroupID = "config"
	rootCmd.AddCommand(channelCmd)

	run := runCmd()
	run.GroupID = "run"
	rootCmd.AddCommand(run)

	demo := demoCmd()
	demo.GroupID = "run"
	rootCmd.AddCommand(demo)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage engine configuration files",
	}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			data, err := yaml.Marshal(config.Default())
			if err != nil {
				return fmt.Errorf("marshal default config: %w", err)
			}
			if err := os.WriteFile(path, data, 0600); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Printf("Wrote default configuration to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "./config.yaml", "Path to write")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			fmt.Printf("%s is valid: %d channel(s) configured\n", path, len(cfg.Channels))
			fmt.Print(cfg.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "./config.yaml", "Path to configuration file")
	return cmd
}

func channelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Work with channel keys",
	}
	cmd.AddCommand(channelGenkeyCmd())
	return cmd
}

func channelGenkeyCmd() *cobra.Command {
	var passphrase, saltHex, beaconKind, features string
	var rate float64

	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate a channel key, printed in both textual and hex form",
		Long: `Generate a new channel key. With no flags, the key is 32 random
bytes. With --passphrase, the key is instead derived deterministically
from the passphrase and a salt (generated randomly and printed if
--salt-hex is not given) using Argon2id, so two peers who share a
passphrase out of band can both regenerate the same key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var key [32]byte

			if passphrase != "" {
				var salt []byte
				if saltHex != "" {
					decoded, err := hex.DecodeString(saltHex)
					if err != nil {
						return fmt.Errorf("--salt-hex: %w", err)
					}
					salt = decoded
				} else {
					salt = make([]byte, 16)
					if _, err := rand.Read(salt); err != nil {
						return fmt.Errorf("generate salt: %w", err)
					}
					fmt.Printf("salt: %s\n", hex.EncodeToString(salt))
				}
				key = crypto.Argon2idDerive([]byte(passphrase), salt)
			} else {
				if _, err := rand.Read(key[:]); err != nil {
					return fmt.Errorf("generate key: %w", err)
				}
			}

			parsed := &keytext.Parsed{
				Key:      key,
				Beacon:   keytext.BeaconKind(beaconKind),
				Rate:     rate,
				Features: splitFeatures(features),
			}
			fmt.Printf("channel_key: %s\n", keytext.Format(parsed))
			fmt.Printf("channel_key_hex: %s\n", hex.EncodeToString(key[:]))
			return nil
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "derive the key from a shared passphrase instead of random bytes")
	cmd.Flags().StringVar(&saltHex, "salt-hex", "", "hex-encoded salt to use with --passphrase (generated if omitted)")
	cmd.Flags().StringVar(&beaconKind, "beacon", "date", "beacon kind: btc, nist, or date")
	cmd.Flags().Float64Var(&rate, "rate", 0.25, "selection rate in (0, 1]")
	cmd.Flags().StringVar(&features, "features", "len,media,punct", "comma-separated feature list")
	return cmd
}

func splitFeatures(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// runCmd starts the engine's poll loops for every configured channel and
// blocks until a shutdown signal arrives.
//
// internal/source declares only the capability interfaces a real microblog
// or feed client would implement; no such client ships in this module (see
// internal/source's doc comment), so run wires every channel's source and
// sink to a single in-process stub feed. That makes run useful to exercise
// the full send/receive pipeline locally and in integration tests; wiring
// a real platform client only requires constructing one that satisfies
// source.PostSource/PostSink and passing it to engine.RegisterChannel
// instead.
func runCmd() *cobra.Command {
	var configPath string
	var pollInterval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine: poll every configured channel and log decoded messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := logging.NewLogger(cfg.Agent.LogLevel, cfg.Agent.LogFormat)

			reg := prometheus.NewRegistry()
			m := metrics.NewMetricsWithRegistry(reg)

			var metricsServer *metrics.Server
			if cfg.Metrics.Enabled {
				metricsServer = metrics.NewServer(cfg.Metrics.Address, reg)
				if err := metricsServer.Start(); err != nil {
					return fmt.Errorf("start metrics server: %w", err)
				}
				logger.Info("metrics server listening", "address", cfg.Metrics.Address)
			}

			st, err := store.NewFileStore(cfg.Agent.DataDir)
			if err != nil {
				return fmt.Errorf("open state store: %w", err)
			}

			eng := engine.New(beacon.NewHTTPFetcher(cfg.Beacon.BTCPrimaryURL, cfg.Beacon.BTCFallbackURL, cfg.Beacon.NISTURL), st, m, logger)

			demoFeed := stub.NewFeed(source.KindMicroblog)
			for _, chCfg := range cfg.Channels {
				sink := demoFeed.Sink(chCfg.MySource)
				sources := make([]source.PostSource, 0, len(chCfg.TheirSources))
				for range chCfg.TheirSources {
					sources = append(sources, demoFeed.Source())
				}
				if err := eng.RegisterChannel(chCfg, sources, sink); err != nil {
					return fmt.Errorf("register channel %q: %w", chCfg.ID, err)
				}
				logger.Info("channel registered", logging.KeyChannelID, chCfg.ID)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			for _, chCfg := range cfg.Channels {
				id := chCfg.ID
				if err := eng.StartPolling(ctx, id, pollInterval, func(d *frame.Decoded) {
					logger.Info("frame decoded", logging.KeyChannelID, id, "payload", string(d.Payload))
				}); err != nil {
					return fmt.Errorf("start polling %q: %w", id, err)
				}
			}

			fmt.Printf("stegochannel running: %d channel(s), data dir %s\n", len(cfg.Channels), cfg.Agent.DataDir)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			fmt.Printf("\nreceived signal %v, shutting down...\n", sig)

			eng.Shutdown()
			if metricsServer != nil {
				metricsServer.Stop()
			}
			fmt.Println("stopped.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", engine.DefaultPollInterval, "how often each channel polls its sources")
	return cmd
}

// demoCmd sends one message to yourself through a single configured
// channel and polls it back, entirely within this process: a quick way to
// confirm a channel's key, beacon, rate, and feature set round-trip a
// message correctly before wiring it to a real feed.
func demoCmd() *cobra.Command {
	var configPath, channelID, message string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Send a message to yourself through one channel and poll it back",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			var chCfg *config.ChannelConfig
			for i := range cfg.Channels {
				if cfg.Channels[i].ID == channelID {
					chCfg = &cfg.Channels[i]
					break
				}
			}
			if chCfg == nil {
				return fmt.Errorf("no channel %q in %s", channelID, configPath)
			}

			logger := logging.NewLogger(cfg.Agent.LogLevel, cfg.Agent.LogFormat)
			eng := engine.New(nil, store.NewMemoryStore(), metrics.NewMetricsWithRegistry(prometheus.NewRegistry()), logger)

			feed := stub.NewFeed(source.KindMicroblog)
			selfCfg := *chCfg
			selfCfg.TheirSources = []string{selfCfg.MySource}
			if err := eng.RegisterChannel(selfCfg, []source.PostSource{feed.Source()}, feed.Sink(selfCfg.MySource)); err != nil {
				return fmt.Errorf("register channel: %w", err)
			}

			if err := eng.QueueMessage(selfCfg.ID, []byte(message), sender.PriorityNormal, selfCfg.Encrypt); err != nil {
				return fmt.Errorf("queue message: %w", err)
			}

			ctx := context.Background()
			if err := eng.DrainSendQueue(ctx, selfCfg.ID); err != nil {
				return fmt.Errorf("send: %w", err)
			}
			fmt.Printf("sent %s.\n", humanize.Bytes(uint64(len(message))))

			decoded, err := eng.PollOnce(ctx, selfCfg.ID)
			if err != nil {
				return fmt.Errorf("poll: %w", err)
			}
			if decoded == nil {
				return fmt.Errorf("poll did not decode a frame")
			}
			fmt.Printf("received: %s\n", string(decoded.Payload))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&channelID, "channel", "", "channel id to demo (required)")
	cmd.Flags().StringVar(&message, "message", "hello", "plaintext message to send")
	cmd.MarkFlagRequired("channel")
	return cmd
}
