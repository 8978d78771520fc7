// Package main provides the waveline cache inspection CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/waveline/waveline/internal/settings"
	"github.com/waveline/waveline/pkg/audiocache"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	dataDir    string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "waveline",
		Short: "Inspect and manage the waveline audio cache",
		Long: "Inspect and manage the waveline audio cache: storage stats,\n" +
			"quota state, cleanup, and cache settings.",
		SilenceErrors: false,
		SilenceUsage:  true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if debug || viper.GetBool("debug") {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
)

// openCache builds the cache core from flags and config. The background
// cleanup loop stays off; CLI invocations are one-shot.
func openCache(ctx context.Context) (*audiocache.AudioCache, error) {
	dir := dataDir
	if dir == "" {
		dir = viper.GetString("data_dir")
	}
	return audiocache.New(ctx, audiocache.Options{
		DataDir:          dir,
		MaxBlobBytes:     viper.GetInt64("blob_cache.max_bytes"),
		QuotaBudgetBytes: viper.GetInt64("quota.budget_bytes"),
		CleanupInterval:  -1,
		Logger:           log.Default(),
	})
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show blob-cache and per-collection storage stats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ac, err := openCache(cmd.Context())
		if err != nil {
			return err
		}
		defer ac.Close() //nolint:errcheck

		stats, err := ac.StorageStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("unable to read storage stats: %w", err)
		}

		fmt.Printf("Blob cache: %s of %s across %d entries\n",
			humanize.Bytes(uint64(stats.Blob.TotalBytes)),
			humanize.Bytes(uint64(stats.Blob.MaxBytes)),
			stats.Blob.EntryCount)
		if stats.SessionOnly {
			fmt.Println("Durable store: unavailable (session-only mode)")
			return nil
		}
		fmt.Printf("Search results: %d pages\n", stats.Collections.SearchResults)
		fmt.Printf("Track metadata: %d records\n", stats.Collections.AudioMetadata)
		fmt.Printf("Preferences:    %d keys\n", stats.Collections.Preferences)
		return nil
	},
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show the host storage usage estimate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ac, err := openCache(cmd.Context())
		if err != nil {
			return err
		}
		defer ac.Close() //nolint:errcheck

		u := ac.StorageQuota(cmd.Context())
		if !u.Known {
			fmt.Println("Storage quota: unknown (writes proceed ungated)")
			return nil
		}
		fmt.Printf("Used:      %s (%.1f%%)\n", humanize.Bytes(uint64(u.UsedBytes)), u.UsedPercent)
		fmt.Printf("Total:     %s\n", humanize.Bytes(uint64(u.TotalBytes)))
		fmt.Printf("Available: %s\n", humanize.Bytes(uint64(u.AvailableBytes)))
		return nil
	},
}

var (
	cleanOldest float64
	cleanAll    bool

	cleanCmd = &cobra.Command{
		Use:   "clean",
		Short: "Remove expired, oldest, or all cached records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ac, err := openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer ac.Close() //nolint:errcheck
			ctx := cmd.Context()

			switch {
			case cleanAll:
				if err := ac.ClearAll(ctx); err != nil {
					return err
				}
				fmt.Println("All collections cleared.")
			case cleanOldest > 0:
				n, err := ac.CleanupOldest(ctx, cleanOldest)
				if err != nil {
					return err
				}
				fmt.Printf("Removed %d oldest records.\n", n)
			default:
				n, err := ac.CleanupExpired(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Removed %d expired records.\n", n)
			}
			return nil
		},
	}
)

var settingsCmd = &cobra.Command{
	Use:   "settings [get | set KEY VALUE]",
	Short: "Show or change cache settings",
	Args:  cobra.RangeArgs(0, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ac, err := openCache(cmd.Context())
		if err != nil {
			return err
		}
		defer ac.Close() //nolint:errcheck

		if len(args) == 0 || args[0] == "get" {
			printSettings(ac.Settings())
			return nil
		}
		if args[0] != "set" || len(args) != 3 {
			return fmt.Errorf("usage: waveline settings set KEY VALUE")
		}

		partial, err := partialFromKeyValue(args[1], args[2])
		if err != nil {
			return err
		}
		updated, err := ac.UpdateSettings(cmd.Context(), partial)
		if err != nil {
			return err
		}
		printSettings(updated)
		return nil
	},
}

func printSettings(s settings.Settings) {
	fmt.Printf("search-results caching:   %v\n", s.EnableSearchResultsCaching)
	fmt.Printf("audio-metadata caching:   %v\n", s.EnableAudioMetadataCaching)
	fmt.Printf("user-preferences caching: %v\n", s.EnableUserPreferencesCaching)
	fmt.Printf("search TTL:               %dh\n", s.SearchResultsTTLHours)
	fmt.Printf("auto cleanup:             %v\n", s.AutoCleanupEnabled)
	fmt.Printf("max storage usage:        %d%%\n", s.MaxStorageUsagePercent)
}

func partialFromKeyValue(key, value string) (settings.Partial, error) {
	var p settings.Partial
	switch key {
	case "search-results", "audio-metadata", "user-preferences", "auto-cleanup":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return p, fmt.Errorf("%s expects a boolean: %w", key, err)
		}
		switch key {
		case "search-results":
			p.EnableSearchResultsCaching = &b
		case "audio-metadata":
			p.EnableAudioMetadataCaching = &b
		case "user-preferences":
			p.EnableUserPreferencesCaching = &b
		case "auto-cleanup":
			p.AutoCleanupEnabled = &b
		}
	case "search-ttl-hours":
		n, err := strconv.Atoi(value)
		if err != nil {
			return p, fmt.Errorf("search-ttl-hours expects an integer: %w", err)
		}
		p.SearchResultsTTLHours = &n
	case "max-usage-percent":
		n, err := strconv.Atoi(value)
		if err != nil {
			return p, fmt.Errorf("max-usage-percent expects an integer: %w", err)
		}
		p.MaxStorageUsagePercent = &n
	default:
		return p, fmt.Errorf("unknown setting %q", key)
	}
	return p, nil
}

var fetchCmd = &cobra.Command{
	Use:   "fetch TRACK_ID URL",
	Short: "Acquire a track into the blob cache (smoke test)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ac, err := openCache(cmd.Context())
		if err != nil {
			return err
		}
		defer ac.Close() //nolint:errcheck

		start := time.Now()
		h := ac.AcquireTrack(cmd.Context(), args[0], args[1])
		elapsed := time.Since(start)

		switch {
		case h.Cached():
			fmt.Printf("Cached %s (%s) in %s\n",
				h.TrackID, humanize.Bytes(uint64(len(h.Data))), elapsed.Round(time.Millisecond))
		case len(h.Data) > 0:
			fmt.Printf("Fetched %s (%s) but too large to cache\n",
				h.TrackID, humanize.Bytes(uint64(len(h.Data))))
		default:
			fmt.Printf("Transfer failed, falling back to streaming %s\n", h.Source)
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "durable store directory")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging")

	cleanCmd.Flags().Float64Var(&cleanOldest, "oldest", 0, "remove the oldest FRACTION of records")
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "clear every collection")

	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	viper.SetDefault("blob_cache.max_bytes", int64(audiocache.DefaultMaxBlobBytes))
	viper.SetDefault("quota.budget_bytes", int64(0))

	rootCmd.AddCommand(statsCmd, quotaCmd, cleanCmd, settingsCmd, fetchCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "waveline")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "waveline")}, dirs...)
	}
	if c := os.Getenv("WAVELINE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("waveline")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("waveline")
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}
}
