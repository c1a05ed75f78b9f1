package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/config"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/logging"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/wiring"
)

var watchDir string
var watchPollInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a directory for upload-event files and submit each one",
	Long: `watch monitors --dir for new *.json event files (the same
shapes submit accepts) and starts one Orchestrator execution per file
it sees. A processed file is moved into dir/processed on success, or
dir/failed on error, so it is never picked up twice.

Falls back to polling --dir every --poll-interval when filesystem
notifications are unavailable (e.g. some container/network filesystem
setups), the same fallback the file-change watcher this is grounded on
uses when fsnotify itself cannot be initialized.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchDir, "dir", "", "directory to watch for event files (required)")
	watchCmd.Flags().DurationVar(&watchPollInterval, "poll-interval", 5*time.Second, "polling interval when filesystem notifications are unavailable")
	_ = watchCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logging.Configure(config.GetString("log-file"), 100, 3, 28, zerolog.InfoLevel)
	log := logging.Base()

	for _, sub := range []string{"", "processed", "failed"} {
		if err := os.MkdirAll(filepath.Join(watchDir, sub), 0o755); err != nil {
			return fmt.Errorf("create watch directory %s: %w", filepath.Join(watchDir, sub), err)
		}
	}

	ctx := cmd.Context()
	pipeline, err := wiring.Build(ctx)
	if err != nil {
		return fmt.Errorf("wiring: %w", err)
	}

	process := func(path string) {
		name := filepath.Base(path)
		if !strings.HasSuffix(name, ".json") {
			return
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			// Most likely still being written; pick it up on the next event.
			return
		}
		dest := filepath.Join(watchDir, "processed", name)
		if err := pipeline.Ingress.HandleEvent(ctx, raw); err != nil {
			log.Error().Err(err).Str("file", name).Msg("event handling failed")
			dest = filepath.Join(watchDir, "failed", name)
		}
		if err := os.Rename(path, dest); err != nil {
			log.Error().Err(err).Str("file", name).Msg("failed to move processed event file")
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Dur("pollInterval", watchPollInterval).
			Msg("fsnotify unavailable, falling back to polling")
		return pollDirectory(ctx, watchDir, watchPollInterval, process)
	}
	defer watcher.Close()

	if err := watcher.Add(watchDir); err != nil {
		return fmt.Errorf("watch %s: %w", watchDir, err)
	}
	log.Info().Str("dir", watchDir).Msg("watching for upload event files")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			// Give the writer a moment to finish before reading.
			time.Sleep(200 * time.Millisecond)
			process(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("watcher error")
		}
	}
}

func pollDirectory(ctx context.Context, dir string, interval time.Duration, process func(path string)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			entries, err := os.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				process(filepath.Join(dir, e.Name()))
			}
		}
	}
}
