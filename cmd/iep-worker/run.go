package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/config"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/logging"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/orchestrator"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/wiring"
)

var runInputPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one IEP document execution to completion",
	Long: `run drives a single Orchestrator execution for one (iepId,
childId) document, from OCR through the final merge into the
metadata/blob store.

The execution's identifiers and source object are read as a JSON
object from stdin (or --input), shaped as:

  {"iep_id":"...","child_id":"...","user_id":"...","s3_bucket":"...","s3_key":"..."}

The record at (iepId, childId) must already exist (the Ingress Adapter
creates it); run only drives the Orchestrator's state graph.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runInputPath, "input", "", "path to a JSON input file (default: read stdin)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logging.Configure(config.GetString("log-file"), 100, 3, 28, zerolog.InfoLevel)

	raw, err := readInput(runInputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	var payload struct {
		IepID   string `json:"iep_id"`
		ChildID string `json:"child_id"`
		UserID  string `json:"user_id"`
		Bucket  string `json:"s3_bucket"`
		Key     string `json:"s3_key"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("parse input: %w", err)
	}

	ctx := cmd.Context()
	pipeline, err := wiring.Build(ctx)
	if err != nil {
		return fmt.Errorf("wiring: %w", err)
	}

	return pipeline.Orchestrator.Run(ctx, orchestrator.Input{
		IepID:   payload.IepID,
		ChildID: payload.ChildID,
		UserID:  payload.UserID,
		Bucket:  payload.Bucket,
		Key:     payload.Key,
	})
}

func readInput(path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return io.ReadAll(os.Stdin)
}
