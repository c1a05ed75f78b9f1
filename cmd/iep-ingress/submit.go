package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/config"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/logging"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/wiring"
)

var submitInputPath string

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Handle one IEP document upload event",
	Long: `submit parses a single upload-event payload and starts one
Orchestrator execution for the document it names, then waits for the
execution to finish.

The payload is read as JSON from stdin (or --input), and may be either
an S3 ObjectCreated notification envelope:

  {"Records":[{"eventSource":"aws:s3","s3":{"bucket":{"name":"..."},"object":{"key":"userId/childId/iepId/file.pdf"}}}]}

or a direct-invocation payload naming identifiers explicitly:

  {"iep_id":"...","child_id":"...","user_id":"...","s3_bucket":"...","s3_key":"..."}`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitInputPath, "input", "", "path to a JSON event file (default: read stdin)")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logging.Configure(config.GetString("log-file"), 100, 3, 28, zerolog.InfoLevel)

	raw, err := readInput(submitInputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	ctx := cmd.Context()
	pipeline, err := wiring.Build(ctx)
	if err != nil {
		return fmt.Errorf("wiring: %w", err)
	}

	return pipeline.Ingress.HandleEvent(ctx, raw)
}

func readInput(path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return io.ReadAll(os.Stdin)
}
