// Command iep-ingress is the upload entrypoint: it turns an S3
// upload-event (or direct-invocation) payload into a started
// Orchestrator execution. "submit" handles one payload; "watch" runs
// as a standing process over a directory of event files, for
// environments with no S3-notification wiring of their own.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "iep-ingress",
	Short: "Start IEP document executions from upload events",
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
