// Command iep-worker runs one Orchestrator execution to completion: OCR,
// redaction, structured extraction, translation fan-out, meeting-notes
// and missing-info extraction, then the merge into the hybrid
// metadata/blob store. Unlike iep-ingress, it does not create the
// record or parse an upload event; it drives an execution for a record
// that already exists.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "iep-worker",
	Short: "Drive IEP document executions through the Orchestrator",
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
