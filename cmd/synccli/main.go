// Command synccli is the operator CLI for the sync engine's control
// plane: submit sync jobs, check status, cancel jobs.
package main

import (
	"fmt"
	"os"

	"github.com/camasync/syncengine/cmd/synccli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
