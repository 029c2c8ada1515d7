// Command outboxctl inspects and operates a local outbox queue: list and enqueue records, run a
// one-shot flush against the configured remote, and read or reset telemetry.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
