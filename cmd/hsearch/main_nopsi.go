//go:build no_psi

package main

import (
	"context"
	"os"
)

// Without psi the process does not reap children or forward signals when
// running as PID 1; withSignalCancel still handles SIGINT/SIGTERM.
func main() {
	os.Exit(submain(context.Background()))
}
