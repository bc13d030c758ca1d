package config

import (
	"fmt"
	"os"
)

// Exitf reports a fatal startup error on stderr and terminates the
// process with status 1. The inkseal binaries call it for failures
// before the server loop owns shutdown.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
