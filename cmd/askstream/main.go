// Command askstream asks questions against a streaming retrieval chat
// backend from the terminal.
package main

import (
	"fmt"
	"os"

	internal "github.com/ZanzyTHEbar/askstream/askstream"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", internal.DefaultAppName, err)
		os.Exit(1)
	}
}
