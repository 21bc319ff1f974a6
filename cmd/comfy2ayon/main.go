// Command comfy2ayon is the command line entry point: it serves the ComfyUI endpoints,
// publishes files, launches ComfyUI for a project and applies workflows.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
