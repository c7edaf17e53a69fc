// Package main is the entry point for the Iris edge frame transfer agent.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/iris/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
