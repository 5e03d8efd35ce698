// Command chatline runs the chat orchestration engine.
package main

import (
	"fmt"
	"os"

	"chatline/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
