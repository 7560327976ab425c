// Command boostd runs the account session daemon and talks to it.
package main

import (
	"os"

	"github.com/Dicklesworthstone/boostd/cmd/boostd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
