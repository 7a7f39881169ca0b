// Command idled hosts an idle-empire session: it loads and reconciles the save, runs the
// simulation loop behind a websocket bridge and offers offline tooling around the save slot.
package main

import (
	"os"

	"github.com/fatih/color"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.Red("idled: %v", err)
		os.Exit(1)
	}
}
