// pi-island runs pi coding agents in RPC mode and serves a unified view of
// their live and past sessions.
package main

import (
	"os"

	"github.com/soporteakasiapro1-art/pi-island/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
