// Command shelf is the metashelf command-line interface.
package main

import (
	"os"

	"github.com/mesh-intelligence/metashelf/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
