// Command recordctl inspects and maintains tables managed by metarecord.
package main

import (
	"os"

	"metarecord/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
