package main

import (
	"os"

	"snapvault/src/cli"
)

func main() {
	os.Exit(cli.Execute())
}
