package main

import (
	"os"

	"lorad/internal/cli"
)

func main() {
	os.Exit(cli.Main())
}
