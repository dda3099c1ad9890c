// Package main provides the entry point for the atomic CLI.
package main

import (
	"os"

	"github.com/flora131/atomic-sub005/cmd/atomic/commands"
)

func main() {
	os.Exit(commands.Execute())
}
