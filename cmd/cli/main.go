package main

import (
	"github.com/pcarvalho/stackwizard/internal/cli/commands"
)

func main() {
	commands.Execute()
}
