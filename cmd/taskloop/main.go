package main

import (
	"context"
	"fmt"
	"os"

	"github.com/taskloop/taskloop/cmd/commands"
	"github.com/taskloop/taskloop/internal/config"
)

func main() {
	_ = config.LoadDotenv(config.DotenvPath())

	cmd := commands.NewRootCommand()
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
