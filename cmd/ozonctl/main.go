// Package main is the entry point of ozonctl.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/atinyakov/ozon/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
