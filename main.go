package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/d-kessler/CountertopDarkMatter/cmd"
	"github.com/d-kessler/CountertopDarkMatter/internal/buildinfo"
	"github.com/d-kessler/CountertopDarkMatter/internal/conf"
)

// buildDate and version are injected at build time with -ldflags
var (
	buildDate string
	version   string
)

func main() {
	os.Exit(run())
}

func run() int {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := conf.NewContext(buildinfo.NewContext(version, buildDate))
	defer func() {
		if err := ctx.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()

	if err := cmd.RootCommand(ctx).ExecuteContext(runCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
