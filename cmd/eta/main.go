// Package main starts the eta web application or runs an eta command.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/louisbranch/eta/internal/platform/config"

	etacmd "github.com/louisbranch/eta/internal/cmd/eta"
	_ "github.com/louisbranch/eta/internal/modules/status"
)

func main() {
	cfg, err := etacmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[ETA] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := etacmd.Run(ctx, cfg); err != nil {
		config.Exitf("eta: %v", err)
	}
}
