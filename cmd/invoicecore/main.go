// Package main starts the invoice delivery core process lifecycle.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	invoicecorecmd "github.com/ashgrovegames/invoicecore/internal/cmd/invoicecore"
	"github.com/ashgrovegames/invoicecore/internal/platform/config"
)

func main() {
	cfg, err := invoicecorecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[INVOICECORE] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := invoicecorecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
