// Package main runs the envelope lifecycle demo against local storage.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	envelopecmd "github.com/velladore/inkseal/internal/cmd/envelope"
)

func main() {
	cfg, err := envelopecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[ENVELOPE] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := envelopecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("demo failed: %v", err)
	}
}
