/*
This command provides an executable version of the balancer.

For the list of command line options, run:

	mantridproxy -help

For details about the usage and extensibility of the balancer, please see
the documentation of the root balancer package.
*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/mantrid-go/mantridproxy/balancer"
	"github.com/mantrid-go/mantridproxy/config"
)

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); err != nil {
		log.Fatalf("error processing config: %s", err)
	}

	log.SetLevel(cfg.ApplicationLogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := balancer.New(cfg)
	if err := b.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
