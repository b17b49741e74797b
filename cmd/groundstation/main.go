package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/skysurvey/companion/internal/receiver"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	var listenAddr, protocol, saveDir string
	var debug bool
	flag.StringVar(&listenAddr, "listen", "0.0.0.0:9999", "Address to listen on")
	flag.StringVar(&protocol, "protocol", "udp", "Transport protocol. [udp, tcp]")
	flag.StringVar(&saveDir, "dir", "received_images", "Directory to store received images")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if debug {
		logLevel.Set(slog.LevelDebug)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rcv := receiver.New(saveDir, receiver.WithLogger(logger))

	if err := rcv.Run(ctx, strings.ToLower(protocol), listenAddr); err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}
