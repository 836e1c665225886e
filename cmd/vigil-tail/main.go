// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// vigil-tail follows a patrol investigation event stream and prints
// its events to stdout as they arrive. It reconnects through stalls,
// survives server buffer rotations, and can capture the raw traffic
// to a file for later replay.
//
// Configuration comes from a YAML file (VIGIL_CONFIG or --config);
// flags override individual values. With --replay, no connection is
// made: the events of a previously captured session are printed from
// the file instead.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/vigil-systems/vigil/lib/capture"
	"github.com/vigil-systems/vigil/lib/config"
	"github.com/vigil-systems/vigil/lib/patrol"
	"github.com/vigil-systems/vigil/lib/sse"
	"github.com/vigil-systems/vigil/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("vigil-tail", pflag.ContinueOnError)

	configPath := flagSet.String("config", "", "path to vigil.yaml (default: $VIGIL_CONFIG)")
	endpoint := flagSet.String("endpoint", "", "patrol stream URL (overrides config)")
	headers := flagSet.StringArray("header", nil, "extra request header as 'Name: value' (repeatable)")
	capturePath := flagSet.String("capture", "", "write raw traffic to this capture file")
	replayPath := flagSet.String("replay", "", "print events from a capture file instead of connecting")
	readTimeout := flagSet.Duration("read-timeout", 0, "single transport read timeout")
	idleTimeout := flagSet.Duration("idle-timeout", 0, "stall detection budget")
	maxReconnects := flagSet.Int("max-reconnects", -1, "reconnect attempts after stalls")
	logLevel := flagSet.String("log-level", "", "log level: debug, info, warn, error")
	showVersion := flagSet.Bool("version", false, "print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	if *showVersion {
		version.Print("vigil-tail")
		return nil
	}

	if *replayPath != "" {
		return replay(*replayPath)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	// Flags override file values only when explicitly set.
	if *endpoint != "" {
		cfg.Stream.Endpoint = *endpoint
	}
	if flagSet.Changed("read-timeout") {
		cfg.Stream.ReadTimeout = config.Duration(*readTimeout)
	}
	if flagSet.Changed("idle-timeout") {
		cfg.Stream.IdleTimeout = config.Duration(*idleTimeout)
	}
	if flagSet.Changed("max-reconnects") {
		cfg.Stream.MaxReconnects = *maxReconnects
	}
	if *capturePath != "" {
		cfg.Capture.Path = *capturePath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.Log.Level),
	}))

	requestHeader := http.Header{}
	for name, value := range cfg.Stream.Headers {
		requestHeader.Set(name, value)
	}
	for _, raw := range *headers {
		name, value, found := strings.Cut(raw, ":")
		if !found {
			return fmt.Errorf("malformed --header %q, want 'Name: value'", raw)
		}
		requestHeader.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	options := patrol.Options{
		ReadTimeout:   cfg.Stream.ReadTimeout.Std(),
		IdleTimeout:   cfg.Stream.IdleTimeout.Std(),
		MaxReconnects: cfg.Stream.MaxReconnects,
		BackoffBase:   cfg.Stream.BackoffBase.Std(),
		BackoffMax:    cfg.Stream.BackoffMax.Std(),
		Logger:        logger,
	}

	if cfg.Capture.Path != "" {
		file, err := os.Create(cfg.Capture.Path)
		if err != nil {
			return fmt.Errorf("creating capture file: %w", err)
		}
		defer file.Close()

		compression, err := capture.ParseCompressionTag(cfg.Capture.Compression)
		if err != nil {
			return err
		}
		writer, err := capture.NewWriter(file, capture.WriterOptions{
			Compression: compression,
			SegmentSize: cfg.Capture.SegmentSize,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Warn("flushing capture file", "error", err)
			}
		}()
		options.Recorder = writer
		logger.Info("capturing raw traffic", "path", cfg.Capture.Path, "compression", compression)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	supervisor := patrol.NewSupervisor(options)
	printer := newPrinter(os.Stdout)

	started := time.Now()
	runErr := supervisor.Run(ctx, patrol.StreamRequest{
		Endpoint: cfg.Stream.Endpoint,
		Header:   requestHeader,
	}, printer.Event)
	printer.Finish(supervisor.Session().Snapshot(), time.Since(started))

	return runErr
}

// loadConfig resolves the configuration source: an explicit --config
// path wins, then VIGIL_CONFIG, then bare defaults (the endpoint must
// come from a flag in that case).
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("VIGIL_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

// replay prints the events of a captured session without connecting.
func replay(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	printer := newPrinter(os.Stdout)
	err = capture.Replay(file, func(message sse.Message) {
		if !message.HasData {
			return
		}
		for _, line := range strings.Split(message.Data, "\n") {
			if line == "" {
				continue
			}
			event, parseErr := patrol.ParseEvent([]byte(line))
			if parseErr != nil || event.Control() {
				continue
			}
			printer.Event(event)
		}
	}, func(record capture.Record) {
		printer.Mark(record)
	})
	printer.flushLine()
	return err
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
