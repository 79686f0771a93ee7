package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"mythicwp/config"
	"mythicwp/logger"
	"mythicwp/systeminfo"
	"mythicwp/tracing"
	"mythicwp/update"
	"mythicwp/version"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel)

	if err := tracing.Start(filepath.Join(cfg.DiagDir, tracing.DefaultTraceFile)); err != nil {
		logger.Warnf("Failed to start trace: %v", err)
	} else {
		defer tracing.Stop()
	}

	if cfg.DiagSlowScanThreshold > 0 {
		if err := tracing.StartFlightRecorder(64<<20, 2*cfg.DiagSlowScanThreshold); err != nil {
			logger.Warnf("Failed to start flight recorder: %v", err)
		} else {
			defer tracing.StopFlightRecorder()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go handleSignalEvent(cancel, sigChan)

	if cfg.CheckUpdate {
		checkUpdate(ctx)
	}
	if info := systeminfo.GetSystemInfo(); info != nil {
		logger.WithFields(map[string]interface{}{
			"version":  version.Version,
			"mode":     cfg.Mode,
			"hostname": info.Hostname,
			"platform": info.Platform,
			"user":     info.Process.Name,
		}).Debug("Starting")
	}

	if err := run(ctx, cfg, os.Stdout); err != nil {
		logger.Fatalf("%s failed: %v", cfg.Mode, err)
	}
}

func handleSignalEvent(cancel context.CancelFunc, sigChan <-chan os.Signal) {
	sig, ok := <-sigChan
	if !ok {
		return
	}
	logger.Infof("Received %s. Shutting down...", sig)
	cancel()
}

func checkUpdate(ctx context.Context) {
	rel, err := update.Check(ctx, update.ReleaseURL, version.Version)
	if err != nil {
		logger.Debugf("Update check failed: %v", err)
		return
	}
	if !rel.Newer {
		return
	}
	if rel.Security() {
		logger.Warnf("Update available: %s -> %s (security fixes included)", version.Version, rel.Version)
	} else {
		logger.Infof("Update available: %s -> %s", version.Version, rel.Version)
	}
}
