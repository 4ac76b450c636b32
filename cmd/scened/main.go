package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/profile"

	"github.com/scenesync/scenesync/internal/core/log"
	"github.com/scenesync/scenesync/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	logLevel := flag.String("log-level", "", "override the configured log level")
	profileMode := flag.String("profile", "", "write a profile on exit: cpu or mem")
	flag.Parse()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	level, ok := server.ParseLogLevel(cfg.Log.Level)
	if !ok {
		fmt.Fprintln(os.Stderr, "Unknown log level:", cfg.Log.Level)
		os.Exit(2)
	}
	logger := log.New(level)

	srv, err := server.New(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error building server:", err)
		os.Exit(1)
	}

	if *profileMode != "" {
		var mode func(*profile.Profile)
		switch *profileMode {
		case "cpu":
			mode = profile.CPUProfile
		case "mem":
			mode = profile.MemProfile
		default:
			fmt.Fprintln(os.Stderr, "Unknown profile mode:", *profileMode)
			os.Exit(2)
		}
		defer profile.Start(mode, profile.ProfilePath(".")).Stop()
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, os.Kill, syscall.SIGTERM, syscall.SIGINT)

	if err := srv.Start(); err != nil {
		fmt.Println("Error starting server:", err)
		return
	}

	<-stopCh
	if err := srv.Stop(); err != nil {
		fmt.Println("Error stopping server:", err)
	}
}
