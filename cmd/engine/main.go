// Command engine is the follow-scheduling fleet daemon.
//
// Startup sequence:
//  1. Parse flags.
//  2. Load configuration (JSON/YAML file or defaults).
//  3. Open the transactional store.
//  4. Initialise metrics, logger, and the schema-drift validator.
//  5. Start the read-only statistics dashboard.
//  6. Start the scheduler, which fans follow work out to workers continuously.
//  7. Block until OS signals SIGINT or SIGTERM, then perform a clean shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/firasghr/followfleet/config"
	"github.com/firasghr/followfleet/dashboard"
	"github.com/firasghr/followfleet/logger"
	"github.com/firasghr/followfleet/metrics"
	"github.com/firasghr/followfleet/payload"
	"github.com/firasghr/followfleet/scheduler"
	"github.com/firasghr/followfleet/store"
)

func main() {
	configFile := pflag.String("config", "", "Path to a JSON or YAML config file (optional; uses defaults if omitted)")
	debug := pflag.Bool("debug", false, "Enable debug-level logging")
	pflag.Parse()

	level := logger.LevelInfo
	if *debug {
		level = logger.LevelDebug
	}
	log := logger.New(level)
	log.Info("followfleet engine starting up")

	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			log.Errorf("failed to load config from %q: %v", *configFile, err)
			os.Exit(1)
		}
		log.Infof("configuration loaded from %q", *configFile)
	} else {
		cfg = config.DefaultConfig()
		log.Info("using default configuration")
	}

	if cfg.DatabaseDSN == "" {
		log.Errorf("database_dsn must be set in config")
		os.Exit(1)
	}

	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Errorf("failed to open store: %v", err)
		os.Exit(1)
	}
	defer st.Close()

	m := metrics.New()
	validator := payload.NewValidator()

	dash := dashboard.New(m)
	if cfg.StatsAddr != "" {
		go func() {
			if err := dash.ListenAndServe(cfg.StatsAddr); err != nil {
				log.Errorf("dashboard server error: %v", err)
			}
		}()
		log.Infof("statistics dashboard listening on %s", cfg.StatsAddr)
	}

	sc := scheduler.New(st, m, log, validator)
	if err := sc.Start(context.Background()); err != nil {
		log.Errorf("scheduler failed to start: %v", err)
		os.Exit(1)
	}
	log.Info("scheduler started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println() // newline after ^C
	log.Infof("received signal %s; shutting down", sig)
	dash.AddLog("INFO", fmt.Sprintf("received signal %s; shutting down", sig))

	sc.Stop()
	log.Info("followfleet engine shut down cleanly")
}
