// Command assignproxy is an operator tool that round-robins a list of
// proxies across every worker that doesn't have one configured yet, so
// every worker ends up routed through an upstream proxy; with fewer proxies
// than workers, proxies are reused in rotation order. It is run once after
// bulk-provisioning workers, not by the engine itself.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/firasghr/followfleet/config"
	"github.com/firasghr/followfleet/logger"
	"github.com/firasghr/followfleet/proxy"
	"github.com/firasghr/followfleet/store"
)

func main() {
	configFile := pflag.String("config", "", "Path to a JSON or YAML config file (optional; uses defaults if omitted)")
	proxyFile := pflag.String("proxy-file", "", "Newline-delimited list of proxy URLs (required)")
	pflag.Parse()

	log := logger.New(logger.LevelInfo)

	if *proxyFile == "" {
		log.Errorf("--proxy-file is required")
		os.Exit(1)
	}

	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			log.Errorf("failed to load config from %q: %v", *configFile, err)
			os.Exit(1)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	if cfg.DatabaseDSN == "" {
		log.Errorf("database_dsn must be set in config")
		os.Exit(1)
	}

	pm := &proxy.Manager{}
	if err := pm.Load(*proxyFile); err != nil {
		log.Errorf("failed to load proxies from %q: %v", *proxyFile, err)
		os.Exit(1)
	}
	if pm.Count() == 0 {
		log.Errorf("no valid proxies found in %q", *proxyFile)
		os.Exit(1)
	}
	log.Infof("loaded %d proxies from %q", pm.Count(), *proxyFile)

	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Errorf("failed to open store: %v", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	ids, err := st.WorkersMissingProxy(ctx)
	if err != nil {
		log.Errorf("failed to list workers missing a proxy: %v", err)
		os.Exit(1)
	}
	if len(ids) == 0 {
		log.Info("no workers are missing a proxy")
		return
	}

	assigned := 0
	for _, id := range ids {
		p, ok := pm.Next()
		if !ok {
			break
		}
		if err := st.AssignProxy(ctx, id, p); err != nil {
			log.Errorf("failed to assign proxy to worker %d: %v", id, err)
			continue
		}
		assigned++
	}
	fmt.Printf("assigned proxies to %d/%d workers\n", assigned, len(ids))
}
