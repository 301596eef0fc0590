// Command solverd serves the challenge-solving HTTP service: accept a
// challenge on /turnstile, solve it in a browser worker, hand back the
// token on /result.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"autologin/internal/browser"
	"autologin/internal/logging"
	"autologin/internal/proxy"
	"autologin/internal/solver"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "HTTP listen address")
		webdriverURL = flag.String("webdriver-url", "http://localhost:4444", "WebDriver endpoint for browser sessions")
		poolSize     = flag.Int("pool-size", 4, "Concurrent browser solving slots")
		maxLive      = flag.Int("max-live", 20, "Maximum queued plus in-flight tasks before submissions get 429")
		solveTimeout = flag.Duration("solve-timeout", 2*time.Minute, "Per-task solving deadline")
		taskTimeout  = flag.Duration("task-timeout", 5*time.Minute, "Age at which an unsolved task is reported failed")
		retention    = flag.Duration("retention", time.Hour, "How long finished results stay pollable")
		proxiesFile  = flag.String("proxies", "", "Optional proxies file for default egress binding")
		debug        = flag.Bool("debug", false, "Verbose request logging")
		logLevel     = flag.String("log-level", "info", "Log level (debug|info|warn|error)")
	)
	flag.Parse()

	level := logging.ParseLevel(*logLevel)
	if *debug {
		level = logging.LevelDebug
	}
	log := logging.NewWithOptions("solverd", os.Stderr, level)

	proxies := proxy.NewPool(nil)
	if *proxiesFile != "" {
		loaded, err := proxy.LoadPool(*proxiesFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load proxies: %v\n", err)
			os.Exit(1)
		}
		proxies = loaded
		log.Info("proxy pool loaded: %d entries", proxies.Len())
	}

	store := solver.NewStore(solver.StoreConfig{
		MaxLive:     *maxLive,
		TaskTimeout: *taskTimeout,
		Retention:   *retention,
	})

	registry := prometheus.NewRegistry()
	metrics := solver.NewMetrics(registry)

	engine := &solver.BrowserEngine{
		Factory: browser.NewRemoteFactory(*webdriverURL),
		Logger:  logging.NewWithOptions("engine", os.Stderr, level),
	}
	pool := solver.NewPool(engine, store, *poolSize, *solveTimeout, metrics, logging.NewWithOptions("pool", os.Stderr, level))

	cfg := solver.DefaultServerConfig()
	cfg.Addr = *addr
	cfg.Debug = *debug
	server := solver.NewServer(cfg, store, pool, proxies, metrics, registry, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "solverd: %v\n", err)
		os.Exit(1)
	}
}
