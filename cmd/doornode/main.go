// cmd/doornode/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/tamzrod/secmesh/internal/admin"
	"github.com/tamzrod/secmesh/internal/app"
	"github.com/tamzrod/secmesh/internal/clock"
	"github.com/tamzrod/secmesh/internal/config"
	"github.com/tamzrod/secmesh/internal/transport"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: doornode <config.yaml>")
	}

	cfgPath := os.Args[1]

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	logger := log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
	clk := clock.System{}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Build hardware, link and node
	// --------------------

	dev, closeDevices, err := app.BuildDevices(cfg.HAL, clk, logger)
	if err != nil {
		log.Fatalf("hal build failed (driver=%s): %v", cfg.HAL.Driver, err)
	}
	defer closeDevices()

	panel, closePanel, err := app.BuildPanel(cfg.StatusPanel, cfg.Node.Name)
	if err != nil {
		log.Fatalf("status panel failed: %v", err)
	}
	defer closePanel()

	opts, err := app.BuildOptions(cfg)
	if err != nil {
		log.Fatalf("node options failed: %v", err)
	}
	opts.Panel = panel
	opts.OnReady = func() {
		if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			logger.Printf("sd_notify ready failed: %v", err)
		}
	}

	sock, err := transport.ListenUDP(transport.UDPConfig{
		Group:       opts.Group,
		UnicastPort: cfg.Network.UnicastPort,
		Interface:   cfg.Network.Interface,
		QueueDepth:  cfg.Network.QueueDepth,
	}, logger)
	if err != nil {
		log.Fatalf("mesh link failed: %v", err)
	}

	node, err := app.New(opts, sock, dev, clk, logger)
	if err != nil {
		_ = sock.Close()
		log.Fatalf("node build failed: %v", err)
	}
	defer node.Close()

	// --------------------
	// Admin API (optional)
	// --------------------

	var srv *http.Server
	if cfg.Admin.Listen != "" {
		srv = &http.Server{
			Addr:         cfg.Admin.Listen,
			Handler:      admin.NewRouter(node),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Printf("admin listening on %s", cfg.Admin.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("admin server failed: %v", err)
			}
		}()
	}

	go watchdog(ctx, node, logger)

	// --------------------
	// Run until signalled
	// --------------------

	runErr := node.Run(ctx)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("admin shutdown failed: %v", err)
		}
		cancel()
	}

	if runErr != nil {
		logger.Printf("node stopped: %v", runErr)
		return
	}
	logger.Printf("node %s stopped", cfg.Node.Name)
}

// watchdog pings systemd while the node loop keeps beating.
// A wedged loop stops the pings and systemd restarts the unit.
func watchdog(ctx context.Context, node *app.Node, logger *log.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}

	t := time.NewTicker(interval / 2)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if time.Since(node.Heartbeat()) > interval {
				logger.Printf("WARN watchdog: node loop silent since %s", node.Heartbeat().Format(time.RFC3339))
				continue
			}
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				logger.Printf("sd_notify watchdog failed: %v", err)
			}
		}
	}
}
