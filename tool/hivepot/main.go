/*
 * Hivepot
 * Copyright (C) 2024  Hivepot Contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Command hivepot runs the honeypot: the listener fleet, the ingestion
// pipeline and the dashboard, wired together from one TOML config.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/hivepot/hivepot"
	"github.com/hivepot/hivepot/lib/config"
	"github.com/hivepot/hivepot/lib/events"
	"github.com/hivepot/hivepot/lib/geoip"
	"github.com/hivepot/hivepot/lib/srv"
	"github.com/hivepot/hivepot/lib/stats"
	"github.com/hivepot/hivepot/lib/storage"
	logutils "github.com/hivepot/hivepot/lib/utils/log"
	"github.com/hivepot/hivepot/lib/web"
)

func main() {
	configPath := flag.String("c", "config.toml", "path to the configuration file")
	printVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *printVersion {
		fmt.Println(hivepot.Version)
		return
	}
	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", trace.UserMessage(err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return trace.Wrap(err)
	}
	logger, err := logutils.Initialize(logutils.Config{
		Severity: cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Output:   os.Stderr,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	store, err := storage.New(cfg.Database)
	if err != nil {
		return trace.Wrap(err)
	}
	defer store.Close()

	records := storage.NewWriteBuffer(store)
	bus := events.NewBus()
	resolver := geoip.New(cfg.GeoIP.Database)
	defer resolver.Close()

	supervisor, err := srv.New(srv.Config{
		App:     cfg,
		Records: records,
		Bus:     bus,
		GeoIP:   resolver,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	supervisor.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	engine := stats.NewEngine(store, clock)
	go engine.WarmCache(ctx)
	go stats.NewAggregator(store, clock).Run(ctx)

	handler, err := web.NewHandler(web.Config{
		App:     cfg,
		Engine:  engine,
		Bus:     bus,
		Records: records,
		GeoIP:   resolver,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errC := make(chan error, 1)
	if cfg.TLSEnabled() {
		server.Addr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPSPort))
		go func() {
			errC <- server.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		}()
	} else {
		server.Addr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPPort))
		go func() {
			errC <- server.ListenAndServe()
		}()
	}
	logger.Info("hivepot started",
		"version", hivepot.Version, "web_addr", server.Addr, "tls", cfg.TLSEnabled())

	select {
	case err := <-errC:
		return trace.Wrap(err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	// Flush whatever the handlers queued before the store closes.
	records.Close()
	return nil
}
