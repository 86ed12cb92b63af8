/*
TLSRPT Reporter - aggregation and delivery for SMTP TLS Reporting (RFC 8460).
Copyright © 2024-2026 TLSRPT Reporter contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// tlsrpt-collectd receives TLSRPT datagrams from the MTA on a unix
// domain socket and aggregates them into the per-day SQLite store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
	"github.com/andreasschulze/tlsrpt-reporter/internal/collectd"
	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
	"github.com/andreasschulze/tlsrpt-reporter/internal/daemon"
	"github.com/andreasschulze/tlsrpt-reporter/internal/tlsrpt"
)

func main() {
	app := &cli.App{
		Name:   "tlsrpt-collectd",
		Usage:  "datagram collector for SMTP TLS Reporting",
		Flags:  config.CollectdFlags(),
		Action: run,
	}
	err := app.Run(os.Args)
	os.Exit(daemon.Exit(log.Logger{Out: log.WriterOutput(os.Stderr, true), Name: "tlsrpt-collectd"}, err))
}

func run(ctx *cli.Context) error {
	cfg, resolver, err := config.LoadCollectd(ctx)
	if err != nil {
		return &tlsrpt.ExitError{Code: tlsrpt.ExitUsage, Err: err}
	}

	logger, err := daemon.SetupLogging("tlsrpt-collectd", cfg.LogFileName, config.Debug(cfg.LogLevel))
	if err != nil {
		return &tlsrpt.ExitError{Code: tlsrpt.ExitUsage, Err: err}
	}
	resolver.LogSettings(logger)

	removePID := daemon.WritePIDFile(cfg.PIDFileName, logger)
	defer removePID()

	if _, err := daemon.ServeMetrics(cfg.MetricsAddress, logger); err != nil {
		return err
	}

	backends, err := collectd.NewBackends(cfg, logger)
	if err != nil {
		return err
	}
	srv, err := collectd.NewServer(cfg, backends, logger)
	if err != nil {
		for _, b := range backends {
			b.Close()
		}
		return err
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Run(runCtx)
}
