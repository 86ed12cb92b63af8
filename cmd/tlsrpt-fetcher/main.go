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

// tlsrpt-fetcher bridges a collectd aggregate store to the reportd: run
// with a day it prints the list of domains with data for that day, run
// with a day and a domain it prints the aggregated details for the
// domain. Output goes to stdout in the fetcher line protocol.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
	"github.com/andreasschulze/tlsrpt-reporter/internal/daemon"
	"github.com/andreasschulze/tlsrpt-reporter/internal/fetcher"
	"github.com/andreasschulze/tlsrpt-reporter/internal/tlsrpt"
)

func main() {
	app := &cli.App{
		Name:      "tlsrpt-fetcher",
		Usage:     "fetch aggregated TLSRPT data from a collectd store",
		ArgsUsage: "day [domain]",
		Flags:     config.FetcherFlags(),
		Action:    run,
	}
	err := app.Run(os.Args)
	os.Exit(daemon.Exit(log.Logger{Out: log.WriterOutput(os.Stderr, true), Name: "tlsrpt-fetcher"}, err))
}

func run(ctx *cli.Context) error {
	cfg, resolver, err := config.LoadFetcher(ctx)
	if err != nil {
		return &tlsrpt.ExitError{Code: tlsrpt.ExitUsage, Err: err}
	}

	// The fetcher talks its protocol on stdout, logging goes to stderr
	// and the optional logfile only.
	logger, err := daemon.SetupLogging("tlsrpt-fetcher", cfg.LogFileName, config.Debug(cfg.LogLevel))
	if err != nil {
		return &tlsrpt.ExitError{Code: tlsrpt.ExitUsage, Err: err}
	}
	resolver.LogSettings(logger)

	args := ctx.Args()
	if args.Len() < 1 || args.Len() > 2 {
		return &tlsrpt.ExitError{Code: tlsrpt.ExitUsage,
			Err: fmt.Errorf("fetcher: expected day and optional domain, got %d arguments", args.Len())}
	}

	src, err := fetcher.NewSource(cfg, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	if args.Len() == 2 {
		return src.FetchDomainDetails(os.Stdout, args.Get(0), args.Get(1))
	}
	return src.FetchDomainList(os.Stdout, args.Get(0))
}
