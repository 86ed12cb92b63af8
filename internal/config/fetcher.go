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

package config

import (
	"github.com/urfave/cli/v2"
)

const (
	FetcherDefaultConfigFile = "/etc/tlsrpt/fetcher.cfg"
	FetcherConfigSection     = "tlsrpt_fetcher"
	FetcherEnvPrefix         = "TLSRPT_FETCHER_"
)

// Fetcher holds the settings of the domain data fetcher.
type Fetcher struct {
	Storage     string
	LogFileName string
	LogLevel    string
}

// FetcherFlags returns the command line flags of tlsrpt-fetcher.
func FetcherFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Value: FetcherDefaultConfigFile, Usage: "Config file to read"},
		&cli.StringFlag{Name: "storage", Usage: "Storage backend, multiple backends separated by comma. " +
			"Note: only the first storage will be used to fetch data from!"},
		&cli.StringFlag{Name: "logfilename", Usage: "Log file name for fetcher"},
		&cli.StringFlag{Name: "log_level", Value: "warn", Usage: "Choose log level: debug, info, warning, error, critical"},
	}
}

// LoadFetcher resolves the fetcher configuration from all layers.
func LoadFetcher(ctx *cli.Context) (*Fetcher, *Resolver, error) {
	r, err := NewResolver(ctx, FetcherConfigSection, FetcherEnvPrefix)
	if err != nil {
		return nil, nil, err
	}
	cfg := &Fetcher{
		Storage:     r.String("storage"),
		LogFileName: r.String("logfilename"),
		LogLevel:    r.String("log_level"),
	}
	if err := r.Err(); err != nil {
		return nil, nil, err
	}
	return cfg, r, nil
}
