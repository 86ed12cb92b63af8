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
	CollectdDefaultConfigFile = "/etc/tlsrpt/collectd.cfg"
	CollectdConfigSection     = "tlsrpt_collectd"
	CollectdEnvPrefix         = "TLSRPT_COLLECTD_"
)

// Collectd holds the settings of the datagram collection daemon.
type Collectd struct {
	Storage                    string
	SocketName                 string
	SocketUser                 string
	SocketGroup                string
	SocketMode                 string
	SocketTimeout              int
	MaxUncommittedDatagrams    int
	RetryCommitDatagramCount   int
	PIDFileName                string
	LogFileName                string
	LogLevel                   string
	DailyRolloverScript        string
	DumpPathForInvalidDatagram string
	MetricsAddress             string
}

// CollectdFlags returns the command line flags of tlsrpt-collectd. Flag
// names double as config file keys and (uppercased) environment variable
// suffixes.
func CollectdFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Value: CollectdDefaultConfigFile, Usage: "Config file to read"},
		&cli.StringFlag{Name: "storage", Usage: "Storage backend, multiple backends separated by comma"},
		&cli.StringFlag{Name: "socketname", Usage: "Name of the unix domain socket to receive data"},
		&cli.StringFlag{Name: "socketuser", Usage: "User owning the unix domain socket to receive data"},
		&cli.StringFlag{Name: "socketgroup", Usage: "Group of the unix domain socket to receive data"},
		&cli.StringFlag{Name: "socketmode", Usage: "Permissions of the unix domain socket in octal, eg 0220"},
		&cli.StringFlag{Name: "sockettimeout", Value: "5", Usage: "Read timeout for the socket in seconds"},
		&cli.StringFlag{Name: "max_uncommited_datagrams", Value: "1000", Usage: "Commit after that many datagrams were received"},
		&cli.StringFlag{Name: "retry_commit_datagram_count", Value: "1000", Usage: "Retry commit after that many datagrams more were received"},
		&cli.StringFlag{Name: "pidfilename", Usage: "PID file name for collectd"},
		&cli.StringFlag{Name: "logfilename", Usage: "Log file name for collectd"},
		&cli.StringFlag{Name: "log_level", Value: "warn", Usage: "Choose log level: debug, info, warning, error, critical"},
		&cli.StringFlag{Name: "daily_rollover_script", Usage: "Hook script to run after day has changed"},
		&cli.StringFlag{Name: "dump_path_for_invalid_datagram", Usage: "Filename to save an invalid datagram"},
		&cli.StringFlag{Name: "metrics_address", Usage: "host:port to expose Prometheus metrics on, empty disables the listener"},
	}
}

// LoadCollectd resolves the collectd configuration from all layers.
func LoadCollectd(ctx *cli.Context) (*Collectd, *Resolver, error) {
	r, err := NewResolver(ctx, CollectdConfigSection, CollectdEnvPrefix)
	if err != nil {
		return nil, nil, err
	}
	cfg := &Collectd{
		Storage:                    r.String("storage"),
		SocketName:                 r.String("socketname"),
		SocketUser:                 r.String("socketuser"),
		SocketGroup:                r.String("socketgroup"),
		SocketMode:                 r.String("socketmode"),
		SocketTimeout:              r.Int("sockettimeout"),
		MaxUncommittedDatagrams:    r.Int("max_uncommited_datagrams"),
		RetryCommitDatagramCount:   r.Int("retry_commit_datagram_count"),
		PIDFileName:                r.String("pidfilename"),
		LogFileName:                r.String("logfilename"),
		LogLevel:                   r.String("log_level"),
		DailyRolloverScript:        r.String("daily_rollover_script"),
		DumpPathForInvalidDatagram: r.String("dump_path_for_invalid_datagram"),
		MetricsAddress:             r.String("metrics_address"),
	}
	if err := r.Err(); err != nil {
		return nil, nil, err
	}
	return cfg, r, nil
}
