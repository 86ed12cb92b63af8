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
	ReportdDefaultConfigFile = "/etc/tlsrpt/reportd.cfg"
	ReportdConfigSection     = "tlsrpt_reportd"
	ReportdEnvPrefix         = "TLSRPT_REPORTD_"
)

// Reportd holds the settings of the report generation and delivery
// daemon.
type Reportd struct {
	PIDFileName       string
	LogFileName       string
	LogLevel          string
	DebugDB           int
	DebugSendMailDest string
	DebugSendHTTPDest string
	DebugSendFileDest string
	DBName            string
	KeepDays          int
	Fetchers          string
	OrganizationName  string
	ContactInfo       string
	SenderAddress     string
	CompressionLevel  int
	HTTPScript        string
	HTTPTimeout       int
	SendmailScript    string
	SendmailTimeout   int
	SpreadOutDelivery int
	IntervalMainLoop  int
	MetricsAddress    string

	MaxCollectdTimeout  int
	MaxCollectdTimediff int

	MaxRetriesDelivery      int
	MinWaitDelivery         int
	MaxWaitDelivery         int
	MaxRetriesDomainlist    int
	MinWaitDomainlist       int
	MaxWaitDomainlist       int
	MaxRetriesDomaindetails int
	MinWaitDomaindetails    int
	MaxWaitDomaindetails    int
}

// ReportdFlags returns the command line flags of tlsrpt-reportd.
func ReportdFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Value: ReportdDefaultConfigFile, Usage: "Config file to read"},
		&cli.StringFlag{Name: "pidfilename", Usage: "PID file name for reportd"},
		&cli.StringFlag{Name: "logfilename", Usage: "Log file name for reportd"},
		&cli.StringFlag{Name: "log_level", Value: "warn", Usage: "Log level"},
		&cli.StringFlag{Name: "debug_db", Value: "0", Usage: "Enable database debugging"},
		&cli.StringFlag{Name: "debug_send_mail_dest", Usage: "Send all mail reports to this address instead"},
		&cli.StringFlag{Name: "debug_send_http_dest", Usage: "Post all mail reports to this server instead"},
		&cli.StringFlag{Name: "debug_send_file_dest", Usage: "Save all mail reports to this directory additionally"},
		&cli.StringFlag{Name: "dbname", Usage: "Name of database file"},
		&cli.StringFlag{Name: "keep_days", Value: "10", Usage: "Days to keep old data"},
		&cli.StringFlag{Name: "fetchers", Usage: "Comma-separated list of fetchers to collect data"},
		&cli.StringFlag{Name: "organization_name", Usage: "The name of the organization sending out the TLSRPT reports"},
		&cli.StringFlag{Name: "contact_info", Usage: "The contact information of the sending organization"},
		&cli.StringFlag{Name: "sender_address", Usage: "The From: address to send the report email from"},
		&cli.StringFlag{Name: "compression_level", Value: "-1", Usage: "gzip compression level used to create reports"},
		&cli.StringFlag{Name: "http_script",
			Value: "curl --silent --header 'Content-Type: application/tlsrpt+gzip' --data-binary @-",
			Usage: "HTTP upload script"},
		&cli.StringFlag{Name: "http_timeout", Value: "10", Usage: "Timeout for HTTPS uploads in seconds"},
		&cli.StringFlag{Name: "sendmail_script", Value: "sendmail -i -t", Usage: "sendmail script"},
		&cli.StringFlag{Name: "sendmail_timeout", Value: "10", Usage: "Timeout for sendmail script in seconds"},
		&cli.StringFlag{Name: "spread_out_delivery", Value: "36000", Usage: "Time range in seconds to spread out report delivery"},
		&cli.StringFlag{Name: "interval_main_loop", Value: "300", Usage: "Maximum sleep interval in main loop in seconds"},
		&cli.StringFlag{Name: "metrics_address", Usage: "host:port to expose Prometheus metrics on, empty disables the listener"},
		&cli.StringFlag{Name: "max_collectd_timeout", Value: "10", Usage: "Maximum expected collectd timeout in seconds"},
		&cli.StringFlag{Name: "max_collectd_timediff", Value: "10", Usage: "Maximum expected collectd time difference in seconds"},
		&cli.StringFlag{Name: "max_retries_delivery", Value: "5", Usage: "Maximum attempts to deliver a report"},
		&cli.StringFlag{Name: "min_wait_delivery", Value: "300", Usage: "Minimum time in seconds between two delivery attempts"},
		&cli.StringFlag{Name: "max_wait_delivery", Value: "1800", Usage: "Maximum time in seconds between two delivery attempts"},
		&cli.StringFlag{Name: "max_retries_domainlist", Value: "5", Usage: "Maximum attempts to fetch the list of domains"},
		&cli.StringFlag{Name: "min_wait_domainlist", Value: "30", Usage: "Minimum time in seconds between two domain list fetch attempts"},
		&cli.StringFlag{Name: "max_wait_domainlist", Value: "300", Usage: "Maximum time in seconds between two domain list fetch attempts"},
		&cli.StringFlag{Name: "max_retries_domaindetails", Value: "5", Usage: "Maximum attempts to fetch domain details"},
		&cli.StringFlag{Name: "min_wait_domaindetails", Value: "30", Usage: "Minimum time in seconds between two domain detail fetch attempts"},
		&cli.StringFlag{Name: "max_wait_domaindetails", Value: "300", Usage: "Maximum time in seconds between two domain detail fetch attempts"},
	}
}

// LoadReportd resolves the reportd configuration from all layers.
func LoadReportd(ctx *cli.Context) (*Reportd, *Resolver, error) {
	r, err := NewResolver(ctx, ReportdConfigSection, ReportdEnvPrefix)
	if err != nil {
		return nil, nil, err
	}
	cfg := &Reportd{
		PIDFileName:       r.String("pidfilename"),
		LogFileName:       r.String("logfilename"),
		LogLevel:          r.String("log_level"),
		DebugDB:           r.Int("debug_db"),
		DebugSendMailDest: r.String("debug_send_mail_dest"),
		DebugSendHTTPDest: r.String("debug_send_http_dest"),
		DebugSendFileDest: r.String("debug_send_file_dest"),
		DBName:            r.String("dbname"),
		KeepDays:          r.Int("keep_days"),
		Fetchers:          r.String("fetchers"),
		OrganizationName:  r.String("organization_name"),
		ContactInfo:       r.String("contact_info"),
		SenderAddress:     r.String("sender_address"),
		CompressionLevel:  r.Int("compression_level"),
		HTTPScript:        r.String("http_script"),
		HTTPTimeout:       r.Int("http_timeout"),
		SendmailScript:    r.String("sendmail_script"),
		SendmailTimeout:   r.Int("sendmail_timeout"),
		SpreadOutDelivery: r.Int("spread_out_delivery"),
		IntervalMainLoop:  r.Int("interval_main_loop"),
		MetricsAddress:    r.String("metrics_address"),

		MaxCollectdTimeout:  r.Int("max_collectd_timeout"),
		MaxCollectdTimediff: r.Int("max_collectd_timediff"),

		MaxRetriesDelivery:      r.Int("max_retries_delivery"),
		MinWaitDelivery:         r.Int("min_wait_delivery"),
		MaxWaitDelivery:         r.Int("max_wait_delivery"),
		MaxRetriesDomainlist:    r.Int("max_retries_domainlist"),
		MinWaitDomainlist:       r.Int("min_wait_domainlist"),
		MaxWaitDomainlist:       r.Int("max_wait_domainlist"),
		MaxRetriesDomaindetails: r.Int("max_retries_domaindetails"),
		MinWaitDomaindetails:    r.Int("min_wait_domaindetails"),
		MaxWaitDomaindetails:    r.Int("max_wait_domaindetails"),
	}
	if err := r.Err(); err != nil {
		return nil, nil, err
	}
	return cfg, r, nil
}
