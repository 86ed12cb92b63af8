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

// Package delivery sends finished reports to their rua destinations,
// either as a multipart/report email handed to a sendmail script or as a
// gzip body handed to an HTTP upload script.
package delivery

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/andreasschulze/tlsrpt-reporter/framework/exterrors"
	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
	"github.com/andreasschulze/tlsrpt-reporter/internal/day"
	"github.com/andreasschulze/tlsrpt-reporter/internal/report"
)

// Result is the outcome of one delivery attempt. TryAgain asks the
// scheduler for a retry; UnknownRUA and Permanent are final, retrying
// an unsupported URL scheme or a malformed report cannot succeed.
type Result int

const (
	Succeeded Result = iota
	TryAgain
	UnknownRUA
	Permanent
)

func (r Result) String() string {
	switch r {
	case Succeeded:
		return "succeeded"
	case TryAgain:
		return "tryagain"
	case UnknownRUA:
		return "unknownrua"
	case Permanent:
		return "permfail"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// resultFor maps a delivery error to the retry decision. Errors not
// carrying a Temporary() hint are retried.
func resultFor(err error) Result {
	if exterrors.IsTemporaryOrUnspec(err) {
		return TryAgain
	}
	return Permanent
}

// Deliverer sends reports out on behalf of reportd.
type Deliverer struct {
	cfg *config.Reportd
	log log.Logger
}

func New(cfg *config.Reportd, logger log.Logger) *Deliverer {
	return &Deliverer{cfg: cfg, log: logger}
}

// SendOutReport delivers one rendered report to one destination. The
// report index tells apart multiple reports for the same day and domain;
// the report row id only names the report in logs and debug files.
func (d *Deliverer) SendOutReport(reportDay, domain string, reportRowID int64, reportIndex int, destination, rendered string) Result {
	if d.cfg.DebugSendFileDest != "" {
		d.saveToFile(domain, reportRowID, destination, []byte(rendered))
	}
	zreport, err := Compress([]byte(rendered), d.cfg.CompressionLevel)
	if err != nil {
		d.log.Error("cannot compress report", err)
		return resultFor(err)
	}
	switch {
	case strings.HasPrefix(destination, "mailto:"):
		return d.sendMail(reportDay, domain, reportRowID, reportIndex, strings.TrimPrefix(destination, "mailto:"), zreport)
	case strings.HasPrefix(destination, "https:"):
		return d.sendHTTP(destination, zreport)
	default:
		d.log.Msg("unknown rua scheme in report destination", "destination", destination)
		return UnknownRUA
	}
}

// Compress gzips a rendered report with the configured compression
// level; -1 selects the default level.
func Compress(rendered []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(rendered); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Deliverer) sendMail(reportDay, domain string, reportRowID int64, reportIndex int, destination string, zreport []byte) Result {
	dest := d.cfg.DebugSendMailDest
	if dest == "" {
		dest = destination
	} else {
		d.log.Msg("overriding mail destination", "from", destination, "to", dest)
	}

	filename, err := ReportFilename(d.cfg.OrganizationName, domain, reportDay, reportIndex)
	if err != nil {
		err = exterrors.WithTemporary(err, false)
		d.log.Error("cannot build report filename", err)
		return resultFor(err)
	}
	mail, err := composeEmail(emailParams{
		From:          d.cfg.SenderAddress,
		To:            dest,
		Domain:        domain,
		Submitter:     d.cfg.OrganizationName,
		ReportID:      report.ReportID(reportDay, reportIndex, domain),
		Filename:      filename,
		GzippedReport: zreport,
	})
	if err != nil {
		err = exterrors.WithTemporary(err, false)
		d.log.Error("cannot compose report email", err)
		return resultFor(err)
	}

	if d.cfg.DebugSendFileDest != "" {
		d.saveToFile(domain, reportRowID, "THE_EMAIL_TO_"+destination, mail)
	}

	d.log.Debugf("calling sendmail_script %s", d.cfg.SendmailScript)
	if err := runScript(d.cfg.SendmailScript, mail, d.cfg.SendmailTimeout); err != nil {
		d.log.Error(fmt.Sprintf("sending report email to %s failed", dest), err)
		return resultFor(err)
	}
	return Succeeded
}

func (d *Deliverer) sendHTTP(destination string, zreport []byte) Result {
	dest := d.cfg.DebugSendHTTPDest
	if dest == "" {
		dest = destination
	} else {
		d.log.Msg("overriding http destination", "from", destination, "to", dest)
	}

	script := d.cfg.HTTPScript + " " + shellQuote(dest)
	d.log.Debugf("calling http_script %s", script)
	if err := runScript(script, zreport, d.cfg.HTTPTimeout); err != nil {
		d.log.Error(fmt.Sprintf("uploading report to %s failed", dest), err)
		return resultFor(err)
	}
	return Succeeded
}

// saveToFile keeps a debugging copy of whatever would go over the wire.
func (d *Deliverer) saveToFile(domain string, reportRowID int64, destination string, data []byte) {
	filename := d.cfg.DebugSendFileDest + "/testreport-" + domain + "-" +
		fmt.Sprint(reportRowID) + "-" + strings.ReplaceAll(destination, "/", "_") + ".json"
	d.log.Debugf("saving report %d for %s to %s", reportRowID, destination, filename)
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		d.log.Error("cannot save report debug file", err)
	}
}

// ReportFilename builds the RFC 8460 attachment name
// organization!domain!start!end!index.json.gz.
func ReportFilename(organization, domain, reportDay string, reportIndex int) (string, error) {
	start, err := day.ReportStartTimestamp(reportDay)
	if err != nil {
		return "", err
	}
	end, err := day.ReportEndTimestamp(reportDay)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s!%s!%d!%d!%d.json.gz", organization, domain, start, end, reportIndex), nil
}

// shellQuote escapes a single argument for POSIX sh the way the upload
// script expects it appended.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("@%+=:,./-_", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
