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

package delivery

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"
)

type emailParams struct {
	From          string
	To            string
	Domain        string
	Submitter     string
	ReportID      string
	Filename      string
	GzippedReport []byte
}

// composeEmail builds the multipart/report message of RFC 8460 section
// 5.3: a short human-readable intro plus the gzipped report attached as
// application/tlsrpt+gzip.
func composeEmail(p emailParams) ([]byte, error) {
	var buf bytes.Buffer
	partWriter := textproto.NewMultipartWriter(&buf)

	header := textproto.Header{}
	header.Add("Content-Type", "multipart/report; report-type=tlsrpt; boundary="+partWriter.Boundary())
	header.Add("MIME-Version", "1.0")
	header.Add("TLS-Required", "No")
	header.Add("TLS-Report-Submitter", p.Submitter)
	header.Add("TLS-Report-Domain", p.Domain)
	header.Add("Message-ID", messageID(p.From))
	header.Add("Date", time.Now().Format("Mon, 2 Jan 2006 15:04:05 -0700"))
	header.Add("To", p.To)
	header.Add("From", p.From)
	header.Add("Subject", emailSubject(p.Domain, p.Submitter, p.ReportID))
	if err := textproto.WriteHeader(&buf, header); err != nil {
		return nil, err
	}

	introHeader := textproto.Header{}
	introHeader.Add("Content-Transfer-Encoding", "7bit")
	introHeader.Add("Content-Type", `text/plain; charset="ascii"`)
	introWriter, err := partWriter.CreatePart(introHeader)
	if err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(introWriter, "This is an aggregate TLS report from %s\r\n", p.Submitter); err != nil {
		return nil, err
	}

	reportHeader := textproto.Header{}
	reportHeader.Add("Content-Transfer-Encoding", "base64")
	reportHeader.Add("Content-Disposition", `attachment; filename="`+p.Filename+`"`)
	reportHeader.Add("Content-Type", `application/tlsrpt+gzip; name="`+p.Filename+`"`)
	reportWriter, err := partWriter.CreatePart(reportHeader)
	if err != nil {
		return nil, err
	}
	if _, err := reportWriter.Write(wrapBase64(p.GzippedReport)); err != nil {
		return nil, err
	}

	if err := partWriter.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func emailSubject(domain, submitter, reportID string) string {
	return "Report Domain: " + domain + " Submitter: " + submitter +
		" Report-ID: <" + reportID + "@" + submitter + ">"
}

// messageID derives the Message-ID host part from the sender address so
// the id looks like it came from the sending organization.
func messageID(from string) string {
	host := from
	if idx := strings.LastIndex(from, "@"); idx >= 0 {
		host = from[idx+1:]
	}
	host = strings.TrimSuffix(host, ">")
	return "<" + uuid.New().String() + "@" + host + ">"
}

// wrapBase64 encodes data for a base64 body, folded at the usual 76
// columns.
func wrapBase64(data []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)
	var out bytes.Buffer
	for len(encoded) > 76 {
		out.WriteString(encoded[:76])
		out.WriteString("\r\n")
		encoded = encoded[76:]
	}
	out.WriteString(encoded)
	out.WriteString("\r\n")
	return out.Bytes()
}
