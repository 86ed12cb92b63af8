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
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
)

func TestCompressRoundTrip(t *testing.T) {
	payload := []byte(`{"organization-name":"Example Org"}`)
	for _, level := range []int{-1, 0, 9} {
		z, err := Compress(payload, level)
		if err != nil {
			t.Fatalf("Compress level %d: %v", level, err)
		}
		zr, err := gzip.NewReader(strings.NewReader(string(z)))
		if err != nil {
			t.Fatalf("gzip reader: %v", err)
		}
		got, err := io.ReadAll(zr)
		if err != nil {
			t.Fatalf("decompress: %v", err)
		}
		if string(got) != string(payload) {
			t.Errorf("level %d: round trip mismatch", level)
		}
	}
}

func TestReportFilename(t *testing.T) {
	got, err := ReportFilename("Example Org", "example.com", "2026-08-25", 1)
	if err != nil {
		t.Fatalf("ReportFilename: %v", err)
	}
	want := "Example Org!example.com!1787616000!1787702399!1.json.gz"
	if got != want {
		t.Errorf("filename = %q, want %q", got, want)
	}

	if _, err := ReportFilename("org", "example.com", "not-a-day", 1); err == nil {
		t.Error("expected error for malformed day")
	}
}

func TestShellQuote(t *testing.T) {
	for in, want := range map[string]string{
		"https://example.com/tlsrpt": "https://example.com/tlsrpt",
		"":                           "''",
		"https://example.com/a b":    "'https://example.com/a b'",
		"https://example.com/a'b":    `'https://example.com/a'"'"'b'`,
		"$(rm -rf /)":                "'$(rm -rf /)'",
	} {
		if got := shellQuote(in); got != want {
			t.Errorf("shellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestComposeEmail(t *testing.T) {
	zreport, err := Compress([]byte(`{"report-id":"x"}`), -1)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := composeEmail(emailParams{
		From:          "noreply-tlsrpt@example.org",
		To:            "reports@example.com",
		Domain:        "example.com",
		Submitter:     "Example Org",
		ReportID:      "2026-08-25T00:00:00Z_idx1_example.com",
		Filename:      "Example Org!example.com!1787616000!1787702399!1.json.gz",
		GzippedReport: zreport,
	})
	if err != nil {
		t.Fatalf("composeEmail: %v", err)
	}

	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		t.Fatalf("message does not parse: %v", err)
	}
	if got := msg.Header.Get("Subject"); got != "Report Domain: example.com Submitter: Example Org "+
		"Report-ID: <2026-08-25T00:00:00Z_idx1_example.com@Example Org>" {
		t.Errorf("Subject = %q", got)
	}
	if got := msg.Header.Get("TLS-Report-Domain"); got != "example.com" {
		t.Errorf("TLS-Report-Domain = %q", got)
	}
	if got := msg.Header.Get("TLS-Report-Submitter"); got != "Example Org" {
		t.Errorf("TLS-Report-Submitter = %q", got)
	}
	if got := msg.Header.Get("TLS-Required"); got != "No" {
		t.Errorf("TLS-Required = %q", got)
	}
	if got := msg.Header.Get("Message-ID"); !strings.HasPrefix(got, "<") ||
		!strings.HasSuffix(got, "@example.org>") {
		t.Errorf("Message-ID = %q", got)
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("Content-Type: %v", err)
	}
	if mediaType != "multipart/report" || params["report-type"] != "tlsrpt" {
		t.Errorf("Content-Type = %s, params %v", mediaType, params)
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])
	intro, err := mr.NextPart()
	if err != nil {
		t.Fatalf("intro part: %v", err)
	}
	introBody, _ := io.ReadAll(intro)
	if !strings.Contains(string(introBody), "aggregate TLS report from Example Org") {
		t.Errorf("intro = %q", introBody)
	}

	attachment, err := mr.NextPart()
	if err != nil {
		t.Fatalf("attachment part: %v", err)
	}
	actype, acparams, err := mime.ParseMediaType(attachment.Header.Get("Content-Type"))
	if err != nil || actype != "application/tlsrpt+gzip" {
		t.Errorf("attachment Content-Type = %q (%v)", actype, err)
	}
	if !strings.HasSuffix(acparams["name"], ".json.gz") {
		t.Errorf("attachment name = %q", acparams["name"])
	}
	b64, _ := io.ReadAll(attachment)
	zbody, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(strings.ReplaceAll(string(b64), "\r", ""), "\n", ""))
	if err != nil {
		t.Fatalf("attachment base64: %v", err)
	}
	zr, err := gzip.NewReader(strings.NewReader(string(zbody)))
	if err != nil {
		t.Fatalf("attachment is not gzip: %v", err)
	}
	body, _ := io.ReadAll(zr)
	if string(body) != `{"report-id":"x"}` {
		t.Errorf("attachment content = %q", body)
	}
}

func writeCaptureScript(t *testing.T, out string) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "capture.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\ncat > "+out+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return script
}

func TestSendOutReportMail(t *testing.T) {
	out := filepath.Join(t.TempDir(), "mail.out")
	cfg := &config.Reportd{
		OrganizationName: "Example Org",
		ContactInfo:      "postmaster@example.org",
		SenderAddress:    "noreply-tlsrpt@example.org",
		CompressionLevel: -1,
		SendmailScript:   writeCaptureScript(t, out),
		SendmailTimeout:  10,
	}
	d := New(cfg, log.Logger{Out: log.NopOutput{}})

	res := d.SendOutReport("2026-08-25", "example.com", 1, 1, "mailto:reports@example.com", `{"report-id":"x"}`)
	if res != Succeeded {
		t.Fatalf("result = %v, want succeeded", res)
	}
	mailText, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("sendmail script did not capture: %v", err)
	}
	if !strings.Contains(string(mailText), "To: reports@example.com") {
		t.Errorf("captured mail lacks To header: %q", mailText)
	}
}

func TestSendOutReportHTTP(t *testing.T) {
	out := filepath.Join(t.TempDir(), "http.out")
	cfg := &config.Reportd{
		CompressionLevel: -1,
		HTTPScript:       writeCaptureScript(t, out),
		HTTPTimeout:      10,
	}
	d := New(cfg, log.Logger{Out: log.NopOutput{}})

	res := d.SendOutReport("2026-08-25", "example.com", 1, 1, "https://example.com/tlsrpt", `{"report-id":"x"}`)
	if res != Succeeded {
		t.Fatalf("result = %v, want succeeded", res)
	}
	zbody, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("http script did not capture: %v", err)
	}
	zr, err := gzip.NewReader(strings.NewReader(string(zbody)))
	if err != nil {
		t.Fatalf("http body is not gzip: %v", err)
	}
	body, _ := io.ReadAll(zr)
	if string(body) != `{"report-id":"x"}` {
		t.Errorf("http body = %q", body)
	}
}

func TestSendOutReportUnknownRUA(t *testing.T) {
	d := New(&config.Reportd{CompressionLevel: -1}, log.Logger{Out: log.NopOutput{}})
	res := d.SendOutReport("2026-08-25", "example.com", 1, 1, "ftp://example.com/up", `{}`)
	if res != UnknownRUA {
		t.Errorf("result = %v, want unknownrua", res)
	}
}

func TestSendOutReportScriptFailure(t *testing.T) {
	cfg := &config.Reportd{
		SenderAddress:    "noreply@example.org",
		CompressionLevel: -1,
		SendmailScript:   "exit 1",
		SendmailTimeout:  10,
	}
	d := New(cfg, log.Logger{Out: log.NopOutput{}})
	res := d.SendOutReport("2026-08-25", "example.com", 1, 1, "mailto:reports@example.com", `{}`)
	if res != TryAgain {
		t.Errorf("result = %v, want tryagain", res)
	}
}

func TestSendOutReportMalformedDayIsPermanent(t *testing.T) {
	cfg := &config.Reportd{
		SenderAddress:    "noreply@example.org",
		CompressionLevel: -1,
		SendmailScript:   "cat > /dev/null",
		SendmailTimeout:  10,
	}
	d := New(cfg, log.Logger{Out: log.NopOutput{}})
	res := d.SendOutReport("not-a-day", "example.com", 1, 1, "mailto:reports@example.com", `{}`)
	if res != Permanent {
		t.Errorf("result = %v, want permfail", res)
	}
}

func TestSendOutReportScriptTimeout(t *testing.T) {
	cfg := &config.Reportd{
		SenderAddress:    "noreply@example.org",
		CompressionLevel: -1,
		SendmailScript:   "sleep 5",
		SendmailTimeout:  1,
	}
	d := New(cfg, log.Logger{Out: log.NopOutput{}})
	res := d.SendOutReport("2026-08-25", "example.com", 1, 1, "mailto:reports@example.com", `{}`)
	if res != TryAgain {
		t.Errorf("result = %v, want tryagain", res)
	}
}
