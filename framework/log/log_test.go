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

package log

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/andreasschulze/tlsrpt-reporter/framework/exterrors"
)

type recordedMsg struct {
	debug bool
	msg   string
}

type recorderOut struct {
	msgs []recordedMsg
}

func (r *recorderOut) Write(stamp time.Time, debug bool, msg string) {
	r.msgs = append(r.msgs, recordedMsg{debug, msg})
}

func (r *recorderOut) Close() error { return nil }

func TestMsgFieldsOrdered(t *testing.T) {
	out := &recorderOut{}
	l := Logger{Out: out, Name: "test"}

	l.Msg("event", "zebra", 1, "apple", 2)
	if len(out.msgs) != 1 {
		t.Fatalf("got %d messages", len(out.msgs))
	}
	got := out.msgs[0].msg
	want := "test: event\t{\"apple\":2,\"zebra\":1}"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestErrorIncludesErrFields(t *testing.T) {
	out := &recorderOut{}
	l := Logger{Out: out}

	err := exterrors.WithFields(errors.New("boom"), map[string]interface{}{"domain": "example.com"})
	l.Error("delivery error", err)
	if len(out.msgs) != 1 {
		t.Fatalf("got %d messages", len(out.msgs))
	}
	got := out.msgs[0].msg
	for _, want := range []string{`"reason":"boom"`, `"domain":"example.com"`} {
		if !strings.Contains(got, want) {
			t.Errorf("message %q lacks %s", got, want)
		}
	}
}

func TestErrorNilIsSilent(t *testing.T) {
	out := &recorderOut{}
	l := Logger{Out: out}
	l.Error("nothing", nil)
	if len(out.msgs) != 0 {
		t.Fatal("nil error produced output")
	}
}

func TestDebugSuppressed(t *testing.T) {
	out := &recorderOut{}
	l := Logger{Out: out}
	l.Debugf("hidden %d", 1)
	if len(out.msgs) != 0 {
		t.Fatal("debug message written with Debug off")
	}

	l.Debug = true
	l.Debugf("visible %d", 2)
	if len(out.msgs) != 1 || !out.msgs[0].debug {
		t.Fatal("debug message not written as debug")
	}
}
