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
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/andreasschulze/tlsrpt-reporter/framework/exterrors"
)

// runScript feeds stdin to a shell command line and waits for it to
// finish. A non-zero exit status or hitting the timeout is an error,
// marked temporary since the script may succeed on a later attempt.
func runScript(script string, stdin []byte, timeoutSeconds int) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", script)
	cmd.Stdin = bytes.NewReader(stdin)
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return exterrors.WithTemporary(fmt.Errorf("timeout after %d seconds: %w", timeoutSeconds, ctx.Err()), true)
	}
	if err != nil {
		return exterrors.WithTemporary(fmt.Errorf("command %q: %w", script, err), true)
	}
	return nil
}
