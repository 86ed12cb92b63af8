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

// Package randpool implements a pooled random generator that returns
// values from a pool until the pool is empty, then the pool gets refilled.
//
// Counts over the returned values are flat after each multiple of the pool
// size and differ at most by one otherwise. The reportd uses it to spread
// report deliveries over a configured window without synchronized spikes.
package randpool

import (
	"math/rand"
)

// Pool returns values from zero inclusive up to its size exclusive in
// random order, without replacement within one draining cycle.
//
// Pool is not goroutine-safe; the reportd is single-threaded.
type Pool struct {
	size int
	pool []int
}

// New initializes a random pool of the given size.
func New(size int) *Pool {
	return &Pool{size: size}
}

// Get returns a random value from the pool of remaining values. If no
// values are left to choose from, the pool is refilled with a new set of
// possible return values.
func (p *Pool) Get() int {
	if len(p.pool) == 0 {
		p.pool = rand.Perm(p.size)
	}
	v := p.pool[len(p.pool)-1]
	p.pool = p.pool[:len(p.pool)-1]
	return v
}
