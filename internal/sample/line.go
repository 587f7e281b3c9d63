/*
smartcharge - Detects the end of a battery charge from power readings.
Copyright (C) 2026, The Cacophony Project

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

// Package sample reads power readings from text streams, serial power meters,
// I2C power monitors and recorded CSV fixtures.
package sample

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/TheCacophonyProject/smartcharge/internal/monitor"
	"github.com/sigurn/crc8"
)

var ErrBadChecksum = errors.New("bad checksum")

var crcTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31,
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
})

// Checksum is the CRC-8 of a line payload as two hex digits.
func Checksum(payload string) string {
	return fmt.Sprintf("%02X", crc8.Checksum([]byte(payload), crcTable))
}

// ParseLine parses "[device,]watts[*CRC]". Blank lines and lines starting with
// '#' are skipped by returning ok == false. A reading with Err set is returned
// for lines that can't be trusted.
func ParseLine(line, defaultDevice string) (rd monitor.Reading, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return monitor.Reading{}, false
	}
	rd.Device = defaultDevice

	payload := line
	if i := strings.LastIndexByte(line, '*'); i >= 0 {
		payload = line[:i]
		if !strings.EqualFold(line[i+1:], Checksum(payload)) {
			rd.Err = fmt.Errorf("%w: %q", ErrBadChecksum, line)
			return rd, true
		}
	}

	value := payload
	if i := strings.IndexByte(payload, ','); i >= 0 {
		if d := strings.TrimSpace(payload[:i]); d != "" {
			rd.Device = d
		}
		value = payload[i+1:]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || !monitor.ValidValue(v) {
		rd.Err = fmt.Errorf("%w: %q", monitor.ErrInvalidSample, value)
		return rd, true
	}
	rd.Value = v
	return rd, true
}

type chunk struct {
	data []byte
	err  error
}

// ReadLines parses lines from r until EOF or ctx is done. Reads that return no
// data, such as serial read timeouts, are retried. Reads happen on their own
// goroutine, which exits once a Read returns after ctx is done.
func ReadLines(ctx context.Context, r io.Reader, defaultDevice string, deliver func(monitor.Reading) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan chunk)
	go func() {
		for {
			buf := make([]byte, 256)
			n, err := r.Read(buf)
			select {
			case chunks <- chunk{data: buf[:n], err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var pending []byte
	for {
		var c chunk
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c = <-chunks:
		}
		pending = append(pending, c.data...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			line := string(pending[:i])
			pending = pending[i+1:]
			if rd, ok := ParseLine(line, defaultDevice); ok {
				if err := deliver(rd); err != nil {
					return err
				}
			}
		}
		if errors.Is(c.err, io.EOF) {
			if rd, ok := ParseLine(string(pending), defaultDevice); ok {
				return deliver(rd)
			}
			return nil
		}
		if c.err != nil {
			return c.err
		}
	}
}
