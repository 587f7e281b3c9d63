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

package replay

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TheCacophonyProject/smartcharge/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFixture records a charge that holds at 10 W then tapers 2% per 15 s
// sample, with a garbled reading in the middle.
func writeFixture(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,value\n")
	p := 10.0
	for i := 0; i < 160; i++ {
		if i == 50 {
			fmt.Fprintf(&b, "%d,ERR\n", i*15000)
			continue
		}
		if i >= 20 {
			p *= 0.98
		}
		fmt.Fprintf(&b, "%d,%.4f\n", i*15000, p)
	}
	path := filepath.Join(t.TempDir(), "charge.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

func TestReplayFixture(t *testing.T) {
	args, err := procArgs([]string{writeFixture(t)})
	require.NoError(t, err)

	var buf bytes.Buffer
	summary, err := replay(args, &buf, logging.NewDiscardLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Invalid)
	assert.Equal(t, 1, summary.Stops)
	assert.Greater(t, summary.StopAt, 20*15*time.Second, "stop comes after the taper starts")
	assert.Greater(t, summary.EnergyWh, 0.0)
	assert.Greater(t, summary.CapacityWh, 0.0)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Equal(t, summary.Records+1, len(rows))
	assert.Equal(t, "time", rows[0][0])

	delayCol := -1
	for i, h := range rows[0] {
		if h == "delay" {
			delayCol = i
		}
	}
	require.NotEqual(t, -1, delayCol)

	stops, delays := 0, 0
	for _, row := range rows[1:] {
		assert.Equal(t, "replay", row[1])
		if row[5] == "false" {
			stops++
		}
		if row[delayCol] != "" {
			delays++
		}
	}
	assert.Equal(t, 1, stops)
	assert.Greater(t, delays, 0, "corrected samples carry the filter delay")
}

func TestReplayJSON(t *testing.T) {
	args, err := procArgs([]string{"--format", "json", "--device", "bike", writeFixture(t)})
	require.NoError(t, err)

	var buf bytes.Buffer
	summary, err := replay(args, &buf, logging.NewDiscardLogger())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, summary.Records, len(lines))
	assert.Contains(t, lines[0], `"device":"bike"`)
}

func TestReplayErrors(t *testing.T) {
	args := defaultArgs
	args.Fixture = filepath.Join(t.TempDir(), "missing.csv")
	_, err := replay(args, &bytes.Buffer{}, logging.NewDiscardLogger())
	assert.Error(t, err)

	args.Fixture = writeFixture(t)
	args.Format = "xml"
	_, err = replay(args, &bytes.Buffer{}, logging.NewDiscardLogger())
	assert.ErrorContains(t, err, "unknown format")
}

func TestProcArgsRequiresFixture(t *testing.T) {
	_, err := procArgs([]string{})
	assert.Error(t, err)
}
