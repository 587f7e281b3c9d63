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

package sample

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/TheCacophonyProject/smartcharge/internal/monitor"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

const cmdlineFile = "/boot/firmware/cmdline.txt"

type SerialUnavailableError struct {
	msg string
}

func (e *SerialUnavailableError) Error() string {
	return e.msg
}

// Serial reads lines from a power meter on a serial port.
type Serial struct {
	Path    string
	Baud    int
	Device  string
	Retries int
	Wait    time.Duration
	Log     logrus.FieldLogger
}

func serialInUseFromTerminal(path string) bool {
	b, err := os.ReadFile(cmdlineFile)
	if err != nil {
		return false
	}
	return strings.Contains(string(b), "console="+strings.TrimPrefix(path, "/dev/"))
}

// lock takes an exclusive lock on the port so other tools sharing it back off.
func (s *Serial) lock(ctx context.Context) (*flock.Flock, error) {
	if serialInUseFromTerminal(s.Path) {
		return nil, &SerialUnavailableError{msg: s.Path + " is in use by the terminal console"}
	}
	lock := flock.New(s.Path)
	for i := s.Retries; ; i-- {
		locked, err := lock.TryLock()
		if err != nil {
			return nil, err
		}
		if locked {
			return lock, nil
		}
		if i <= 0 {
			return nil, &SerialUnavailableError{msg: "failed to get lock on " + s.Path + ", might be in use by other process"}
		}
		s.Log.Printf("%s is locked by another process. Retrying %d more times in %s", s.Path, i, s.Wait)
		select {
		case <-time.After(s.Wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Run reads from the port until ctx is done.
func (s *Serial) Run(ctx context.Context, deliver func(monitor.Reading) error) error {
	lock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	port, err := serial.OpenPort(&serial.Config{
		Name:        s.Path,
		Baud:        s.Baud,
		ReadTimeout: time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.Path, err)
	}
	defer port.Close()
	s.Log.Infof("Reading power from %s at %d baud", s.Path, s.Baud)

	return ReadLines(ctx, port, s.Device, deliver)
}
