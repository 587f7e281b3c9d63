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

package monitor

import "fmt"

type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseActive
	PhaseDecaying
	PhaseFinishing
)

type phaseEvent int

const (
	eventReset phaseEvent = iota
	eventDecayStart
	eventDecayEnd
	eventFinish
)

func (p Phase) transition(e phaseEvent) Phase {
	if e == eventReset {
		return PhaseActive
	}
	switch p {
	case PhaseActive:
		switch e {
		case eventDecayStart:
			return PhaseDecaying
		case eventFinish:
			return PhaseFinishing
		}
	case PhaseDecaying:
		switch e {
		case eventDecayEnd:
			return PhaseActive
		case eventFinish:
			return PhaseFinishing
		}
	}
	return p
}

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseActive:
		return "active"
	case PhaseDecaying:
		return "decaying"
	case PhaseFinishing:
		return "finishing"
	default:
		return fmt.Sprintf("invalid phase: %d", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
