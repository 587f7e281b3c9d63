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

// Package i2crequest makes I2C transactions through the i2c D-Bus service.
package i2crequest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus"
)

const (
	dbusName = "org.cacophony.i2c"
	dbusPath = "/org/cacophony/i2c"
)

type TxResponse struct {
	Response []byte
	Err      error
}

var (
	mockMu        sync.Mutex
	mocking       bool
	mockResponses []TxResponse
)

var errNoMockResponse = errors.New("no mock i2c response left")

// MockTxResponses makes Tx return responses in order instead of calling the
// i2c service. Passing nil stops mocking.
func MockTxResponses(responses []TxResponse) {
	mockMu.Lock()
	defer mockMu.Unlock()
	mocking = responses != nil
	mockResponses = append([]TxResponse(nil), responses...)
}

func nextMock() (TxResponse, bool) {
	mockMu.Lock()
	defer mockMu.Unlock()
	if !mocking {
		return TxResponse{}, false
	}
	if len(mockResponses) == 0 {
		return TxResponse{Err: errNoMockResponse}, true
	}
	r := mockResponses[0]
	mockResponses = mockResponses[1:]
	return r, true
}

// Tx writes write to the device at address then reads readLen bytes.
// timeout is in milliseconds.
func Tx(address byte, write []byte, readLen, timeout int) ([]byte, error) {
	if r, ok := nextMock(); ok {
		return r.Response, r.Err
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	obj := conn.Object(dbusName, dbusPath)

	var response []byte
	if err := obj.Call(dbusName+".Tx", 0, address, write, readLen, timeout).Store(&response); err != nil {
		return nil, err
	}
	return response, nil
}

// ReadRegister16 reads a big endian 16 bit register.
func ReadRegister16(address, register byte, timeout int) (uint16, error) {
	b, err := Tx(address, []byte{register}, 2, timeout)
	if err != nil {
		return 0, err
	}
	if len(b) != 2 {
		return 0, fmt.Errorf("register 0x%02x: expected 2 bytes, got %d", register, len(b))
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// WriteRegister16 writes a big endian 16 bit register.
func WriteRegister16(address, register byte, value uint16, timeout int) error {
	_, err := Tx(address, []byte{register, byte(value >> 8), byte(value)}, 0, timeout)
	return err
}
