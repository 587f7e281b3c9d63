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

// Package service exports charge session status on the system bus.
package service

import (
	"encoding/json"
	"errors"

	"github.com/TheCacophonyProject/smartcharge/internal/monitor"
	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
)

const (
	dbusName = "org.cacophony.smartcharge"
	dbusPath = "/org/cacophony/smartcharge"
)

type sessions interface {
	Devices() []string
	Status(device string) (monitor.Status, error)
	Reset(device string) error
}

type service struct {
	sessions sessions
}

func Start(s sessions) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	svc := &service{sessions: s}
	if err := conn.Export(svc, dbusPath, dbusName); err != nil {
		return err
	}
	return conn.Export(genIntrospectable(svc), dbusPath, "org.freedesktop.DBus.Introspectable")
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// Devices lists the devices with an open session.
func (s service) Devices() ([]string, *dbus.Error) {
	return s.sessions.Devices(), nil
}

// GetStatus returns the last record of a device's session as JSON.
func (s service) GetStatus(device string) (string, *dbus.Error) {
	status, err := s.sessions.Status(device)
	if err != nil {
		return "", makeDbusError(".GetStatus", err)
	}
	b, err := json.Marshal(status)
	if err != nil {
		return "", makeDbusError(".GetStatus", err)
	}
	return string(b), nil
}

// Reset forgets a device's session so the next reading starts a new one.
func (s service) Reset(device string) *dbus.Error {
	if err := s.sessions.Reset(device); err != nil {
		return makeDbusError(".Reset", err)
	}
	return nil
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + name,
		Body: []interface{}{err.Error()},
	}
}
