package utils

import (
	"context"
	"fmt"
	"log"

	"github.com/godbus/dbus/v5"
)

const (
	SYSTEMD_BUS_NAME    = "org.freedesktop.systemd1"
	SYSTEMD_OBJECT_PATH = "/org/freedesktop/systemd1"
	SYSTEMD_MANAGER     = "org.freedesktop.systemd1.Manager"
)

// UnitController starts and stops systemd units.
type UnitController interface {
	StartUnit(ctx context.Context, name string) error
	StopUnit(ctx context.Context, name string) error
	RestartUnit(ctx context.Context, name string) error
}

// SystemdUnits talks to the systemd manager over the system bus.
type SystemdUnits struct {
	conn *dbus.Conn
}

func NewSystemdUnits(conn *dbus.Conn) *SystemdUnits {
	return &SystemdUnits{conn: conn}
}

func (s *SystemdUnits) call(ctx context.Context, method, name string) error {
	var job dbus.ObjectPath
	obj := s.conn.Object(SYSTEMD_BUS_NAME, SYSTEMD_OBJECT_PATH)
	if err := obj.CallWithContext(ctx, SYSTEMD_MANAGER+"."+method, 0, name, "replace").Store(&job); err != nil {
		return fmt.Errorf("%s %s: %w", method, name, err)
	}
	log.Printf("SYSTEMD: %s %s queued as %s", method, name, job)
	return nil
}

func (s *SystemdUnits) StartUnit(ctx context.Context, name string) error {
	return s.call(ctx, "StartUnit", name)
}

func (s *SystemdUnits) StopUnit(ctx context.Context, name string) error {
	return s.call(ctx, "StopUnit", name)
}

func (s *SystemdUnits) RestartUnit(ctx context.Context, name string) error {
	return s.call(ctx, "RestartUnit", name)
}

// BluetoothSink silences Bluetooth audio by stopping the unit that plays
// A2DP streams (bluealsa-aplay) and brings it back by starting it again.
type BluetoothSink struct {
	units UnitController
	unit  string
}

func NewBluetoothSink(units UnitController, unit string) *BluetoothSink {
	return &BluetoothSink{units: units, unit: unit}
}

func (b *BluetoothSink) Suppress(ctx context.Context) error {
	if err := b.units.StopUnit(ctx, b.unit); err != nil {
		return err
	}
	log.Printf("SYSTEMD: Bluetooth playback paused (%s stopped)", b.unit)
	return nil
}

func (b *BluetoothSink) Restore(ctx context.Context) error {
	if err := b.units.StartUnit(ctx, b.unit); err != nil {
		return err
	}
	log.Printf("SYSTEMD: Bluetooth playback resumed (%s started)", b.unit)
	return nil
}

// RestartUnits restarts each unit in order, stopping at the first failure.
func RestartUnits(ctx context.Context, units UnitController, names []string) error {
	for _, name := range names {
		if err := units.RestartUnit(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
