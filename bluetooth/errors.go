package bluetooth

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

var (
	// ErrAdapterUnavailable means bluetoothd or the adapter object could
	// not be reached within the call timeout.
	ErrAdapterUnavailable = errors.New("bluetooth adapter unavailable")
	// ErrAgentRegistration means bluetoothd refused the agent, usually
	// because another agent holds the default-agent slot.
	ErrAgentRegistration = errors.New("agent registration failed")
	ErrDeviceNotFound    = errors.New("device not found")
	// ErrServiceRejected is returned to bluetoothd for profiles other than
	// audio sink ones. bluetoothd decides what happens next.
	ErrServiceRejected = errors.New("service rejected")
)

// dbusErrorName returns the D-Bus error name carried by err, if any.
func dbusErrorName(err error) string {
	var value dbus.Error
	if errors.As(err, &value) {
		return value.Name
	}
	var ptr *dbus.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Name
	}
	return ""
}

// translate maps a raw bus failure onto the package taxonomy. notFound is
// used for "no such object" replies on device-scoped calls.
func translate(op string, err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, ErrAdapterUnavailable)
	}

	switch dbusErrorName(err) {
	case BLUEZ_ERROR_DOES_NOT_EXIST, DBUS_ERROR_UNKNOWN_OBJECT, DBUS_ERROR_UNKNOWN_METHOD:
		if notFound != nil {
			return fmt.Errorf("%s: %w", op, notFound)
		}
		return fmt.Errorf("%s: %w", op, ErrAdapterUnavailable)
	case DBUS_ERROR_SERVICE_UNKNOWN, DBUS_ERROR_NO_REPLY, DBUS_ERROR_DISCONNECTED, BLUEZ_ERROR_NOT_READY:
		return fmt.Errorf("%s: %w", op, ErrAdapterUnavailable)
	}
	if errors.Is(err, ErrAdapterUnavailable) || errors.Is(err, ErrDeviceNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrAdapterUnavailable, err)
}
