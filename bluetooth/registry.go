package bluetooth

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

// Registry translates control requests into queries and mutations of the
// BlueZ object tree. It keeps no cache: every read goes to bluetoothd so
// connect/disconnect signals can never leave it stale.
type Registry struct {
	bus         Bus
	adapter     string
	adapterPath dbus.ObjectPath
	timeout     time.Duration
}

// NewRegistry creates a registry for the named adapter ("hci0"). Calls are
// bounded by timeout.
func NewRegistry(bus Bus, adapter string, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Registry{
		bus:         bus,
		adapter:     adapter,
		adapterPath: adapterObjectPath(adapter),
		timeout:     timeout,
	}
}

func (r *Registry) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// Adapter returns the current adapter properties.
func (r *Registry) Adapter(ctx context.Context) (AdapterState, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	props, err := r.bus.Properties(ctx, r.adapterPath, BLUEZ_ADAPTER_INTERFACE)
	if err != nil {
		return AdapterState{}, translate("get adapter properties", err, nil)
	}
	return adapterFromProps(props), nil
}

// ListDevices returns every device known to the adapter in the order
// bluetoothd reports them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	objects, err := r.bus.ManagedObjects(ctx)
	if err != nil {
		return nil, translate("get managed objects", err, nil)
	}

	prefix := string(r.adapterPath) + "/"
	devices := make([]Device, 0)
	for path, ifaces := range objects {
		props, ok := ifaces[BLUEZ_DEVICE_INTERFACE]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		devices = append(devices, deviceFromProps(path, props))
	}
	return devices, nil
}

// ConnectedDevice returns the first connected device, or nil.
func (r *Registry) ConnectedDevice(ctx context.Context) (*Device, error) {
	devices, err := r.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].Connected {
			return &devices[i], nil
		}
	}
	return nil, nil
}

// SetDiscoverable toggles discoverability. timeoutSeconds is handed to
// bluetoothd as DiscoverableTimeout (0 = no limit) and not tracked here.
func (r *Registry) SetDiscoverable(ctx context.Context, on bool, timeoutSeconds int) error {
	if timeoutSeconds < 0 {
		timeoutSeconds = 0
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	// Timeout first: bluetoothd arms its timer when Discoverable flips.
	if err := r.bus.SetProperty(ctx, r.adapterPath, BLUEZ_ADAPTER_INTERFACE, "DiscoverableTimeout", uint32(timeoutSeconds)); err != nil {
		return translate("set discoverable timeout", err, nil)
	}
	if err := r.bus.SetProperty(ctx, r.adapterPath, BLUEZ_ADAPTER_INTERFACE, "Discoverable", on); err != nil {
		return translate("set discoverable", err, nil)
	}
	log.Printf("BT_REG: Discoverable set to %v (timeout %ds)", on, timeoutSeconds)
	return nil
}

// SetPairable toggles the adapter's Pairable property.
func (r *Registry) SetPairable(ctx context.Context, on bool) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.bus.SetProperty(ctx, r.adapterPath, BLUEZ_ADAPTER_INTERFACE, "Pairable", on); err != nil {
		return translate("set pairable", err, nil)
	}
	log.Printf("BT_REG: Pairable set to %v", on)
	return nil
}

// SetPowered toggles the adapter's Powered property.
func (r *Registry) SetPowered(ctx context.Context, on bool) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.bus.SetProperty(ctx, r.adapterPath, BLUEZ_ADAPTER_INTERFACE, "Powered", on); err != nil {
		return translate("set powered", err, nil)
	}
	log.Printf("BT_REG: Powered set to %v", on)
	return nil
}

func (r *Registry) StartDiscovery(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return translate("start discovery", r.bus.Call(ctx, r.adapterPath, BLUEZ_ADAPTER_INTERFACE+".StartDiscovery"), nil)
}

func (r *Registry) StopDiscovery(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return translate("stop discovery", r.bus.Call(ctx, r.adapterPath, BLUEZ_ADAPTER_INTERFACE+".StopDiscovery"), nil)
}

// RemoveDevice unpairs and forgets a device. bluetoothd does not make
// this idempotent: removing the same address twice reports
// ErrDeviceNotFound the second time.
func (r *Registry) RemoveDevice(ctx context.Context, address string) error {
	addr, err := normalizeAddress(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	path := deviceObjectPath(r.adapter, addr)
	if err := r.bus.Call(ctx, r.adapterPath, BLUEZ_ADAPTER_INTERFACE+".RemoveDevice", path); err != nil {
		return translate("remove device "+addr, err, ErrDeviceNotFound)
	}
	log.Printf("BT_REG: Removed device %s", addr)
	return nil
}

// TrustDevice marks a device trusted so it may reconnect without
// re-authorization.
func (r *Registry) TrustDevice(ctx context.Context, address string) error {
	addr, err := normalizeAddress(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
	return r.trustPath(ctx, deviceObjectPath(r.adapter, addr))
}

func (r *Registry) trustPath(ctx context.Context, path dbus.ObjectPath) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.bus.SetProperty(ctx, path, BLUEZ_DEVICE_INTERFACE, "Trusted", true); err != nil {
		return translate("trust device "+macFromPath(path), err, ErrDeviceNotFound)
	}
	log.Printf("BT_REG: Trusted device %s", macFromPath(path))
	return nil
}
