package bluetooth

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/pkg/errors"
)

var agent1IntrospectData = introspect.Interface{
	Name: BLUEZ_AGENT_INTERFACE,
	Methods: []introspect.Method{
		{Name: "Release"},
		{
			Name: "RequestPinCode",
			Args: []introspect.Arg{
				{Name: "device", Type: "o", Direction: "in"},
				{Name: "pincode", Type: "s", Direction: "out"},
			},
		},
		{
			Name: "DisplayPinCode",
			Args: []introspect.Arg{
				{Name: "device", Type: "o", Direction: "in"},
				{Name: "pincode", Type: "s", Direction: "in"},
			},
		},
		{
			Name: "RequestPasskey",
			Args: []introspect.Arg{
				{Name: "device", Type: "o", Direction: "in"},
				{Name: "passkey", Type: "u", Direction: "out"},
			},
		},
		{
			Name: "DisplayPasskey",
			Args: []introspect.Arg{
				{Name: "device", Type: "o", Direction: "in"},
				{Name: "passkey", Type: "u", Direction: "in"},
				{Name: "entered", Type: "q", Direction: "in"},
			},
		},
		{
			Name: "RequestConfirmation",
			Args: []introspect.Arg{
				{Name: "device", Type: "o", Direction: "in"},
				{Name: "passkey", Type: "u", Direction: "in"},
			},
		},
		{
			Name: "RequestAuthorization",
			Args: []introspect.Arg{
				{Name: "device", Type: "o", Direction: "in"},
			},
		},
		{
			Name: "AuthorizeService",
			Args: []introspect.Arg{
				{Name: "device", Type: "o", Direction: "in"},
				{Name: "uuid", Type: "s", Direction: "in"},
			},
		},
		{Name: "Cancel"},
	},
}

var agentIntrospectData = introspect.Node{
	Interfaces: []introspect.Interface{
		introspect.IntrospectData,
		agent1IntrospectData,
	},
}

// Truster marks a device trusted for automatic reconnection.
type Truster interface {
	TrustDevice(ctx context.Context, address string) error
}

var errAgentReleased = errors.New("agent released by bluetoothd")

// Agent is the BlueZ pairing agent of record. It accepts every pairing
// (trust on first use, no PIN) and only authorizes audio sink services.
//
// The agent never reconnects: losing the bus, losing org.bluez or being
// released ends Run with an error and the process is expected to exit
// non-zero so systemd restarts it.
type Agent struct {
	conn    *dbus.Conn
	bus     Bus
	export  func(v interface{}, path dbus.ObjectPath, iface string) error
	path    dbus.ObjectPath
	truster Truster
	timeout time.Duration

	fatalOnce sync.Once
	fatal     chan error
}

// NewAgent creates an agent exported at path (e.g. "/org/bluez/AutoPairAgent").
func NewAgent(conn *dbus.Conn, path string, truster Truster, timeout time.Duration) *Agent {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	a := &Agent{
		conn:    conn,
		path:    dbus.ObjectPath(path),
		truster: truster,
		timeout: timeout,
		fatal:   make(chan error, 1),
	}
	if conn != nil {
		a.bus = NewBus(conn)
		a.export = conn.Export
	}
	return a
}

// Register exports the Agent1 object and makes it the default agent.
func (a *Agent) Register(ctx context.Context) error {
	if err := a.export(&agent1{agent: a}, a.path, BLUEZ_AGENT_INTERFACE); err != nil {
		return errors.Wrapf(ErrAgentRegistration, "export agent at %s: %v", a.path, err)
	}
	if err := a.export(introspect.NewIntrospectable(&agentIntrospectData), a.path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return errors.Wrapf(ErrAgentRegistration, "export agent introspection: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	err := a.bus.Call(ctx, BLUEZ_OBJECT_PATH, BLUEZ_AGENT_MANAGER+".RegisterAgent", a.path, AGENT_CAPABILITY)
	if err != nil {
		return errors.Wrapf(ErrAgentRegistration, "register bluetooth pairing agent: %v", err)
	}
	err = a.bus.Call(ctx, BLUEZ_OBJECT_PATH, BLUEZ_AGENT_MANAGER+".RequestDefaultAgent", a.path)
	if err != nil {
		a.unregister()
		return errors.Wrapf(ErrAgentRegistration, "request default agent: %v", err)
	}

	log.Printf("BT_AGENT: Agent registered at %s and set as default (%s)", a.path, AGENT_CAPABILITY)
	return nil
}

func (a *Agent) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.bus.Call(ctx, BLUEZ_OBJECT_PATH, BLUEZ_AGENT_MANAGER+".UnregisterAgent", a.path); err != nil {
		log.Printf("BT_AGENT: Failed to unregister agent: %v", err)
		return
	}
	log.Println("BT_AGENT: Agent unregistered")
}

// Run blocks until ctx is cancelled (clean shutdown, returns nil) or a
// fatal bus condition occurs (returns the cause).
func (a *Agent) Run(ctx context.Context) error {
	if err := a.conn.AddMatchSignal(
		dbus.WithMatchInterface(DBUS_INTERFACE),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, BLUEZ_BUS_NAME),
	); err != nil {
		return errors.Wrap(err, "subscribe to NameOwnerChanged")
	}
	signals := make(chan *dbus.Signal, 8)
	a.conn.Signal(signals)
	defer a.conn.RemoveSignal(signals)

	log.Println("BT_AGENT: Bluetooth auto-pair agent running")
	for {
		select {
		case <-ctx.Done():
			a.unregister()
			return nil
		case <-a.conn.Context().Done():
			return errors.New("system bus connection closed")
		case err := <-a.fatal:
			return err
		case sig, ok := <-signals:
			if !ok {
				return errors.New("system bus signal channel closed")
			}
			if lost := bluezOwnerLost(sig); lost {
				return errors.New("org.bluez left the system bus")
			}
		}
	}
}

// bluezOwnerLost reports whether sig announces that org.bluez lost its
// owner (bluetoothd stopped or restarted).
func bluezOwnerLost(sig *dbus.Signal) bool {
	if sig == nil || sig.Name != DBUS_NAME_OWNER_CHANGED || len(sig.Body) < 3 {
		return false
	}
	name, _ := sig.Body[0].(string)
	newOwner, _ := sig.Body[2].(string)
	return name == BLUEZ_BUS_NAME && newOwner == ""
}

func (a *Agent) fail(err error) {
	a.fatalOnce.Do(func() {
		a.fatal <- err
	})
}

// OnPairingRequest answers every pairing or connection authorization
// request with "accept" and trusts the device so it can reconnect later.
//
// TODO: an allow-list of addresses would slot in here if the receiver
// ever needs to refuse unknown phones.
func (a *Agent) OnPairingRequest(device dbus.ObjectPath) bool {
	address := macFromPath(device)
	log.Printf("BT_AGENT: Auto-accepting pairing for %s", address)

	// Trust from a separate goroutine: bluetoothd is still waiting for our
	// reply to the agent call.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.truster.TrustDevice(ctx, address); err != nil {
			log.Printf("BT_AGENT: Failed to trust %s: %v", address, err)
		}
	}()
	return true
}

// OnAuthorizeService accepts audio sink profiles and rejects the rest.
func (a *Agent) OnAuthorizeService(device dbus.ObjectPath, uuid string) error {
	address := macFromPath(device)
	if audioSinkProfiles[canonicalUUID(uuid)] {
		log.Printf("BT_AGENT: Authorized service %s for %s", uuid, address)
		return nil
	}
	log.Printf("BT_AGENT: Rejected service %s for %s", uuid, address)
	return errors.Wrapf(ErrServiceRejected, "service %s", uuid)
}

// agent1 is the object exported on the bus. Only the org.bluez.Agent1
// methods live here so nothing else on Agent becomes callable over D-Bus.
type agent1 struct {
	agent *Agent
}

func rejected() *dbus.Error {
	return dbus.NewError(BLUEZ_ERROR_REJECTED, []interface{}{"Rejected"})
}

func (b *agent1) Release() *dbus.Error {
	log.Println("BT_AGENT: Agent released")
	b.agent.fail(errAgentReleased)
	return nil
}

func (b *agent1) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	log.Printf("BT_AGENT: PIN code requested for %s", device)
	if !b.agent.OnPairingRequest(device) {
		return "", rejected()
	}
	return "0000", nil
}

func (b *agent1) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	log.Printf("BT_AGENT: Display PIN %s for %s", pincode, device)
	return nil
}

func (b *agent1) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	log.Printf("BT_AGENT: Passkey requested for %s", device)
	if !b.agent.OnPairingRequest(device) {
		return 0, rejected()
	}
	return 0, nil
}

func (b *agent1) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	log.Printf("BT_AGENT: Display passkey %06d for %s (entered %d)", passkey, device, entered)
	return nil
}

func (b *agent1) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	log.Printf("BT_AGENT: Confirmation requested for %s with passkey %06d", device, passkey)
	if !b.agent.OnPairingRequest(device) {
		return rejected()
	}
	return nil
}

func (b *agent1) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	if !b.agent.OnPairingRequest(device) {
		return rejected()
	}
	return nil
}

func (b *agent1) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	if err := b.agent.OnAuthorizeService(device, uuid); err != nil {
		return rejected()
	}
	return nil
}

func (b *agent1) Cancel() *dbus.Error {
	log.Println("BT_AGENT: Pairing cancelled")
	return nil
}
