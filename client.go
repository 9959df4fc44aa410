package gatt

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ClientCallbacks are the callbacks of one ClientSession. Any of them
// may be nil. They are called from the transport's goroutine, or from
// a goroutine of their own, never from within a ClientSession method.
type ClientCallbacks struct {
	// OnNotification is called when a subscribed characteristic is
	// notified or indicated.
	OnNotification func(c *RemoteCharacteristic, v []byte)

	// OnPropertyChanged is called once the remote device has accepted
	// a subscription change requested with SetNotify.
	OnPropertyChanged func(c *RemoteCharacteristic, notifying, indicating bool)

	// OnDisconnect is called when the remote device goes away.
	OnDisconnect func()
}

// A Client connects ClientSessions to remote devices over a Transport.
type Client struct {
	t      Transport
	logger *logrus.Logger

	mu     sync.Mutex
	nextID int
	peers  map[string]*Peripheral
}

// NewClient returns a Client using t.
func NewClient(t Transport, opts ...func(*Client)) *Client {
	c := &Client{
		t:      t,
		logger: logrus.StandardLogger(),
		peers:  make(map[string]*Peripheral),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientLogger sets the logger of a Client.
func ClientLogger(l *logrus.Logger) func(*Client) {
	return func(c *Client) { c.logger = l }
}

// Connect returns a new session on the remote device at addr. Sessions
// on the same address share one connection, which is closed when the
// last of them disconnects.
func (c *Client) Connect(addr BDAddr, cb ClientCallbacks) (*ClientSession, error) {
	if addr.IsBroadcast() {
		return nil, errors.New("connect: no device address")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := addr.String()
	p := c.peers[key]
	if p == nil {
		p = newPeripheral(c, addr)
		if err := c.t.Connect(addr, p); err != nil {
			return nil, errors.Wrapf(err, "connect %s", addr)
		}
		c.peers[key] = p
		c.logger.WithField("device", key).Debug("connected")
	}
	c.nextID++
	s := &ClientSession{id: c.nextID, c: c, p: p, cb: cb}
	p.attach(s)
	return s, nil
}

// forget drops p after a remote disconnect.
func (c *Client) forget(p *Peripheral) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := p.addr.String()
	if c.peers[key] == p {
		delete(c.peers, key)
	}
}

// A ClientSession is one local user of a remote device.
type ClientSession struct {
	id int
	c  *Client
	p  *Peripheral
	cb ClientCallbacks

	closed bool // guarded by c.mu
}

// ID returns the identifier assigned by Connect.
func (s *ClientSession) ID() int { return s.id }

// Peripheral returns the shared remote device.
func (s *ClientSession) Peripheral() *Peripheral { return s.p }

// Connected reports whether the session can issue requests.
func (s *ClientSession) Connected() bool {
	s.c.mu.Lock()
	closed := s.closed
	s.c.mu.Unlock()
	return !closed && s.p.isConnected()
}

// Disconnect closes the session. The connection to the remote device
// is closed with the last session using it.
func (s *ClientSession) Disconnect() error {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.p.detach(s.id) > 0 {
		return nil
	}
	key := s.p.addr.String()
	if c.peers[key] != s.p {
		// Already gone remotely.
		return nil
	}
	delete(c.peers, key)
	c.logger.WithField("device", key).Debug("disconnected")
	return errors.Wrapf(c.t.Disconnect(s.p.addr), "disconnect %s", key)
}

func (s *ClientSession) check(op string, h uint16) error {
	if !s.Connected() {
		return &ClientError{Op: op, Handle: h, Status: StatusIOError, Err: ErrNotConnected}
	}
	return nil
}

// Services returns the primary services of the remote device,
// discovering them on first use.
func (s *ClientSession) Services() ([]*RemoteService, error) {
	if err := s.check("discover services", 0); err != nil {
		return nil, err
	}
	return s.p.services()
}

// Refresh drops every cached service and characteristic of the remote
// device, for all sessions sharing it.
func (s *ClientSession) Refresh() {
	s.p.invalidate()
}

// ReadCharacteristic reads the value of c.
func (s *ClientSession) ReadCharacteristic(c *RemoteCharacteristic) ([]byte, error) {
	return s.read("read characteristic", c.vh)
}

// ReadDescriptor reads the value of d.
func (s *ClientSession) ReadDescriptor(d *RemoteDescriptor) ([]byte, error) {
	return s.read("read descriptor", d.h)
}

func (s *ClientSession) read(op string, h uint16) ([]byte, error) {
	if err := s.check(op, h); err != nil {
		return nil, err
	}
	v, st, err := s.c.t.Read(s.p.addr, h)
	if err != nil {
		return nil, &ClientError{Op: op, Handle: h, Status: StatusIOError, Err: err}
	}
	if st != StatusSuccess {
		return nil, &ClientError{Op: op, Handle: h, Status: st}
	}
	return v, nil
}

// WriteCharacteristic writes v to c, waiting for the remote response
// if withResponse is set.
func (s *ClientSession) WriteCharacteristic(c *RemoteCharacteristic, v []byte, withResponse bool) error {
	if err := s.check("write characteristic", c.vh); err != nil {
		return err
	}
	if !withResponse {
		if err := s.c.t.WriteCommand(s.p.addr, c.vh, v); err != nil {
			return &ClientError{Op: "write command", Handle: c.vh, Status: StatusIOError, Err: err}
		}
		return nil
	}
	return s.write("write characteristic", c.vh, v)
}

func (s *ClientSession) write(op string, h uint16, v []byte) error {
	st, err := s.c.t.Write(s.p.addr, h, v)
	if err != nil {
		return &ClientError{Op: op, Handle: h, Status: StatusIOError, Err: err}
	}
	if st != StatusSuccess {
		return &ClientError{Op: op, Handle: h, Status: st}
	}
	return nil
}

// SetNotify subscribes to, or unsubscribes from, notifications of c, or
// indications if indicate is set. The new state is reported through
// OnPropertyChanged once the remote device has accepted it; it is
// never visible when SetNotify returns.
func (s *ClientSession) SetNotify(c *RemoteCharacteristic, enable, indicate bool) error {
	if err := s.check("set notify", c.vh); err != nil {
		return err
	}
	if c.ccc == 0 {
		return &ClientError{Op: "set notify", Handle: c.vh, Status: StatusRequestNotSupported}
	}
	var flag uint16
	switch {
	case !enable:
	case indicate:
		flag = CCCIndicateFlag
	default:
		flag = CCCNotifyFlag
	}
	if err := s.write("set notify", c.ccc, []byte{byte(flag), byte(flag >> 8)}); err != nil {
		return err
	}
	notifying, indicating := flag == CCCNotifyFlag, flag == CCCIndicateFlag
	go s.p.propertyChanged(c, notifying, indicating)
	return nil
}
