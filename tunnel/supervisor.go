package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// State is a lifecycle state of the Supervisor
type State int32

const (
	StateSetup      State = iota // provisioning the device
	StateRunning                 // both workers relaying
	StateDraining                // a worker stopped or termination was requested
	StateTerminated              // all workers stopped, device closed
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "SETUP"
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateTerminated:
		return "TERMINATED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Binder provisions the virtual CAN interface backing the device side of a tunnel
type Binder interface {
	// Bind creates a CAN interface named as close to name as possible and
	// returns the descriptor carrying its SLCAN traffic and the actual name.
	Bind(name string) (dev io.ReadWriteCloser, ifname string, err error)
	// BringUp sets the interface up
	BringUp(ifname string) error
}

// SetupError is returned by Run if the device could not be provisioned
type SetupError struct {
	Op   string
	Name string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("tunnel: %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// ErrForcedShutdown is returned by Run if a worker ignored the termination
// request and its descriptors had to be closed under it.
var ErrForcedShutdown = errors.New("tunnel: workers did not stop within the grace period")

// Shutdown timing defaults
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultGracePeriod  = 2 * time.Second
)

// Config holds the settings of a tunnel
type Config struct {
	// Name is the desired CAN interface name
	Name string
	// Compress selects the compact frame encoding on the external stream
	Compress bool

	PollInterval time.Duration
	GracePeriod  time.Duration
}

// Supervisor runs the two relay workers of a tunnel and drives its shutdown
type Supervisor struct {
	Config

	binder Binder
	source io.ReadCloser
	sink   io.WriteCloser

	// OnState is called on every state transition, if set before Run
	OnState func(State)

	state  atomic.Int32
	stats  Stats
	mu     sync.Mutex
	ifname string
}

// NewSupervisor creates a Supervisor relaying between the device provided by
// b and the external stream given as source and sink.
func NewSupervisor(cfg Config, b Binder, source io.ReadCloser, sink io.WriteCloser) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Supervisor{
		Config: cfg,
		binder: b,
		source: source,
		sink:   sink,
	}
}

// State returns the current lifecycle state
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		log.Debugf("State changed: %v --> %v", prev, st)
	}
	if s.OnState != nil {
		s.OnState(st)
	}
}

// Interface returns the actual CAN interface name once setup succeeded
func (s *Supervisor) Interface() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ifname
}

// Status is a snapshot of a running tunnel
type Status struct {
	State     State             `json:"state"`
	Interface string            `json:"interface,omitempty"`
	Compress  bool              `json:"compress"`
	Inbound   DirectionSnapshot `json:"inbound"`
	Outbound  DirectionSnapshot `json:"outbound"`
}

// Status returns the current state and counters
func (s *Supervisor) Status() Status {
	return Status{
		State:     s.State(),
		Interface: s.Interface(),
		Compress:  s.Compress,
		Inbound:   s.stats.Inbound.Snapshot(),
		Outbound:  s.stats.Outbound.Snapshot(),
	}
}

// Run provisions the device and relays until one direction ends, a worker
// fails or ctx is cancelled. It returns nil after an orderly shutdown, a
// *SetupError if the device could not be provisioned and ErrForcedShutdown
// if blocked workers had to be cancelled by closing their descriptors.
func (s *Supervisor) Run(ctx context.Context) error {
	s.setState(StateSetup)
	dev, err := s.setup()
	if err != nil {
		log.WithField("name", s.Name).Error(err)
		s.setState(StateTerminated)
		return err
	}
	l := log.WithField("interface", dev.Name)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan Completion, 2)
	go func() {
		events <- Relay(wctx, Inbound, s.source, s.Compress, dev, false, s.stats.direction(Inbound))
	}()
	go func() {
		events <- Relay(wctx, Outbound, dev, false, s.sink, s.Compress, s.stats.direction(Outbound))
	}()
	running := 2
	s.setState(StateRunning)
	l.WithField("compress", s.Compress).Info("SLCAN tunnel running")

	select {
	case ev := <-events:
		running--
		s.completed(ev)
	case <-ctx.Done():
		l.Info("termination requested")
	}

	s.setState(StateDraining)
	cancel()
	s.interrupt(dev)

	if running = s.drain(events, running); running > 0 {
		l.Warnf("%d worker(s) still blocked after %v, closing descriptors", running, s.GracePeriod)
		err = ErrForcedShutdown
		s.closeAll(dev)
		if running = s.drain(events, running); running > 0 {
			l.Errorf("abandoning %d blocked worker(s)", running)
		}
	}
	s.closeAll(dev)

	s.setState(StateTerminated)
	l.Info("SLCAN tunnel terminated")
	return err
}

func (s *Supervisor) setup() (*Device, error) {
	conn, ifname, err := s.binder.Bind(s.Name)
	if err != nil {
		return nil, &SetupError{Op: "bind", Name: s.Name, Err: err}
	}
	if err := s.binder.BringUp(ifname); err != nil {
		conn.Close()
		return nil, &SetupError{Op: "bring up", Name: ifname, Err: err}
	}
	s.mu.Lock()
	s.ifname = ifname
	s.mu.Unlock()
	log.Infof("SLCAN netdev: '%s'", ifname)
	return NewDevice(conn, ifname), nil
}

func (s *Supervisor) completed(ev Completion) {
	l := log.WithFields(log.Fields{"direction": ev.Direction, "reason": ev.Reason})
	if ev.Err != nil && ev.Reason == ReasonIOFailure {
		l.Warnf("relay stopped: %v", ev.Err)
		return
	}
	l.Info("relay stopped")
}

// interrupt asks blocked readers to return by setting an immediate read
// deadline on every descriptor supporting one.
func (s *Supervisor) interrupt(dev *Device) {
	now := time.Now()
	for _, r := range []interface{}{s.source, dev} {
		d, ok := r.(interface{ SetReadDeadline(time.Time) error })
		if !ok {
			continue
		}
		if err := d.SetReadDeadline(now); err != nil {
			log.Debugf("can not interrupt %T: %v", r, err)
		}
	}
}

// drain polls for worker completions until none is running or the grace
// period has passed, and returns the number of workers still running.
func (s *Supervisor) drain(events <-chan Completion, running int) int {
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(s.GracePeriod)

	for running > 0 {
		select {
		case ev := <-events:
			running--
			s.completed(ev)
		case now := <-ticker.C:
			if !now.Before(deadline) {
				return running
			}
			log.Debugf("waiting for %d worker(s)", running)
		}
	}
	return running
}

// closeAll closes the external stream and the device. Errors from closing
// an already closed descriptor are expected here and only logged.
func (s *Supervisor) closeAll(dev *Device) {
	for _, c := range []io.Closer{s.source, s.sink, dev} {
		if err := c.Close(); err != nil {
			log.Debugf("close %T: %v", c, err)
		}
	}
}
