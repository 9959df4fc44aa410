// Package event runs handlers for posted events, one at a time, on a
// single worker goroutine.
package event

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrStopped is returned for events posted to a stopped Loop.
var ErrStopped = errors.New("event loop stopped")

type Code int

type EventHandler interface {
	HandleEvent(arg interface{}) error
}

type HandlerFunc func(arg interface{}) error

func (f HandlerFunc) HandleEvent(arg interface{}) error {
	return f(arg)
}

type event struct {
	code Code
	arg  interface{}
	done chan error // nil for posted events
}

// A Loop dispatches events to the handler registered for their code.
// Handlers never run concurrently with each other. Handlers may Post
// but must not Call, which would wait on the worker they occupy.
type Loop struct {
	evtHandlers    map[Code]EventHandler
	defaultHandler EventHandler

	// OnError, if set, receives the errors of posted events.
	OnError func(c Code, err error)

	mu      sync.Mutex
	queue   []event
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func NewLoop() *Loop {
	return &Loop{
		evtHandlers: map[Code]EventHandler{},
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// HandleEvent registers h for c. It must be called before Start.
func (l *Loop) HandleEvent(c Code, h EventHandler) {
	l.evtHandlers[c] = h
}

// HandleEventDefault registers h for codes without a handler.
func (l *Loop) HandleEventDefault(h EventHandler) {
	l.defaultHandler = h
}

// Start starts the worker.
func (l *Loop) Start() {
	go l.run()
}

// Post queues an event and returns immediately.
func (l *Loop) Post(c Code, arg interface{}) error {
	return l.push(event{code: c, arg: arg})
}

// Call queues an event and waits for its handler to return.
func (l *Loop) Call(c Code, arg interface{}) error {
	done := make(chan error, 1)
	if err := l.push(event{code: c, arg: arg, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-l.done:
		// The worker may have finished the event just before exiting.
		select {
		case err := <-done:
			return err
		default:
			return ErrStopped
		}
	}
}

// Stop discards pending events and stops the worker once the current
// handler, if any, returns.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()
	l.signal()
}

// Done is closed when the worker has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) push(e event) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.queue = append(l.queue, e)
	l.mu.Unlock()
	l.signal()
	return nil
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) next() (event, bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return event{}, false, true
	}
	if len(l.queue) == 0 {
		return event{}, false, false
	}
	e := l.queue[0]
	l.queue[0] = event{}
	l.queue = l.queue[1:]
	return e, true, false
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		e, ok, stopped := l.next()
		if stopped {
			return
		}
		if !ok {
			<-l.wake
			continue
		}
		err := l.dispatch(e)
		if e.done != nil {
			e.done <- err
		} else if err != nil && l.OnError != nil {
			l.OnError(e.code, err)
		}
	}
}

func (l *Loop) dispatch(e event) error {
	if h, found := l.evtHandlers[e.code]; found {
		return h.HandleEvent(e.arg)
	}
	if l.defaultHandler != nil {
		return l.defaultHandler.HandleEvent(e.arg)
	}
	return nil
}
