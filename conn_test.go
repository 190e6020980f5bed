package main

import "sync"

// fakeConn records every event sent to it so tests can assert on outbound
// traffic without a real websocket.
type fakeConn struct {
	id   string
	name string

	mu     sync.Mutex
	events []fakeEvent
}

type fakeEvent struct {
	event string
	data  interface{}
}

func newFakeConn(id, name string) *fakeConn {
	return &fakeConn{id: id, name: name}
}

func (f *fakeConn) ID() string   { return f.id }
func (f *fakeConn) Name() string { return f.name }

func (f *fakeConn) Send(event string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fakeEvent{event: event, data: data})
}

// count returns how many times an event type was received.
func (f *fakeConn) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, e := range f.events {
		if e.event == event {
			n++
		}
	}
	return n
}

// last returns the payload of the most recent event of the given type.
func (f *fakeConn) last(event string) (interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].event == event {
			return f.events[i].data, true
		}
	}
	return nil, false
}

// resolverFor builds a SwapManager resolve function over a fixed set of fakes.
func resolverFor(conns ...*fakeConn) func(string) (clientConn, bool) {
	byID := make(map[string]*fakeConn, len(conns))
	for _, c := range conns {
		byID[c.id] = c
	}
	return func(id string) (clientConn, bool) {
		c, ok := byID[id]
		return c, ok
	}
}
