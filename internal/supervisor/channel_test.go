package supervisor_test

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"mnemo/internal/transport"
	"mnemo/internal/wire"
)

// fakeChannel is a scriptable transport.Channel. Its onSend hook decides how
// the pretend worker reacts to each frame.
type fakeChannel struct {
	onSend   func(c *fakeChannel, line []byte)
	startErr error

	mu     sync.Mutex
	events chan transport.Event
	exited bool
	sent   [][]byte
}

func newFakeChannel(onSend func(*fakeChannel, []byte)) *fakeChannel {
	return &fakeChannel{
		onSend: onSend,
		events: make(chan transport.Event, 64),
	}
}

func (c *fakeChannel) Start() error { return c.startErr }

func (c *fakeChannel) Send(line []byte) error {
	c.mu.Lock()
	if c.exited {
		c.mu.Unlock()
		return errors.New("worker process has exited")
	}
	cp := append([]byte(nil), line...)
	c.sent = append(c.sent, cp)
	hook := c.onSend
	c.mu.Unlock()

	if hook != nil {
		go hook(c, cp)
	}
	return nil
}

func (c *fakeChannel) Events() <-chan transport.Event { return c.events }

func (c *fakeChannel) Kill(time.Duration) error {
	c.exit(-1, "SIGTERM")
	return nil
}

func (c *fakeChannel) PID() int { return 4242 }

func (c *fakeChannel) emitLine(line []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.exited {
		c.events <- transport.Event{Kind: transport.EventLine, Line: line}
	}
}

func (c *fakeChannel) emitStderr(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.exited {
		c.events <- transport.Event{Kind: transport.EventStderr, Stderr: text}
	}
}

func (c *fakeChannel) exit(code int, signal string) {
	c.mu.Lock()
	if c.exited {
		c.mu.Unlock()
		return
	}
	c.exited = true
	c.mu.Unlock()
	c.events <- transport.Event{Kind: transport.EventExit, ExitCode: code, Signal: signal}
	close(c.events)
}

var _ transport.Channel = (*fakeChannel)(nil)

// fakeFactory hands out fake channels and remembers every one it made so
// tests can count spawns and reach into specific channels.
type fakeFactory struct {
	mu       sync.Mutex
	onSend   func(*fakeChannel, []byte)
	startErr error
	made     []*fakeChannel
}

func (f *fakeFactory) new(transport.Command) transport.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := newFakeChannel(f.onSend)
	c.startErr = f.startErr
	f.made = append(f.made, c)
	return c
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.made)
}

func (f *fakeFactory) channel(i int) *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.made) {
		return nil
	}
	return f.made[i]
}

func (f *fakeFactory) setStartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *fakeFactory) setOnSend(hook func(*fakeChannel, []byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSend = hook
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func reply(c *fakeChannel, id string, result any) {
	line, err := wire.EncodeLine(wire.Response{JSONRPC: wire.Version, ID: id, Result: mustMarshal(result)})
	if err != nil {
		panic(err)
	}
	c.emitLine(line)
}

func replyError(c *fakeChannel, id string, code int, message string) {
	line, err := wire.EncodeLine(wire.Response{
		JSONRPC: wire.Version,
		ID:      id,
		Error:   &wire.ErrorObject{Code: code, Message: message},
	})
	if err != nil {
		panic(err)
	}
	c.emitLine(line)
}

// echoWorker answers every request successfully, with a valid handshake.
func echoWorker(c *fakeChannel, line []byte) {
	req, err := wire.DecodeRequest(line)
	if err != nil {
		return
	}
	switch req.Method {
	case wire.MethodHandshake:
		reply(c, req.ID, wire.HandshakeResult{Protocol: wire.ProtocolVersion, Worker: "fake", PID: 4242})
	default:
		reply(c, req.ID, wire.PingResult{Status: "ok"})
	}
}

// handshakeOnlyWorker completes the handshake but ignores everything else,
// leaving later requests pending forever.
func handshakeOnlyWorker(c *fakeChannel, line []byte) {
	req, err := wire.DecodeRequest(line)
	if err != nil {
		return
	}
	if req.Method == wire.MethodHandshake {
		reply(c, req.ID, wire.HandshakeResult{Protocol: wire.ProtocolVersion, Worker: "fake"})
	}
}

// silentWorker never answers anything.
func silentWorker(*fakeChannel, []byte) {}
