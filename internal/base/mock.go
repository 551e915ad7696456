package base

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// TestablePort implements TimeoutPort with configurable behaviour for tests.
// Reads block until data is added, an error is injected or the port is
// closed, which mirrors a quiet serial device.
type TestablePort struct {
	mu   sync.Mutex
	cond *sync.Cond

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer

	readErr  error
	writeErr error
	closeErr error
	closed   bool

	readTimeout time.Duration
	readCalls   int
	writeCalls  int
}

// NewTestablePort returns an open port with empty buffers.
func NewTestablePort() *TestablePort {
	p := &TestablePort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Read returns buffered data, blocking while the buffer is empty. An
// injected error is returned once and then cleared.
func (p *TestablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.readCalls++
	for !p.closed && p.readErr == nil && p.readBuf.Len() == 0 {
		p.cond.Wait()
	}
	if p.readErr != nil {
		err := p.readErr
		p.readErr = nil
		return 0, err
	}
	if p.closed && p.readBuf.Len() == 0 {
		return 0, errors.New("port closed")
	}
	return p.readBuf.Read(b)
}

// Write captures data, or returns an injected error once.
func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.writeCalls++
	if p.closed {
		return 0, errors.New("port closed")
	}
	if p.writeErr != nil {
		err := p.writeErr
		p.writeErr = nil
		return 0, err
	}
	return p.writeBuf.Write(b)
}

// Close marks the port closed and wakes blocked readers.
func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.cond.Broadcast()
	return p.closeErr
}

// SetReadTimeout records the requested timeout.
func (p *TestablePort) SetReadTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.readTimeout = timeout
	return nil
}

// AddReadData appends data for subsequent reads and wakes a blocked reader.
func (p *TestablePort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.readBuf.Write(data)
	p.cond.Signal()
}

// FailNextRead makes the next Read return err.
func (p *TestablePort) FailNextRead(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.readErr = err
	p.cond.Broadcast()
}

// FailNextWrite makes the next Write return err.
func (p *TestablePort) FailNextWrite(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.writeErr = err
}

// SetCloseError makes Close return err.
func (p *TestablePort) SetCloseError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closeErr = err
}

// WrittenData returns a copy of everything written to the port.
func (p *TestablePort) WrittenData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]byte(nil), p.writeBuf.Bytes()...)
}

// Closed reports whether Close was called.
func (p *TestablePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

// ReadTimeout returns the timeout recorded by SetReadTimeout.
func (p *TestablePort) ReadTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.readTimeout
}

// OpenCall records one Open invocation on a TestableFactory.
type OpenCall struct {
	Path string
	Opts PortOptions
}

// TestableFactory returns a preconfigured port or error from Open and
// records every call.
type TestableFactory struct {
	mu sync.Mutex

	Port Port
	Err  error

	opened []OpenCall
}

// NewTestableFactory wraps port in a factory for injection into a
// controller.
func NewTestableFactory(port Port) *TestableFactory {
	return &TestableFactory{Port: port}
}

// Open returns the configured port or error.
func (f *TestableFactory) Open(path string, opts PortOptions) (Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opened = append(f.opened, OpenCall{Path: path, Opts: opts})
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Port, nil
}

// OpenCalls returns a copy of the recorded Open invocations.
func (f *TestableFactory) OpenCalls() []OpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]OpenCall(nil), f.opened...)
}
