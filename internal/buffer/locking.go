package buffer

import "sync"

// locker is the subset of sync.Locker that Locking depends on. The unsafe
// variant below satisfies it with no-ops.
type locker interface {
	Lock()
	Unlock()
}

type noopLock struct{}

func (noopLock) Lock()   {}
func (noopLock) Unlock() {}

// Locking pairs a Buffer with an optional mutex. Lock returns a scoped
// *Proxy granting exclusive access for its lifetime; Unlock (or a deferred
// call to Proxy.Unlock) releases it. Proxies must not be retained across
// suspension points — there are none in this codebase's single-threaded
// pipe loop, but Locking is also handed to worker-pool goroutines, where
// the real mutex variant matters.
type Locking struct {
	buf  *Buffer
	lock locker
}

// NewLocking returns a Locking buffer guarded by a real mutex, safe to share
// between the event loop goroutine and worker-pool goroutines.
func NewLocking(capHint int) *Locking {
	return &Locking{buf: New(capHint), lock: &sync.Mutex{}}
}

// NewUnsafe returns a Locking buffer with no mutex. Use only when the pipe
// that owns it is guaranteed to be touched from a single goroutine.
func NewUnsafe(capHint int) *Locking {
	return &Locking{buf: New(capHint), lock: noopLock{}}
}

// Proxy is the scoped, exclusive accessor returned by Locking.Lock.
type Proxy struct {
	buf  *Buffer
	lock locker
	done bool
}

// Lock acquires exclusive access and returns a proxy. Call Unlock (or
// defer it) exactly once.
func (l *Locking) Lock() *Proxy {
	l.lock.Lock()
	return &Proxy{buf: l.buf, lock: l.lock}
}

// Unlock releases the proxy. Safe to call multiple times; only the first
// call has an effect.
func (p *Proxy) Unlock() {
	if p.done {
		return
	}
	p.done = true
	p.lock.Unlock()
}

func (p *Proxy) Size() int            { return p.buf.Size() }
func (p *Proxy) Append(data []byte)   { p.buf.Append(data) }
func (p *Proxy) Reserve(n int) []byte { return p.buf.Reserve(n) }
func (p *Proxy) Commit(n int)         { p.buf.Commit(n) }
func (p *Proxy) Consume(n int)        { p.buf.Consume(n) }
func (p *Proxy) AsView() []byte       { return p.buf.AsView() }
