package comm

import (
	"io"
	"sync"
	"time"
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// it is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int                     // number of connections given out, <= cap(conns)
	timeout time.Duration           // time after all are returned to free all connections
	conns   chan io.ReadWriteCloser // the circular buffer of connections
	timer   *time.Timer             // timer used to destroy connections in the pool after all are returned
	maker   CreationFunc

	mu *sync.Mutex
}

// NewPool returns a pool of at most maxSize connections made by maker,
// all of which are closed once the pool has been idle for timeout
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		maker:   maker,
		mu:      &sync.Mutex{},
	}
	return p
}

// Get retrieves a communicator from the channel, blocking until one is
// available if all are in use.  It is guaranteed that there is no contestion
// for the ReadWriter.
//
// When done with the communicator, return it with Put(), or discard it with
// Destroy() if it has become no good (e.g., all calls error).
// ReturnWithError picks between the two.
//
// If the error from Get is not nil, you must not return it
// to the pool, or you will cause a panic.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
	}
	// short circuit: if a connection is available, immediately return it
	select {
	case ret := <-p.conns:
		p.onLease++
		p.mu.Unlock()
		return ret, nil
	default:
	}
	if p.onLease == p.maxSize {
		p.mu.Unlock()
		// wait for one to come back
		ret := <-p.conns
		p.mu.Lock()
		p.onLease++
		p.mu.Unlock()
		return ret, nil
	}
	defer p.mu.Unlock()
	// only increment the lease count if we are giving out something
	// other than garbage
	c, err := p.maker()
	if err != nil {
		return nil, err
	}
	p.onLease++
	return c, nil
}

// Put restores a communicator to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timout
// has elapsed.
func (p *Pool) Put(rw io.ReadWriter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns <- rw.(io.ReadWriteCloser)
	p.onLease--
	if p.onLease == 0 {
		p.startReclaim()
	}
}

// Destroy immediately frees a communicator from the pool.  This should be used
// instead of Put if the communicator has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rw.(io.ReadWriteCloser).Close()
	p.onLease--
}

// ReturnWithError returns the communicator to the pool if err is nil,
// and destroys it otherwise
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + p.onLease
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// startReclaim arms the idle timer; when it fires every idle connection is
// closed.  p.mu must be held.
func (p *Pool) startReclaim() {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.timeout, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.onLease != 0 {
			return
		}
		for {
			select {
			case c := <-p.conns:
				c.Close()
			default:
				return
			}
		}
	})
}

// Close stops the idle timer and closes every idle connection in the pool.
// Connections on lease are not touched.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	for {
		select {
		case c := <-p.conns:
			c.Close()
		default:
			return
		}
	}
}
