// BufferPool reuses line-assembly buffers across frames the way the
// teacher's transport.ConnPool reused connections: a buffered channel acts
// as a bounded FIFO, growing lazily up to a cap and blocking callers past
// that cap until a buffer is returned.
package protocol

import "sync"

// BufferPool hands out []byte scratch buffers for frame encoding, sized to
// avoid a fresh allocation on every Write call under steady-state load.
type BufferPool struct {
	mu       sync.Mutex
	free     chan []byte
	maxBufs  int
	curBufs  int
	bufSize  int
}

// NewBufferPool creates a pool with the given capacity and initial buffer
// size. Buffers are created lazily.
func NewBufferPool(maxBufs, bufSize int) *BufferPool {
	return &BufferPool{
		free:    make(chan []byte, maxBufs),
		maxBufs: maxBufs,
		bufSize: bufSize,
	}
}

// Get returns a buffer, blocking only if the pool is at capacity and every
// buffer is checked out.
func (p *BufferPool) Get() []byte {
	select {
	case buf := <-p.free:
		return buf[:0]
	default:
		p.mu.Lock()
		if p.curBufs < p.maxBufs {
			p.curBufs++
			p.mu.Unlock()
			return make([]byte, 0, p.bufSize)
		}
		p.mu.Unlock()
		return (<-p.free)[:0]
	}
}

// Put returns a buffer to the pool for reuse. Oversized buffers are
// dropped rather than retained, so one large frame doesn't permanently
// inflate the pool's memory footprint.
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) > p.bufSize*4 {
		p.mu.Lock()
		p.curBufs--
		p.mu.Unlock()
		return
	}
	select {
	case p.free <- buf:
	default:
	}
}
