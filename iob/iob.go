// Package iob provides a bounded, pooled I/O buffer chain used to hold
// segment payloads. Unlike a plain unbounded byte slice, a Chain is built from fixed-size pages borrowed from a Pool, so a stack
// with many connections cannot be driven to unbounded memory use by a
// misbehaving writer: once the pool is exhausted, Alloc reports
// ErrOutOfBuffers instead of growing.
package iob

import (
	"sync"

	"github.com/nandastack/nandastack/tcperr"
)

// PageSize is the size in bytes of one pooled page. A Chain is a sequence
// of pages; payloads that don't divide PageSize evenly use a partially
// filled tail page.
const PageSize = 2048

// page is one fixed-size buffer, always PageSize bytes of backing storage.
type page struct {
	buf [PageSize]byte
}

// Pool is a bounded source of pages. The zero value is not usable; call
// NewPool. A Pool is safe for concurrent use.
type Pool struct {
	mu       sync.Mutex
	free     []*page
	capacity int
	inUse    int
}

// NewPool creates a Pool able to hand out up to capacity pages
// simultaneously. Pages are allocated lazily on first use and recycled on
// Release, so capacity bounds peak memory rather than pre-allocating it.
func NewPool(capacity int) *Pool {
	return &Pool{capacity: capacity}
}

func (p *Pool) get() (*page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		pg := p.free[n-1]
		p.free = p.free[:n-1]
		p.inUse++
		return pg, nil
	}
	if p.inUse >= p.capacity {
		return nil, tcperr.ErrOutOfBuffers
	}
	p.inUse++
	return &page{}, nil
}

func (p *Pool) put(pg *page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inUse--
	p.free = append(p.free, pg)
}

// InUse reports the number of pages currently checked out of the pool.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Chain is a segment payload backed by pages borrowed from a Pool. The
// zero value is an empty chain; use Pool.Alloc to obtain one sized to
// hold a payload.
type Chain struct {
	pool  *Pool
	pages []*page

	// size is the number of logical bytes currently held, counted from
	// off. off is the index of the first live byte within pages[0],
	// advanced by TrimHead.
	off  int
	size int
}

// Alloc reserves enough pages from the pool to hold up to n bytes and
// returns an empty Chain (size 0) ready for CopyIn. It fails with
// ErrOutOfBuffers if the pool cannot supply enough pages.
func (p *Pool) Alloc(n int) (*Chain, error) {
	need := (n + PageSize - 1) / PageSize
	if need == 0 {
		need = 1
	}
	pages := make([]*page, 0, need)
	for i := 0; i < need; i++ {
		pg, err := p.get()
		if err != nil {
			for _, got := range pages {
				p.put(got)
			}
			return nil, err
		}
		pages = append(pages, pg)
	}
	return &Chain{pool: p, pages: pages}, nil
}

// CopyIn copies b into the chain, starting at the current end of the
// chain's content, and grows the logical size accordingly. It fails with
// ErrOutOfBuffers if b does not fit in the pages reserved by Alloc.
func (c *Chain) CopyIn(b []byte) (int, error) {
	if c.off+c.size+len(b) > len(c.pages)*PageSize {
		return 0, tcperr.ErrOutOfBuffers
	}
	written := 0
	start := c.off + c.size
	for written < len(b) {
		idx := (start + written) / PageSize
		pos := (start + written) % PageSize
		n := copy(c.pages[idx].buf[pos:], b[written:])
		written += n
	}
	c.size += len(b)
	return written, nil
}

// Len returns the number of logical bytes currently held by the chain.
func (c *Chain) Len() int {
	return c.size
}

// TrimHead irreversibly drops the first n bytes (n must be <= Len()).
func (c *Chain) TrimHead(n int) {
	if n <= 0 {
		return
	}
	if n > c.size {
		n = c.size
	}
	c.off += n
	c.size -= n

	// Release any pages now fully behind the offset back to the pool so
	// long-lived connections don't pin pages they no longer use.
	for len(c.pages) > 0 && c.off >= PageSize {
		c.pool.put(c.pages[0])
		c.pages = c.pages[1:]
		c.off -= PageSize
	}
}

// Bytes returns the logical content of the chain as a single contiguous
// slice, copying across page boundaries if necessary. The slice returned
// is owned by the caller and safe to use after Release.
func (c *Chain) Bytes(offset, n int) []byte {
	if offset < 0 {
		offset = 0
	}
	if offset+n > c.size {
		n = c.size - offset
	}
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	start := c.off + offset
	copied := 0
	for copied < n {
		idx := (start + copied) / PageSize
		pos := (start + copied) % PageSize
		k := copy(out[copied:], c.pages[idx].buf[pos:])
		copied += k
	}
	return out
}

// Release returns every page still held by the chain to its pool. The
// chain must not be used afterwards.
func (c *Chain) Release() {
	if c.pool == nil {
		return
	}
	for _, pg := range c.pages {
		c.pool.put(pg)
	}
	c.pages = nil
	c.size = 0
}
