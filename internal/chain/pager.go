package chain

import "fmt"

// BlockRange is an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// pager walks [from, to] in windows of at most size blocks.
type pager struct {
	next uint64
	to   uint64
	size uint64
	done bool
}

func newPager(from, to, size uint64) (*pager, error) {
	if size == 0 {
		return nil, fmt.Errorf("page size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block %d is before from block %d", to, from)
	}
	return &pager{next: from, to: to, size: size}, nil
}

// peek returns the current window without consuming it.
func (p *pager) peek() (BlockRange, bool) {
	if p == nil || p.done {
		return BlockRange{}, false
	}
	end := p.to
	if p.to-p.next >= p.size {
		end = p.next + p.size - 1
	}
	return BlockRange{From: p.next, To: end}, true
}

// advance consumes the current window.
func (p *pager) advance() {
	window, ok := p.peek()
	if !ok {
		return
	}
	if window.To == p.to {
		p.done = true
		return
	}
	p.next = window.To + 1
}

// pages reports how many windows remain.
func (p *pager) pages() uint64 {
	if p == nil || p.done {
		return 0
	}
	return (p.to-p.next)/p.size + 1
}
