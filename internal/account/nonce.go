package account

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceSource returns the pending-inclusive transaction count of an address.
type NonceSource interface {
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
}

type nonceState struct {
	mu     sync.Mutex
	next   uint64
	loaded bool
}

// NonceAllocator hands out strictly increasing nonces per account. The first
// allocation for an account fetches the pending count from the chain; later
// ones increment locally. Nonces consumed by failed sends are not reclaimed,
// so callers Reset between runs to resync with the chain.
type NonceAllocator struct {
	source NonceSource

	mu     sync.Mutex
	states map[common.Address]*nonceState
}

// NewNonceAllocator creates an allocator backed by source.
func NewNonceAllocator(source NonceSource) *NonceAllocator {
	return &NonceAllocator{
		source: source,
		states: make(map[common.Address]*nonceState),
	}
}

func (n *NonceAllocator) state(addr common.Address) *nonceState {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, ok := n.states[addr]
	if !ok {
		st = &nonceState{}
		n.states[addr] = st
	}
	return st
}

// Allocate returns the next nonce for addr. A failed chain fetch is not
// cached; the next call retries it.
func (n *NonceAllocator) Allocate(ctx context.Context, addr common.Address) (uint64, error) {
	st := n.state(addr)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.loaded {
		pending, err := n.source.PendingNonce(ctx, addr)
		if err != nil {
			return 0, fmt.Errorf("fetch pending nonce for %s: %w", addr.Hex(), err)
		}
		st.next = pending
		st.loaded = true
	}

	nonce := st.next
	st.next++
	return nonce, nil
}

// Reset forgets addr so the next Allocate resyncs from the chain.
func (n *NonceAllocator) Reset(addr common.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.states, addr)
}
