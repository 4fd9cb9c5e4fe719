package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/web3guy0/tradeguard/strategy"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ROUTER - Routes signals to the worker that owns their symbol
// ═══════════════════════════════════════════════════════════════════════════════

type Router struct {
	mu      sync.RWMutex
	workers map[string]*SymbolWorker // symbol -> worker
}

// NewRouter creates a new signal router
func NewRouter() *Router {
	return &Router{
		workers: make(map[string]*SymbolWorker),
	}
}

// Register makes w the owner of its symbol
func (r *Router) Register(w *SymbolWorker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[w.Symbol()]; ok {
		return fmt.Errorf("symbol %s already has a worker", w.Symbol())
	}
	r.workers[w.Symbol()] = w
	return nil
}

// Worker returns the worker of symbol
func (r *Router) Worker(symbol string) (*SymbolWorker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[symbol]
	return w, ok
}

// Workers returns every worker, by symbol
func (r *Router) Workers() []*SymbolWorker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SymbolWorker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol() < out[j].Symbol() })
	return out
}

// Route queues sig on its symbol's worker
func (r *Router) Route(sig *strategy.Signal) error {
	if sig == nil {
		return fmt.Errorf("nil signal")
	}
	w, ok := r.Worker(sig.Symbol)
	if !ok {
		return fmt.Errorf("no worker for symbol %q", sig.Symbol)
	}
	return w.Submit(sig)
}
