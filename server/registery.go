package server

import (
	"sync"
)

// PipeRegistry holds the open pipes. The hub loop is the only writer; readers
// such as status queries may list concurrently.
type PipeRegistry struct {
	mu    sync.RWMutex
	store map[string]*Pipe
}

func NewPipeRegistry() *PipeRegistry {
	return &PipeRegistry{store: make(map[string]*Pipe)}
}

func (r *PipeRegistry) Store(p *Pipe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[p.Id] = p
}

func (r *PipeRegistry) Get(id string) (*Pipe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.store[id]
	return val, ok
}

// Delete removes id and reports whether it was present.
func (r *PipeRegistry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[id]; !ok {
		return false
	}
	delete(r.store, id)
	return true
}

func (r *PipeRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store)
}

func (r *PipeRegistry) List() []*Pipe {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pipes := make([]*Pipe, 0, len(r.store))
	for _, p := range r.store {
		pipes = append(pipes, p)
	}

	return pipes
}
