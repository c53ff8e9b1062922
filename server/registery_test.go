package server

import (
	"fmt"
	"sync"
	"testing"
)

func TestPipeRegistry_StoreGetDelete(t *testing.T) {
	registry := NewPipeRegistry()
	p := newPipe(NewMockConn(), 1, nil, nil)

	registry.Store(p)
	got, ok := registry.Get(p.Id)
	if !ok || got != p {
		t.Fatal("Expected stored pipe to be returned")
	}
	if registry.Len() != 1 {
		t.Errorf("Expected 1 pipe, got %d", registry.Len())
	}

	if !registry.Delete(p.Id) {
		t.Error("Expected first delete to report presence")
	}
	if registry.Delete(p.Id) {
		t.Error("Expected second delete to report absence")
	}
	if _, ok := registry.Get(p.Id); ok {
		t.Error("Expected pipe to be gone")
	}
}

func TestPipeRegistry_List(t *testing.T) {
	registry := NewPipeRegistry()
	for i := 0; i < 3; i++ {
		registry.Store(newPipe(NewMockConn(), 1, nil, nil))
	}
	if n := len(registry.List()); n != 3 {
		t.Errorf("Expected 3 pipes, got %d", n)
	}
}

func TestPipeRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewPipeRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := newPipe(NewMockConn(), 1, nil, nil)
			p.Id = fmt.Sprintf("viewer-%d", i)
			registry.Store(p)
			registry.List()
			registry.Get(p.Id)
		}(i)
	}
	wg.Wait()

	if registry.Len() != 10 {
		t.Errorf("Expected 10 pipes, got %d", registry.Len())
	}
}
