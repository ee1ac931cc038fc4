//go:build linux

package ipc

import (
	"os"
	"sync"
	"testing"
	"time"
)

func TestHandshakeRoundTrip(t *testing.T) {
	pid := os.Getpid()
	h, err := Open(pid)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	childSawCatalog := false
	go func() {
		defer wg.Done()
		if err := h.PostCatalogReady(); err != nil {
			t.Errorf("PostCatalogReady: %v", err)
			return
		}
		if err := h.WaitGoAhead(); err != nil {
			t.Errorf("WaitGoAhead: %v", err)
			return
		}
		childSawCatalog = true
	}()

	if err := h.WaitCatalogReady(); err != nil {
		t.Fatalf("WaitCatalogReady: %v", err)
	}
	if err := h.PostGoAhead(); err != nil {
		t.Fatalf("PostGoAhead: %v", err)
	}

	wg.Wait()
	if !childSawCatalog {
		t.Error("child goroutine never observed go-ahead")
	}
}

func TestHandshakeWaitBlocksUntilPost(t *testing.T) {
	pid := os.Getpid() + 1 // distinct key from the previous test
	h, err := Open(pid)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	done := make(chan struct{})
	go func() {
		h.WaitCatalogReady()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitCatalogReady returned before PostCatalogReady was called")
	case <-time.After(50 * time.Millisecond):
	}

	if err := h.PostCatalogReady(); err != nil {
		t.Fatalf("PostCatalogReady: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitCatalogReady did not unblock after PostCatalogReady")
	}
}
