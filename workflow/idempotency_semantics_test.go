package workflow

import (
	"sync"
	"testing"
)

// NOTE: These tests are intentionally DB-free. They validate the intended
// outbox semantics:
// - at-least-once delivery is safe via durable idempotency
// - per-clan serialization prevents racey interleavings inside handlers
//
// Full DB+PubSub integration tests should be added in an environment that can
// run MySQL + Pub/Sub emulator.

type fakeProcessor struct {
	muByClan map[string]*sync.Mutex
	mu       sync.Mutex
	seen     map[string]bool
	calls    int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		muByClan: map[string]*sync.Mutex{},
		seen:     map[string]bool{},
	}
}

func (p *fakeProcessor) process(clanID, handlerName, messageID string, fn func()) {
	// Serialize per clan (models ObtainClanLock).
	p.mu.Lock()
	cm := p.muByClan[clanID]
	if cm == nil {
		cm = &sync.Mutex{}
		p.muByClan[clanID] = cm
	}
	p.mu.Unlock()

	cm.Lock()
	defer cm.Unlock()

	// Deduplicate (models IdempotencyKey).
	key := clanID + "|" + handlerName + "|" + messageID
	p.mu.Lock()
	if p.seen[key] {
		p.mu.Unlock()
		return
	}
	p.seen[key] = true
	p.mu.Unlock()

	fn()

	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
}

func TestDuplicateDelivery_IsProcessedOnce(t *testing.T) {
	p := newFakeProcessor()

	const (
		clan      = "clan-1"
		handler   = "chestDataImport"
		messageID = "batch-123"
	)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.process(clan, handler, messageID, func() {})
		}()
	}
	wg.Wait()

	if p.calls != 1 {
		t.Fatalf("expected exactly 1 processing call, got %d", p.calls)
	}
}

func TestProperty_DeterministicUnderConcurrency(t *testing.T) {
	for run := 0; run < 100; run++ {
		p := newFakeProcessor()
		var wg sync.WaitGroup

		// same scenario, repeated concurrently
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				p.process("clan-1", "chestDataImport", "batch-1", func() {})
				p.process("clan-1", "notificationFanout", "msg-2", func() {})
				p.process("clan-1", "chestDataImport", "batch-1", func() {}) // duplicate
			}(i)
		}
		wg.Wait()

		if p.calls != 2 {
			t.Fatalf("run=%d expected 2 unique calls, got %d", run, p.calls)
		}
	}
}
