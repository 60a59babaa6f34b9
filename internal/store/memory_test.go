package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryStore_GetSave(t *testing.T) {
	st := NewInMemoryStore()
	ctx := context.Background()

	if _, err := st.GetState(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing contract: err = %v, want %v", err, ErrNotFound)
	}

	blob := []byte{1, 2, 3}
	if err := st.SaveState(ctx, "c1", blob); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.GetState(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(blob) {
		t.Errorf("got %v, want %v", got, blob)
	}

	// The store must hold its own copy, immune to caller mutation.
	blob[0] = 99
	got[1] = 99
	again, err := st.GetState(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again[0] != 1 || again[1] != 2 {
		t.Errorf("stored blob aliased caller memory: %v", again)
	}
}

func TestInMemoryStore_SubscribeNotifies(t *testing.T) {
	st := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := st.Subscribe(ctx, "c1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := st.SaveState(ctx, "c1", []byte{1}); err != nil {
		t.Fatalf("save: %v", err)
	}

	select {
	case change := <-changes:
		if change.Contract != "c1" {
			t.Errorf("notified about %q, want c1", change.Contract)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification after save")
	}
}

func TestInMemoryStore_NotificationsCoalesce(t *testing.T) {
	st := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := st.Subscribe(ctx, "c1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Burst of saves with no reader: signals coalesce, none block.
	for i := 0; i < 10; i++ {
		if err := st.SaveState(ctx, "c1", []byte{byte(i)}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("coalesced notification lost entirely")
	}
}

func TestInMemoryStore_SubscribeScopedToContract(t *testing.T) {
	st := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := st.Subscribe(ctx, "c1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := st.SaveState(ctx, "other", []byte{1}); err != nil {
		t.Fatalf("save: %v", err)
	}

	select {
	case change := <-changes:
		t.Errorf("notified about unrelated contract: %+v", change)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryStore_SaveDuringUnsubscribe(t *testing.T) {
	st := NewInMemoryStore()
	ctx := context.Background()

	// Many passive subscribers stretch the notify walk so a concurrent
	// unsubscribe lands mid-iteration.
	for i := 0; i < 300; i++ {
		decoy, cancel := context.WithCancel(ctx)
		defer cancel()
		if _, err := st.Subscribe(decoy, "c1"); err != nil {
			t.Fatalf("subscribe decoy %d: %v", i, err)
		}
	}

	for i := 0; i < 200; i++ {
		victimCtx, cancelVictim := context.WithCancel(ctx)
		if _, err := st.Subscribe(victimCtx, "c1"); err != nil {
			t.Fatalf("subscribe victim %d: %v", i, err)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("save panicked during unsubscribe: %v", r)
				}
			}()
			if err := st.SaveState(ctx, "c1", []byte{byte(i)}); err != nil {
				t.Errorf("save %d: %v", i, err)
			}
		}()
		cancelVictim()
		<-done
	}
}

func TestInMemoryStore_UnsubscribeOnCancel(t *testing.T) {
	st := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	changes, err := st.Subscribe(ctx, "c1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	// The channel closes once the cancellation is observed.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel never closed after cancel")
		}
	}
}
