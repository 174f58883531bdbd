package presence

import (
	"reflect"
	"sync"
	"testing"
)

func TestRegisterAndOnline(t *testing.T) {
	r := NewRegistry(nil)

	r.Register("alice", "h1")
	r.Register("bob", "h2")

	if !r.IsOnline("alice") || !r.IsOnline("bob") {
		t.Fatal("expected alice and bob online")
	}
	if got := r.Online(); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Errorf("expected sorted snapshot [alice bob], got %v", got)
	}
}

// Reconnect sequence: a second tab replaces the handle; the old tab's
// disconnect must not knock the user offline.
func TestStaleUnregisterIsIgnored(t *testing.T) {
	r := NewRegistry(nil)

	r.Register("alice", "h1")
	r.Register("alice", "h2")
	r.Unregister("alice", "h1")

	if !r.IsOnline("alice") {
		t.Fatal("expected alice still online after stale unregister")
	}

	r.Unregister("alice", "h2")
	if r.IsOnline("alice") {
		t.Fatal("expected alice offline after current handle unregistered")
	}
}

func TestUnregisterUnknownUserIsNoop(t *testing.T) {
	var calls int
	r := NewRegistry(func([]string) { calls++ })

	r.Unregister("ghost", "h1")
	if calls != 0 {
		t.Errorf("expected no broadcast for a no-op unregister, got %d", calls)
	}
}

func TestOnChangeReceivesSnapshots(t *testing.T) {
	var snapshots [][]string
	r := NewRegistry(func(online []string) {
		snapshots = append(snapshots, online)
	})

	r.Register("alice", "h1")
	r.Register("bob", "h2")
	r.Unregister("alice", "h1")

	want := [][]string{
		{"alice"},
		{"alice", "bob"},
		{"bob"},
	}
	if !reflect.DeepEqual(snapshots, want) {
		t.Errorf("expected snapshots %v, got %v", want, snapshots)
	}
}

func TestGuardedUnregisterDoesNotBroadcast(t *testing.T) {
	var calls int
	r := NewRegistry(func([]string) { calls++ })

	r.Register("alice", "h1")
	r.Register("alice", "h2")
	before := calls
	r.Unregister("alice", "h1") // stale
	if calls != before {
		t.Errorf("expected no broadcast on guarded unregister, got %d extra", calls-before)
	}
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n%8))
			r.Register(id, "h")
			r.Unregister(id, "h")
		}(i)
	}
	wg.Wait()

	if n := r.Count(); n != 0 {
		t.Errorf("expected empty registry, got %d entries", n)
	}
}
