package registry_test

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/radieske/live-odds-relay/internal/odds-relay/registry"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

var lakers = registry.InterestKey{FixtureID: "123", Market: "moneyline", Selection: "Lakers"}

func oddsFor(k registry.InterestKey, price float64) events.OddsEvent {
	return events.OddsEvent{GameID: k.FixtureID, Market: k.Market, Selection: k.Selection, Sportsbook: "Pinnacle", Price: price}
}

func TestRegistry_MatchExactKeyAndSport(t *testing.T) {
	r := registry.New()
	r.Register("Basketball", lakers, nil)
	r.Register("basketball", registry.InterestKey{FixtureID: "123", Market: "moneyline", Selection: "lakers"}, nil)
	r.Register("soccer", lakers, nil)

	got := r.Match("BASKETBALL", oddsFor(lakers, 1.91))
	if len(got) != 1 {
		t.Fatalf("Match() = %d subscriptions; want 1", len(got))
	}
	if got[0].Sport != "basketball" || got[0].Key != lakers {
		t.Errorf("Match() = %+v", got[0])
	}

	if n := len(r.Match("basketball", events.OddsEvent{GameID: "456", Market: "moneyline", Selection: "Lakers"})); n != 0 {
		t.Errorf("Match() for other fixture = %d; want 0", n)
	}
}

func TestRegistry_DeliverInvokesCallback(t *testing.T) {
	r := registry.New()
	var got []float64
	r.Register("basketball", lakers, func(p float64) { got = append(got, p) })

	for _, sub := range r.Match("basketball", oddsFor(lakers, 1.91)) {
		sub.Deliver(1.91)
	}
	if len(got) != 1 || got[0] != 1.91 {
		t.Fatalf("callback prices = %v; want [1.91]", got)
	}
}

func TestRegistry_NoCallbackAfterUnregister(t *testing.T) {
	r := registry.New()
	var calls atomic.Int32
	id := r.Register("basketball", lakers, func(float64) { calls.Add(1) })

	matched := r.Match("basketball", oddsFor(lakers, 1.91))
	if !r.Unregister(id) {
		t.Fatal("Unregister() = false; want true")
	}
	for _, sub := range matched {
		if sub.Deliver(1.91) {
			t.Error("Deliver() = true after Unregister")
		}
	}
	if calls.Load() != 0 {
		t.Fatalf("callback ran %d times after Unregister", calls.Load())
	}
	if r.Unregister(id) {
		t.Error("second Unregister() = true; want false")
	}
}

func TestRegistry_UnregisterWaitsForInflightDeliver(t *testing.T) {
	r := registry.New()
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	id := r.Register("basketball", lakers, func(float64) {
		close(entered)
		<-release
		finished.Store(true)
	})

	sub := r.Match("basketball", oddsFor(lakers, 2))[0]
	go sub.Deliver(2)
	<-entered

	done := make(chan struct{})
	go func() {
		r.Unregister(id)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Unregister() returned while a callback was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-done
	if !finished.Load() {
		t.Fatal("callback did not finish before Unregister returned")
	}
}

func TestRegistry_UnregisterFromOwnCallback(t *testing.T) {
	r := registry.New()
	var id registry.ID
	var calls atomic.Int32
	id = r.Register("basketball", lakers, func(float64) {
		calls.Add(1)
		if !r.Unregister(id) {
			t.Error("Unregister() from callback = false; want true")
		}
	})

	sub := r.Match("basketball", oddsFor(lakers, 1.91))[0]
	done := make(chan bool, 1)
	go func() { done <- sub.Deliver(1.91) }()

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("Deliver() = false; want true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver() blocked on Unregister from its own callback")
	}
	if sub.Deliver(1.95) {
		t.Error("Deliver() = true after self Unregister")
	}
	if calls.Load() != 1 || r.Len() != 0 {
		t.Fatalf("calls = %d, Len() = %d; want 1, 0", calls.Load(), r.Len())
	}
}

func TestRegistry_CountMatchesAppliedOperations(t *testing.T) {
	r := registry.New()
	rng := rand.New(rand.NewSource(7))
	var live []registry.ID
	applied := 0

	for i := 0; i < 2000; i++ {
		if len(live) == 0 || rng.Intn(3) > 0 {
			live = append(live, r.Register("basketball", lakers, nil))
			applied++
			continue
		}
		j := rng.Intn(len(live))
		if r.Unregister(live[j]) {
			applied--
		}
		// tentativa repetida não pode contar duas vezes
		if r.Unregister(live[j]) {
			t.Fatal("double removal applied")
		}
		live = append(live[:j], live[j+1:]...)
	}

	if r.Len() != applied || r.Len() != len(live) {
		t.Fatalf("Len() = %d; applied = %d; live = %d", r.Len(), applied, len(live))
	}
	if r.SportCount("Basketball") != len(live) {
		t.Fatalf("SportCount() = %d; want %d", r.SportCount("basketball"), len(live))
	}
}

func TestRegistry_ConcurrentRegisterMatch(t *testing.T) {
	r := registry.New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				id := r.Register("basketball", lakers, func(float64) {})
				r.Unregister(id)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				for _, sub := range r.Match("basketball", oddsFor(lakers, 1)) {
					sub.Deliver(1)
				}
			}
		}()
	}
	wg.Wait()

	if r.Len() != 0 || r.SportCount("basketball") != 0 {
		t.Fatalf("Len() = %d, SportCount() = %d; want 0", r.Len(), r.SportCount("basketball"))
	}
	if len(r.BySport("basketball")) != 0 {
		t.Fatal("BySport() not empty")
	}
}
