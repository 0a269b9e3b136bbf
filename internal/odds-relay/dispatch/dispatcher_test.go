package dispatch

import (
	"testing"

	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/odds-relay/registry"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

type recordingTap struct{ got []events.OddsEvent }

func (r *recordingTap) Offer(_ string, ev events.OddsEvent) { r.got = append(r.got, ev) }

func setup() (*Dispatcher, *registry.Registry, *recordingTap) {
	reg := registry.New()
	tap := &recordingTap{}
	return &Dispatcher{Registry: reg, Sportsbook: "Pinnacle", Log: zap.NewNop(), Taps: []Tap{tap}}, reg, tap
}

func TestDispatch_DeliversToMatchingKeyOnly(t *testing.T) {
	d, reg, _ := setup()
	var lakers, celtics []float64
	reg.Register("basketball", registry.InterestKey{FixtureID: "123", Market: "moneyline", Selection: "Lakers"}, func(p float64) { lakers = append(lakers, p) })
	reg.Register("basketball", registry.InterestKey{FixtureID: "123", Market: "moneyline", Selection: "Celtics"}, func(p float64) { celtics = append(celtics, p) })

	n := d.Dispatch("basketball", events.OddsEvent{GameID: "123", Market: "moneyline", Selection: "Lakers", Sportsbook: "Pinnacle", Price: 1.91})

	if n != 1 {
		t.Fatalf("Dispatch() = %d; want 1", n)
	}
	if len(lakers) != 1 || lakers[0] != 1.91 {
		t.Errorf("lakers prices = %v; want [1.91]", lakers)
	}
	if len(celtics) != 0 {
		t.Errorf("celtics prices = %v; want none", celtics)
	}
}

func TestDispatch_FiltersOtherSportsbooks(t *testing.T) {
	d, reg, tap := setup()
	var filtered int
	d.OnFiltered = func() { filtered++ }
	var got []float64
	reg.Register("basketball", registry.InterestKey{FixtureID: "123", Market: "moneyline", Selection: "Lakers"}, func(p float64) { got = append(got, p) })

	d.Dispatch("basketball", events.OddsEvent{GameID: "123", Market: "moneyline", Selection: "Lakers", Sportsbook: "DraftKings", Price: 1.8})
	d.Dispatch("basketball", events.OddsEvent{GameID: "123", Market: "moneyline", Selection: "Lakers", Sportsbook: "pinnacle", Price: 1.85})

	if len(got) != 1 || got[0] != 1.85 {
		t.Fatalf("prices = %v; want [1.85]", got)
	}
	if filtered != 1 {
		t.Errorf("filtered = %d; want 1", filtered)
	}
	if len(tap.got) != 1 {
		t.Errorf("tap saw %d events; want 1", len(tap.got))
	}
}

func TestDispatch_ForwardsRepeatedPricesInOrder(t *testing.T) {
	d, reg, _ := setup()
	var got []float64
	reg.Register("basketball", registry.InterestKey{FixtureID: "123", Market: "moneyline", Selection: "Lakers"}, func(p float64) { got = append(got, p) })

	for _, p := range []float64{1.9, 1.9, 2.0, 1.95} {
		d.Dispatch("basketball", events.OddsEvent{GameID: "123", Market: "moneyline", Selection: "Lakers", Sportsbook: "Pinnacle", Price: p})
	}

	want := []float64{1.9, 1.9, 2.0, 1.95}
	if len(got) != len(want) {
		t.Fatalf("prices = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("prices = %v; want %v", got, want)
		}
	}
}
