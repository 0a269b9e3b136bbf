package watch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/radieske/live-odds-relay/internal/odds-relay/repo"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

type fakeWriter struct {
	mu      sync.Mutex
	updates map[events.SubscribeRequest]float64
	err     error
}

func (f *fakeWriter) UpdateCurrentPrice(_ context.Context, key events.SubscribeRequest, price float64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if f.updates == nil {
		f.updates = map[events.SubscribeRequest]float64{}
	}
	f.updates[key] = price
	return 1, nil
}

type fakeLister struct {
	rows []repo.BetData
	err  error
}

func (f fakeLister) List(context.Context) ([]repo.BetData, error) { return f.rows, f.err }

func TestRequests_NormalizesAndSkipsInvalid(t *testing.T) {
	rows := []repo.BetData{
		{Sport: " Basketball ", GameID: "123", Market: "moneyline", Selection: "Lakers"},
		{Sport: "basketball", GameID: "123", Market: "moneyline", Selection: "Lakers"},
		{Sport: "soccer", GameID: "", Market: "moneyline", Selection: "Draw"},
		{Sport: "soccer", GameID: "MATCH_001", Market: "moneyline", Selection: "Draw"},
	}
	got := Requests(rows)
	want := []events.SubscribeRequest{
		{Sport: "basketball", GameID: "123", Market: "moneyline", Selection: "Lakers"},
		{Sport: "soccer", GameID: "MATCH_001", Market: "moneyline", Selection: "Draw"},
	}
	if len(got) != len(want) {
		t.Fatalf("Requests() = %+v; want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Requests()[%d] = %+v; want %+v", i, got[i], want[i])
		}
	}
}

func TestLoad_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	if _, err := Load(context.Background(), fakeLister{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("Load() = %v; want boom", err)
	}
}

func TestConsume_PersistsWithSport(t *testing.T) {
	lakers := events.SubscribeRequest{Sport: "basketball", GameID: "123", Market: "moneyline", Selection: "Lakers"}
	w := &fakeWriter{}
	var seen []float64
	watcher := &Watcher{Writer: w, OnPrice: func(_ events.SubscribeRequest, p float64) { seen = append(seen, p) }}

	msgs := make(chan events.Message, 4)
	msgs <- events.OddsMessage(1.91, "123", "moneyline", "Lakers")
	msgs <- events.ErrorMessage(events.CodeUpstreamUnavailable, "upstream unavailable")
	msgs <- events.OddsMessage(1.95, "123", "moneyline", "Lakers")
	msgs <- events.OddsMessage(3.10, "999", "moneyline", "Nobody")
	close(msgs)

	n := watcher.Consume(context.Background(), msgs, []events.SubscribeRequest{lakers})
	if n != 3 {
		t.Fatalf("Consume() = %d; want 3", n)
	}
	if got := w.updates[lakers]; got != 1.95 {
		t.Errorf("persisted price = %v; want 1.95", got)
	}
	if len(w.updates) != 1 {
		t.Errorf("updates = %+v; want only the watched key", w.updates)
	}
	if len(seen) != 2 {
		t.Errorf("OnPrice calls = %v; want 2", seen)
	}
}

func TestConsume_WriterErrorDoesNotStop(t *testing.T) {
	req := events.SubscribeRequest{Sport: "soccer", GameID: "MATCH_001", Market: "moneyline", Selection: "Draw"}
	watcher := &Watcher{Writer: &fakeWriter{err: errors.New("db down")}}

	msgs := make(chan events.Message, 2)
	msgs <- events.OddsMessage(3.2, "MATCH_001", "moneyline", "Draw")
	msgs <- events.OddsMessage(3.3, "MATCH_001", "moneyline", "Draw")
	close(msgs)

	if n := watcher.Consume(context.Background(), msgs, []events.SubscribeRequest{req}); n != 2 {
		t.Fatalf("Consume() = %d; want 2", n)
	}
}

func TestConsume_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if n := (&Watcher{}).Consume(ctx, make(chan events.Message), nil); n != 0 {
		t.Fatalf("Consume() = %d; want 0", n)
	}
}
