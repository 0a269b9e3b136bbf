package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/odds-relay/snapshot"
	"github.com/radieske/live-odds-relay/internal/odds-relay/upstream"
)

func TestFeed_TickFiltersSportAndBook(t *testing.T) {
	f := New(nil, nil, 1)

	batch := f.Tick("Basketball", "pinnacle", "")
	if len(batch) != 4 { // 2 partidas x 2 seleções
		t.Fatalf("len(batch) = %d; want 4", len(batch))
	}
	for _, ev := range batch {
		if ev.Sportsbook != "Pinnacle" || !ev.Valid() {
			t.Errorf("unexpected event %+v", ev)
		}
		if ev.Price < 1.40 || ev.Price > 5.00 {
			t.Errorf("price %v out of range", ev.Price)
		}
	}

	if got := f.Tick("curling", "", ""); len(got) != 0 {
		t.Errorf("Tick(curling) = %d events; want 0", len(got))
	}
}

func TestFeed_OddsRemembersLastTick(t *testing.T) {
	f := New(nil, nil, 7)
	var lakers float64
	for _, ev := range f.Tick("basketball", "Pinnacle", "moneyline") {
		if ev.GameID == "123" && ev.Selection == "Lakers" {
			lakers = ev.Price
		}
	}

	odds, ok := f.Odds("basketball", "123", "moneyline", "Pinnacle")
	if !ok {
		t.Fatal("fixture 123 not found")
	}
	o, found := snapshot.Match(odds, " lakers ")
	if !found || o.Price != lakers {
		t.Fatalf("Match() = %+v, %v; want price %v", o, found, lakers)
	}

	if _, ok := f.Odds("basketball", "nope", "", ""); ok {
		t.Error("unknown fixture reported as found")
	}
}

func TestServer_StreamFeedsUpstreamClient(t *testing.T) {
	s := &Server{Feed: New(nil, nil, 3), APIKey: "secret", Interval: 5 * time.Millisecond, PingEvery: 2}
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	c := &upstream.Client{
		BaseURL:    srv.URL + "/api/v3/stream",
		APIKey:     "secret",
		Sportsbook: "Pinnacle",
		Log:        zap.NewNop(),
		CloseGrace: time.Second,
	}
	st, err := c.Open(context.Background(), "Soccer")
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	defer st.Close()

	seen := 0
	timeout := time.After(3 * time.Second)
	for seen < 16 {
		select {
		case ev, ok := <-st.Events():
			if !ok {
				t.Fatalf("stream ended: %v", st.Err())
			}
			if ev.Sportsbook != "Pinnacle" {
				t.Fatalf("sportsbook = %q; want Pinnacle", ev.Sportsbook)
			}
			seen++
		case <-timeout:
			t.Fatalf("only %d events received", seen)
		}
	}
}

func TestServer_RejectsWrongKey(t *testing.T) {
	s := &Server{Feed: New(nil, nil, 1), APIKey: "secret"}
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	c := &upstream.Client{BaseURL: srv.URL + "/api/v3/stream", APIKey: "wrong", Log: zap.NewNop()}
	_, err := c.Open(context.Background(), "soccer")
	var rej *upstream.RejectedError
	if !errors.As(err, &rej) || rej.Status != http.StatusUnauthorized {
		t.Fatalf("Open() = %v; want 401 RejectedError", err)
	}
}

func TestServer_FixturesOddsServesSnapshotProvider(t *testing.T) {
	s := &Server{Feed: New(nil, nil, 5)}
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	p := &snapshot.Provider{BaseURL: srv.URL + "/api/v3", Sportsbook: "Pinnacle"}
	odds, err := p.FetchOdds(context.Background(), "soccer", "MATCH_001", "moneyline")
	if err != nil {
		t.Fatalf("FetchOdds() = %v", err)
	}
	if len(odds) != 3 {
		t.Fatalf("len(odds) = %d; want 3", len(odds))
	}
	if _, ok := snapshot.Match(odds, "draw"); !ok {
		t.Error("Draw selection missing")
	}

	odds, err = p.FetchOdds(context.Background(), "soccer", "missing", "moneyline")
	if err != nil || len(odds) != 0 {
		t.Fatalf("FetchOdds(missing) = %v, %v; want empty", odds, err)
	}
}
