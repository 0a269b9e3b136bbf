package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/odds-relay/tap"
	"github.com/radieske/live-odds-relay/internal/odds-relay/upstream"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

const fixtureBody = `{"data":[{"id":"123","odds":[
	{"name":"Los Angeles Lakers","market":"moneyline","sportsbook":"Pinnacle","price":1.91},
	{"name":" boston celtics ","market":"moneyline","sportsbook":"Pinnacle","price":2.05}
]}]}`

func newProvider(t *testing.T, status int, body string) (*Provider, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/fixtures/odds" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("fixture_id") != "123" || q.Get("sportsbook") != "Pinnacle" || q.Get("key") != "k" {
			t.Errorf("query = %v", q)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return &Provider{BaseURL: srv.URL, APIKey: "k"}, &hits
}

func newStore(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisCache(rdb)
}

func TestPrice_ProviderThenCache(t *testing.T) {
	p, hits := newProvider(t, http.StatusOK, fixtureBody)
	mr, store := newStore(t)
	s := NewService(p, store, 30*time.Second, zap.NewNop())
	ctx := context.Background()

	q, err := s.Price(ctx, "Basketball", "123", "moneyline", "BOSTON CELTICS")
	if err != nil {
		t.Fatalf("Price() = %v", err)
	}
	if q.Price != 2.05 || q.Source != SourceProvider || q.Sport != "basketball" {
		t.Fatalf("quote = %+v", q)
	}

	key := Key("123", "moneyline", "BOSTON CELTICS")
	if ttl := mr.TTL(key); ttl != 30*time.Second {
		t.Errorf("TTL(%s) = %v; want 30s", key, ttl)
	}

	q, err = s.Price(ctx, "basketball", "123", "moneyline", "BOSTON CELTICS")
	if err != nil || q.Source != SourceCache || q.Price != 2.05 {
		t.Fatalf("cached quote = %+v, %v", q, err)
	}
	if hits.Load() != 1 {
		t.Errorf("provider hits = %d; want 1", hits.Load())
	}
}

func TestPrice_PrefersLastRelayedPrice(t *testing.T) {
	p, hits := newProvider(t, http.StatusOK, fixtureBody)
	mr, store := newStore(t)
	s := NewService(p, store, 0, zap.NewNop())

	u := events.OddsUpdate{Sport: "basketball", GameID: "123", Market: "moneyline", Selection: "Lakers", Sportsbook: "Pinnacle", Price: 1.87, ReceivedAt: 42}
	b, _ := json.Marshal(u)
	if err := mr.Set(tap.CurrentKey("123", "moneyline", "Lakers"), string(b)); err != nil {
		t.Fatal(err)
	}

	q, err := s.Price(context.Background(), "basketball", "123", "moneyline", "Lakers")
	if err != nil {
		t.Fatalf("Price() = %v", err)
	}
	if q.Source != SourceLive || q.Price != 1.87 || q.AsOf != 42 {
		t.Fatalf("quote = %+v", q)
	}
	if hits.Load() != 0 {
		t.Errorf("provider hits = %d; want 0", hits.Load())
	}
}

func TestPrice_LiveBeatsCachedSnapshot(t *testing.T) {
	p, hits := newProvider(t, http.StatusOK, fixtureBody)
	mr, store := newStore(t)
	s := NewService(p, store, 0, zap.NewNop())
	ctx := context.Background()

	if _, err := s.Price(ctx, "basketball", "123", "moneyline", "Los Angeles Lakers"); err != nil {
		t.Fatalf("Price() = %v", err)
	}

	// chega um preço pelo stream enquanto o snapshot ainda está no TTL
	u := events.OddsUpdate{Sport: "basketball", GameID: "123", Market: "moneyline", Selection: "Los Angeles Lakers", Sportsbook: "Pinnacle", Price: 2.02, ReceivedAt: 99}
	b, _ := json.Marshal(u)
	if err := mr.Set(tap.CurrentKey("123", "moneyline", "Los Angeles Lakers"), string(b)); err != nil {
		t.Fatal(err)
	}

	q, err := s.Price(ctx, "basketball", "123", "moneyline", "Los Angeles Lakers")
	if err != nil {
		t.Fatalf("Price() = %v", err)
	}
	if q.Source != SourceLive || q.Price != 2.02 {
		t.Fatalf("quote = %+v; want live 2.02", q)
	}
	if hits.Load() != 1 {
		t.Errorf("provider hits = %d; want 1", hits.Load())
	}
}

func TestPrice_Errors(t *testing.T) {
	ctx := context.Background()

	p, _ := newProvider(t, http.StatusOK, fixtureBody)
	s := NewService(p, nil, 0, zap.NewNop())
	if _, err := s.Price(ctx, "basketball", "123", "moneyline", "Knicks"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown selection: err = %v; want ErrNotFound", err)
	}
	if _, err := s.Price(ctx, "basketball", "123", "", "Knicks"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("missing market: err = %v; want ErrInvalidRequest", err)
	}

	empty, _ := newProvider(t, http.StatusOK, `{"data":[]}`)
	if _, err := NewService(empty, nil, 0, zap.NewNop()).Price(ctx, "basketball", "123", "moneyline", "Lakers"); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty data: err = %v; want ErrNotFound", err)
	}

	rejected, _ := newProvider(t, http.StatusUnauthorized, `{"message":"invalid key"}`)
	_, err := NewService(rejected, nil, 0, zap.NewNop()).Price(ctx, "basketball", "123", "moneyline", "Lakers")
	var rej *upstream.RejectedError
	if !errors.As(err, &rej) || rej.Status != http.StatusUnauthorized {
		t.Errorf("rejected: err = %v; want RejectedError 401", err)
	}
}

func TestMatch(t *testing.T) {
	odds := []FixtureOdd{{Name: "Over 210.5", Price: 1.9}, {Name: "Under 210.5 ", Price: 1.95}}
	cases := map[string]float64{"under 210.5": 1.95, " OVER 210.5": 1.9}
	for sel, want := range cases {
		got, ok := Match(odds, sel)
		if !ok || got.Price != want {
			t.Errorf("Match(%q) = %+v, %v; want %v", sel, got, ok, want)
		}
	}
	if _, ok := Match(odds, "Over"); ok {
		t.Error("Match() accepted a partial name")
	}
}
