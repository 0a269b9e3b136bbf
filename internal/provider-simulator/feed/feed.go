package feed

import (
	"math/rand"
	"strings"
	"sync"

	"github.com/radieske/live-odds-relay/internal/odds-relay/snapshot"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

// Fixture é uma partida simulada com as seleções de um mercado
type Fixture struct {
	ID         string
	Sport      string
	Market     string
	Selections []string
}

// DefaultCatalog é o catálogo fixo de partidas simuladas para geração de odds
var DefaultCatalog = []Fixture{
	{ID: "MATCH_001", Sport: "soccer", Market: "moneyline", Selections: []string{"Flamengo", "Draw", "Palmeiras"}},
	{ID: "MATCH_002", Sport: "soccer", Market: "moneyline", Selections: []string{"Grêmio", "Draw", "Internacional"}},
	{ID: "MATCH_003", Sport: "soccer", Market: "total_goals", Selections: []string{"Over 2.5", "Under 2.5"}},
	{ID: "123", Sport: "basketball", Market: "moneyline", Selections: []string{"Lakers", "Celtics"}},
	{ID: "124", Sport: "basketball", Market: "moneyline", Selections: []string{"Bulls", "Knicks"}},
	{ID: "T_900", Sport: "tennis", Market: "moneyline", Selections: []string{"Alcaraz", "Sinner"}},
}

// DefaultSportsbooks são as casas publicadas em cada tick; o relay filtra pela configurada
var DefaultSportsbooks = []string{"Pinnacle", "DraftKings"}

type priceKey struct {
	fixture, selection, sportsbook string
}

// Feed gera preços aleatórios para o catálogo e lembra o último de cada seleção
type Feed struct {
	catalog     []Fixture
	sportsbooks []string

	mu   sync.Mutex
	rnd  *rand.Rand
	last map[priceKey]float64
}

func New(catalog []Fixture, sportsbooks []string, seed int64) *Feed {
	if len(catalog) == 0 {
		catalog = DefaultCatalog
	}
	if len(sportsbooks) == 0 {
		sportsbooks = DefaultSportsbooks
	}
	return &Feed{
		catalog:     catalog,
		sportsbooks: sportsbooks,
		rnd:         rand.New(rand.NewSource(seed)),
		last:        make(map[priceKey]float64),
	}
}

// Sports devolve os esportes presentes no catálogo
func (f *Feed) Sports() []string {
	seen := map[string]bool{}
	var out []string
	for _, fx := range f.catalog {
		if !seen[fx.Sport] {
			seen[fx.Sport] = true
			out = append(out, fx.Sport)
		}
	}
	return out
}

// Tick sorteia novos preços para as partidas do esporte.
// sportsbook e market vazios não filtram.
func (f *Feed) Tick(sport, sportsbook, market string) []events.OddsEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []events.OddsEvent
	for _, fx := range f.catalog {
		if !strings.EqualFold(fx.Sport, sport) || (market != "" && fx.Market != market) {
			continue
		}
		for _, book := range f.sportsbooks {
			if sportsbook != "" && !strings.EqualFold(book, sportsbook) {
				continue
			}
			for _, sel := range fx.Selections {
				price := f.rndLocked(1.40, 5.00)
				f.last[priceKey{fx.ID, sel, book}] = price
				out = append(out, events.OddsEvent{
					GameID:     fx.ID,
					Market:     fx.Market,
					Selection:  sel,
					Sportsbook: book,
					Price:      price,
				})
			}
		}
	}
	return out
}

// Odds responde o snapshot REST: último preço de cada seleção (sorteia se ainda não houver)
func (f *Feed) Odds(sport, fixtureID, market, sportsbook string) ([]snapshot.FixtureOdd, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, fx := range f.catalog {
		if fx.ID != fixtureID || (sport != "" && !strings.EqualFold(fx.Sport, sport)) {
			continue
		}
		if market != "" && fx.Market != market {
			return nil, true
		}
		var out []snapshot.FixtureOdd
		for _, book := range f.sportsbooks {
			if sportsbook != "" && !strings.EqualFold(book, sportsbook) {
				continue
			}
			for _, sel := range fx.Selections {
				k := priceKey{fx.ID, sel, book}
				price, ok := f.last[k]
				if !ok {
					price = f.rndLocked(1.40, 5.00)
					f.last[k] = price
				}
				out = append(out, snapshot.FixtureOdd{Name: sel, Market: fx.Market, Sportsbook: book, Price: price})
			}
		}
		return out, true
	}
	return nil, false
}

// gera número aleatório entre min e max com duas casas
func (f *Feed) rndLocked(min, max float64) float64 {
	v := (f.rnd.Float64() * (max - min)) + min
	return float64(int(v*100)) / 100
}
