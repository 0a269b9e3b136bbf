package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/radieske/live-odds-relay/internal/odds-relay/upstream"
)

// FixtureOdd é uma odd do snapshot REST do fornecedor
type FixtureOdd struct {
	Name       string  `json:"name"`
	Market     string  `json:"market"`
	Sportsbook string  `json:"sportsbook"`
	Price      float64 `json:"price"`
}

type fixturesResponse struct {
	Data []struct {
		ID   string       `json:"id"`
		Odds []FixtureOdd `json:"odds"`
	} `json:"data"`
}

// Provider consulta GET {base}/fixtures/odds do fornecedor
type Provider struct {
	BaseURL    string // ex: https://api.opticodds.com/api/v3
	APIKey     string
	Sportsbook string
	HTTP       *http.Client
}

// FetchOdds devolve as odds do primeiro fixture da resposta
func (p *Provider) FetchOdds(ctx context.Context, sport, fixtureID, market string) ([]FixtureOdd, error) {
	q := url.Values{}
	q.Set("key", p.APIKey)
	q.Set("fixture_id", fixtureID)
	q.Set("market", market)
	q.Set("sport", sport)
	q.Set("sportsbook", p.sportsbook())
	u := strings.TrimRight(p.BaseURL, "/") + "/fixtures/odds?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := p.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, &upstream.RejectedError{Status: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out fixturesResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", upstream.ErrDecode, err)
	}
	if len(out.Data) == 0 {
		return nil, nil
	}
	return out.Data[0].Odds, nil
}

// Match procura a seleção pelo nome, sem diferenciar maiúsculas e ignorando espaços nas pontas
func Match(odds []FixtureOdd, selection string) (FixtureOdd, bool) {
	want := strings.ToLower(strings.TrimSpace(selection))
	for _, o := range odds {
		if strings.ToLower(strings.TrimSpace(o.Name)) == want {
			return o, true
		}
	}
	return FixtureOdd{}, false
}

func (p *Provider) sportsbook() string {
	if p.Sportsbook == "" {
		return "Pinnacle"
	}
	return p.Sportsbook
}

func (p *Provider) httpClient() *http.Client {
	if p.HTTP != nil {
		return p.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}
