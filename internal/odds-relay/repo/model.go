package repo

import (
	"errors"
	"strings"
	"time"

	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

var (
	// ErrNotFound indica linha inexistente
	ErrNotFound = errors.New("bet not found")
	// ErrInvalidBet indica sport, gameId, market ou selection vazios
	ErrInvalidBet = errors.New("sport, gameId, market and selection are required")
)

// BetData é a linha da lista de acompanhamento: o que precificar e o último preço visto
type BetData struct {
	ID           string    `json:"id"`
	Sport        string    `json:"sport"`
	GameID       string    `json:"gameId"`
	Market       string    `json:"market"`
	Selection    string    `json:"selection"`
	Limit        string    `json:"limit,omitempty"`
	CurrentPrice *float64  `json:"currentPrice,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Normalize aplica as transformações de escrita (sport em minúsculas, espaços nas pontas)
func (b *BetData) Normalize() {
	b.Sport = strings.ToLower(strings.TrimSpace(b.Sport))
	b.GameID = strings.TrimSpace(b.GameID)
	b.Market = strings.TrimSpace(b.Market)
	b.Selection = strings.TrimSpace(b.Selection)
	b.Limit = strings.TrimSpace(b.Limit)
}

// Validate confere os quatro campos usados pelo relay
func (b *BetData) Validate() error {
	if b.Sport == "" || b.GameID == "" || b.Market == "" || b.Selection == "" {
		return ErrInvalidBet
	}
	return nil
}

// Request devolve o pedido de assinatura correspondente à linha
func (b BetData) Request() events.SubscribeRequest {
	return events.SubscribeRequest{Sport: b.Sport, GameID: b.GameID, Market: b.Market, Selection: b.Selection}
}
