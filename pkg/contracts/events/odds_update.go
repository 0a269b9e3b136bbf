package events

// OddsEvent é o registro publicado pelo fornecedor dentro de payload.data
// Transiente: consumido pelo dispatcher e descartado
type OddsEvent struct {
	GameID     string  `json:"game_id"`
	Market     string  `json:"market"`
	Selection  string  `json:"selection"`
	Sportsbook string  `json:"sportsbook"`
	Price      float64 `json:"price"`
}

// StreamPayload é o JSON carregado por cada linha "data:" do stream SSE do fornecedor
type StreamPayload struct {
	Data []OddsEvent `json:"data"`
}

// Valid indica se o registro tem os campos que formam a chave de interesse
func (e OddsEvent) Valid() bool {
	return e.GameID != "" && e.Market != "" && e.Selection != ""
}

// OddsUpdate é o evento publicado no tópico "odds_updates" pelos taps do relay
type OddsUpdate struct {
	Sport      string  `json:"sport"`
	GameID     string  `json:"game_id"`
	Market     string  `json:"market"`
	Selection  string  `json:"selection"`
	Sportsbook string  `json:"sportsbook"`
	Price      float64 `json:"price"`
	ReceivedAt int64   `json:"received_at_ms"`
}
