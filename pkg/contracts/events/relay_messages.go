package events

// Tipos de mensagem enviados aos assinantes
const (
	MessageOdds  = "odds"
	MessageError = "error"
	MessagePong  = "pong" // keep-alive do WebSocket, fora do contrato de odds
)

// Códigos de erro expostos aos assinantes
const (
	CodeInvalidSubscription = "invalid_subscription"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeBadRequest          = "bad_request"
)

// Message é a união etiquetada entregue aos assinantes:
// {type:"odds", price, gameId, market, selection} ou {type:"error", message}
type Message struct {
	Type      string   `json:"type"`
	Price     *float64 `json:"price,omitempty"`
	GameID    string   `json:"gameId,omitempty"`
	Market    string   `json:"market,omitempty"`
	Selection string   `json:"selection,omitempty"`
	Message   string   `json:"message,omitempty"`
	Code      string   `json:"code,omitempty"`
}

func OddsMessage(price float64, gameID, market, selection string) Message {
	return Message{
		Type:      MessageOdds,
		Price:     &price,
		GameID:    gameID,
		Market:    market,
		Selection: selection,
	}
}

func ErrorMessage(code, msg string) Message {
	return Message{Type: MessageError, Code: code, Message: msg}
}

// SubscribeRequest é o interesse de um assinante em uma odd (sport + chave)
// Os quatro campos vêm de uma linha BetData
type SubscribeRequest struct {
	Sport     string `json:"sport"`
	GameID    string `json:"gameId"`
	Market    string `json:"market"`
	Selection string `json:"selection"`
}

// ClientMsg é a mensagem recebida do assinante via WebSocket
// Type: subscribe | unsubscribe | ping (vazio = subscribe)
type ClientMsg struct {
	Type string `json:"type"`
	SubscribeRequest
}
