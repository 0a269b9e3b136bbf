package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUpstreamRejected indica resposta HTTP fora da faixa de sucesso
	ErrUpstreamRejected = errors.New("upstream rejected")
	// ErrUpstreamClosed indica término inesperado do stream
	ErrUpstreamClosed = errors.New("upstream closed")
	// ErrDecode marca um chunk malformado; nunca é devolvido ao chamador
	ErrDecode = errors.New("decode odds payload")
)

// RejectedError carrega status e corpo de uma resposta rejeitada pelo fornecedor
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("upstream rejected: status %d: %s", e.Status, e.Body)
}

func (e *RejectedError) Unwrap() error { return ErrUpstreamRejected }

// Opener abre um stream de odds para um esporte
// Implementado por *Client; supervisores dependem só desta interface
type Opener interface {
	Open(ctx context.Context, sport string) (*Stream, error)
}

// Client abre conexões SSE de longa duração com o fornecedor de odds, uma por esporte
type Client struct {
	BaseURL    string       // ex: https://api.opticodds.com/api/v3/stream
	APIKey     string       // enviado em ?key= e X-Api-Key
	Sportsbook string       // default "Pinnacle"
	Market     string       // filtro opcional de mercado
	FixtureID  string       // filtro opcional de fixture
	HTTP       *http.Client // sem Timeout: o stream é ilimitado
	Log        *zap.Logger

	// CloseGrace limita quanto Close espera o leitor terminar
	CloseGrace time.Duration
	// BufferSize é a capacidade do canal de eventos
	BufferSize int
	// OnDecodeError é chamado a cada chunk descartado (métricas)
	OnDecodeError func()
	// OnEvent é chamado a cada registro encaminhado (métricas)
	OnEvent func()
}

var _ Opener = (*Client)(nil)

// NormalizeSport aplica a normalização usada em todas as chaves por esporte
func NormalizeSport(sport string) string {
	return strings.ToLower(strings.TrimSpace(sport))
}

// StreamURL monta a URL do stream de odds para o esporte já normalizado
func (c *Client) StreamURL(sport string) string {
	q := url.Values{}
	q.Set("key", c.APIKey)
	q.Set("sportsbook", c.sportsbook())
	if c.Market != "" {
		q.Set("market", c.Market)
	}
	if c.FixtureID != "" {
		q.Set("fixture_id", c.FixtureID)
	}
	base := strings.TrimRight(c.BaseURL, "/")
	return fmt.Sprintf("%s/%s/odds?%s", base, url.PathEscape(NormalizeSport(sport)), q.Encode())
}

// Open emite o GET de streaming e devolve o Stream já lendo em background.
// Respostas fora de 2xx viram *RejectedError sem nenhum evento.
func (c *Client) Open(ctx context.Context, sport string) (*Stream, error) {
	sport = NormalizeSport(sport)
	log := c.logger().With(zap.String("sport", sport))

	sctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(sctx, http.MethodGet, c.StreamURL(sport), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}

	res, err := c.httpClient().Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrUpstreamClosed, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		_ = res.Body.Close()
		cancel()
		log.Warn("upstream rejected stream", zap.Int("status", res.StatusCode))
		return nil, &RejectedError{Status: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	log.Info("upstream stream opened")
	s := newStream(sport, res.Body, cancel, c.bufferSize(), c.closeGrace(), log)
	s.onDecodeError = c.OnDecodeError
	s.onEvent = c.OnEvent
	go s.readLoop(sctx)
	return s, nil
}

func (c *Client) sportsbook() string {
	if c.Sportsbook == "" {
		return "Pinnacle"
	}
	return c.Sportsbook
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) logger() *zap.Logger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop()
}

func (c *Client) bufferSize() int {
	if c.BufferSize > 0 {
		return c.BufferSize
	}
	return 256
}

func (c *Client) closeGrace() time.Duration {
	if c.CloseGrace > 0 {
		return c.CloseGrace
	}
	return 2 * time.Second
}
