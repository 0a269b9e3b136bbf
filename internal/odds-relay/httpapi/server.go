package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/odds-relay/hub"
	"github.com/radieske/live-odds-relay/internal/odds-relay/repo"
	"github.com/radieske/live-odds-relay/internal/odds-relay/snapshot"
	"github.com/radieske/live-odds-relay/internal/odds-relay/upstream"
)

// Quoter resolve o preço inicial de uma odd
type Quoter interface {
	Price(ctx context.Context, sport, fixtureID, market, selection string) (snapshot.Quote, error)
}

// API expõe os transportes do relay e os endpoints REST auxiliares
// Snapshot e Bets são opcionais: sem Redis/Postgres as rotas não são montadas
type API struct {
	Hub      *hub.Hub
	WS       http.HandlerFunc
	SSE      http.Handler
	Snapshot Quoter
	Bets     repo.Store
	Log      *zap.Logger
}

// Router retorna o roteador HTTP
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(a.requestLog)

	r.Get("/ws", a.WS)                            // WebSocket: subscribe/unsubscribe/ping
	r.Method(http.MethodGet, "/v1/stream", a.SSE) // SSE: uma assinatura por requisição
	r.Get("/v1/status", a.status)

	if a.Snapshot != nil {
		r.Get("/v1/odds/{sport}/{fixtureId}", a.getOdds)
	}
	if a.Bets != nil {
		r.Get("/v1/bets", a.listBets)
		r.Post("/v1/bets", a.createBet)
		r.Delete("/v1/bets/{id}", a.deleteBet)
	}
	return r
}

// writeJSON serializa a resposta em JSON e define o status HTTP
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *API) logger() *zap.Logger {
	if a.Log != nil {
		return a.Log
	}
	return zap.NewNop()
}

// requestLog registra as requisições; streams longos são logados no término
func (a *API) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Hub.Stats())
}

// getOdds retorna o preço inicial de uma seleção (?market=&selection=)
func (a *API) getOdds(w http.ResponseWriter, r *http.Request) {
	q, err := a.Snapshot.Price(r.Context(),
		chi.URLParam(r, "sport"),
		chi.URLParam(r, "fixtureId"),
		r.URL.Query().Get("market"),
		r.URL.Query().Get("selection"),
	)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, q)
	case errors.Is(err, snapshot.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, snapshot.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, upstream.ErrUpstreamRejected):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		a.logger().Error("snapshot failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (a *API) listBets(w http.ResponseWriter, r *http.Request) {
	rows, err := a.Bets.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []repo.BetData{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) createBet(w http.ResponseWriter, r *http.Request) {
	var b repo.BetData
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	b.Normalize()
	if err := b.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := a.Bets.Create(r.Context(), &b); err != nil {
		if errors.Is(err, repo.ErrInvalidBet) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (a *API) deleteBet(w http.ResponseWriter, r *http.Request) {
	err := a.Bets.Delete(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
