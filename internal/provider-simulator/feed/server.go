package feed

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/odds-relay/snapshot"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

// Server imita a API do fornecedor: stream SSE por esporte e snapshot REST
type Server struct {
	Feed      *Feed
	APIKey    string        // vazio aceita qualquer chave
	Interval  time.Duration // intervalo entre lotes de odds
	PingEvery int           // a cada N lotes envia um "event: ping"
	Log       *zap.Logger

	OnClient func(delta int) // métricas: streams abertos
	OnSent   func(n int)     // métricas: registros enviados
}

// Routes monta o router público do simulador
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api/v3", func(r chi.Router) {
		r.Use(s.requireKey)
		r.Get("/stream/{sport}/odds", s.stream)
		r.Get("/fixtures/odds", s.fixturesOdds)
	})
	return r
}

// requireKey aceita ?key= ou X-Api-Key
func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.APIKey != "" {
			key := r.URL.Query().Get("key")
			if key == "" {
				key = r.Header.Get("X-Api-Key")
			}
			if key != s.APIKey {
				http.Error(w, `{"message":"invalid api key"}`, http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sport := chi.URLParam(r, "sport")
	sportsbook := r.URL.Query().Get("sportsbook")
	market := r.URL.Query().Get("market")
	log := s.logger().With(zap.String("sport", sport), zap.String("remote", r.RemoteAddr))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: connected\ndata: {\"data\":{\"sport\":%q}}\n\n", sport)
	flusher.Flush()

	if s.OnClient != nil {
		s.OnClient(1)
		defer s.OnClient(-1)
	}
	log.Info("stream client connected")
	defer log.Info("stream client disconnected")

	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()
	ticks := 0
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			ticks++
			batch := s.Feed.Tick(sport, sportsbook, market)
			if len(batch) > 0 {
				b, err := json.Marshal(events.StreamPayload{Data: batch})
				if err != nil {
					log.Error("marshal odds batch", zap.Error(err))
					return
				}
				if _, err := fmt.Fprintf(w, "event: odds\ndata: %s\n\n", b); err != nil {
					return
				}
				if s.OnSent != nil {
					s.OnSent(len(batch))
				}
			}
			if s.PingEvery > 0 && ticks%s.PingEvery == 0 {
				fmt.Fprintf(w, "event: ping\ndata: {\"data\":{\"timestamp\":%d}}\n\n", time.Now().Unix())
			}
			flusher.Flush()
		}
	}
}

type fixtureOdds struct {
	ID   string                `json:"id"`
	Odds []snapshot.FixtureOdd `json:"odds"`
}

func (s *Server) fixturesOdds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fixtureID := q.Get("fixture_id")
	if fixtureID == "" {
		http.Error(w, `{"message":"fixture_id is required"}`, http.StatusBadRequest)
		return
	}

	resp := struct {
		Data []fixtureOdds `json:"data"`
	}{Data: []fixtureOdds{}}
	if odds, ok := s.Feed.Odds(q.Get("sport"), fixtureID, q.Get("market"), q.Get("sportsbook")); ok {
		resp.Data = append(resp.Data, fixtureOdds{ID: fixtureID, Odds: odds})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) interval() time.Duration {
	if s.Interval <= 0 {
		return 3 * time.Second
	}
	return s.Interval
}

func (s *Server) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
