package tap

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/shared/kafka"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

// KafkaPublisher grava cada atualização aceita no tópico de odds
// A chave da mensagem é o fixture, mantendo a ordem por jogo na partição
type KafkaPublisher struct {
	writer kafka.MessageWriter
	log    *zap.Logger
}

func NewKafkaPublisher(w kafka.MessageWriter, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, u events.OddsUpdate) error {
	value, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal odds update: %w", err)
	}
	if err := kafka.WriteJSON(ctx, p.writer, u.GameID, value); err != nil {
		return fmt.Errorf("publish odds update: %w", err)
	}
	p.log.Debug("published odds update", zap.String("game_id", u.GameID), zap.String("selection", u.Selection))
	return nil
}

// Close finaliza o writer e libera recursos associados
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
