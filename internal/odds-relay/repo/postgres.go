package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

// Store é o contrato usado pelos handlers HTTP e pelo odds-watch
type Store interface {
	List(ctx context.Context) ([]BetData, error)
	Create(ctx context.Context, b *BetData) (string, error)
	Delete(ctx context.Context, id string) error
	UpdateCurrentPrice(ctx context.Context, key events.SubscribeRequest, price float64) (int64, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS bet_data (
	id            UUID PRIMARY KEY,
	sport         TEXT NOT NULL,
	game_id       TEXT NOT NULL,
	market        TEXT NOT NULL,
	selection     TEXT NOT NULL,
	bet_limit     TEXT NOT NULL DEFAULT '',
	current_price DOUBLE PRECISION,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS bet_data_key_idx ON bet_data (sport, game_id, market, selection);
`

// Postgres implementa Store sobre a tabela bet_data
type Postgres struct{ db *sql.DB }

var _ Store = (*Postgres)(nil)

// NewPostgres retorna uma instância do repositório de BetData
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// EnsureSchema cria a tabela se ainda não existir
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure bet_data schema: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context) ([]BetData, error) {
	const q = `
		SELECT id, sport, game_id, market, selection, bet_limit, current_price, created_at, updated_at
		FROM bet_data
		ORDER BY created_at, id;
	`
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list bet_data: %w", err)
	}
	defer rows.Close()

	var out []BetData
	for rows.Next() {
		var (
			b     BetData
			price sql.NullFloat64
		)
		if err := rows.Scan(&b.ID, &b.Sport, &b.GameID, &b.Market, &b.Selection, &b.Limit, &price, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan bet_data: %w", err)
		}
		if price.Valid {
			v := price.Float64
			b.CurrentPrice = &v
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Create normaliza, valida e insere uma linha nova
func (p *Postgres) Create(ctx context.Context, b *BetData) (string, error) {
	b.Normalize()
	if err := b.Validate(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bet_data (id, sport, game_id, market, selection, bet_limit, current_price)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		id, b.Sport, b.GameID, b.Market, b.Selection, b.Limit, b.CurrentPrice,
	)
	if err != nil {
		return "", fmt.Errorf("insert bet_data: %w", err)
	}
	b.ID = id
	return id, nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := p.db.ExecContext(ctx, `DELETE FROM bet_data WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete bet_data: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCurrentPrice grava o último preço em todas as linhas da chave; devolve quantas mudaram
func (p *Postgres) UpdateCurrentPrice(ctx context.Context, key events.SubscribeRequest, price float64) (int64, error) {
	b := BetData{Sport: key.Sport, GameID: key.GameID, Market: key.Market, Selection: key.Selection}
	b.Normalize()
	res, err := p.db.ExecContext(ctx, `
		UPDATE bet_data SET current_price=$1, updated_at=now()
		WHERE sport=$2 AND game_id=$3 AND market=$4 AND selection=$5`,
		price, b.Sport, b.GameID, b.Market, b.Selection,
	)
	if err != nil {
		return 0, fmt.Errorf("update current price: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
