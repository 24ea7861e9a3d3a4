package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"boss-battle-service/internal/domain"
)

// TemplateLoader loads battle template JSONB from Postgres.
type TemplateLoader struct {
	pool *pgxpool.Pool
}

func NewTemplateLoader(pool *pgxpool.Pool) *TemplateLoader {
	return &TemplateLoader{pool: pool}
}

func (l *TemplateLoader) LoadTemplate(ctx context.Context, templateID string) (domain.BattleTemplate, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM battle_templates WHERE id=$1`, templateID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BattleTemplate{}, domain.ErrTemplateNotFound
	}
	if err != nil {
		return domain.BattleTemplate{}, fmt.Errorf("load template: %w", err)
	}
	var template domain.BattleTemplate
	if err := json.Unmarshal(raw, &template); err != nil {
		return domain.BattleTemplate{}, fmt.Errorf("unmarshal template: %w", err)
	}
	template.ID = templateID
	return template, nil
}
