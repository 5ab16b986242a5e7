package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/pedrolm/mapscout/internal/store"
)

// CampaignStore implements store.CampaignStore on Postgres.
type CampaignStore struct {
	db DB
}

// NewCampaignStore wraps an existing pool or mock.
func NewCampaignStore(db DB) *CampaignStore {
	return &CampaignStore{db: db}
}

// Create inserts a campaign in the pendente state.
func (s *CampaignStore) Create(ctx context.Context, nome string) (store.Campaign, error) {
	if strings.TrimSpace(nome) == "" {
		return store.Campaign{}, fmt.Errorf("%w: campaign name is required", store.ErrValidation)
	}
	const q = `
		INSERT INTO campanhas (nome, status, created_at)
		VALUES ($1, 'pendente', NOW())
		RETURNING id, nome, status, created_at`
	var campaign store.Campaign
	err := s.db.QueryRow(ctx, q, nome).Scan(
		&campaign.ID,
		&campaign.Nome,
		&campaign.Status,
		&campaign.CreatedAt,
	)
	if err != nil {
		return store.Campaign{}, fmt.Errorf("insert campanha: %w", err)
	}
	return campaign, nil
}

// GetByID returns one campaign or store.ErrNotFound.
func (s *CampaignStore) GetByID(ctx context.Context, id int64) (store.Campaign, error) {
	const q = `SELECT id, nome, status, created_at FROM campanhas WHERE id = $1`
	var campaign store.Campaign
	err := s.db.QueryRow(ctx, q, id).Scan(
		&campaign.ID,
		&campaign.Nome,
		&campaign.Status,
		&campaign.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Campaign{}, store.ErrNotFound
		}
		return store.Campaign{}, fmt.Errorf("select campanha: %w", err)
	}
	return campaign, nil
}

// RefreshStatuses recomputes every non-cancelled campaign's aggregate
// status from its child searches: all children terminal means concluida,
// any child processing means em_processamento, otherwise pendente.
// Campaigns without searches and cancelled campaigns are left alone.
func (s *CampaignStore) RefreshStatuses(ctx context.Context) error {
	const q = `
		UPDATE campanhas c
		SET status = agg.derived
		FROM (
			SELECT campanha_id,
				CASE
					WHEN COUNT(*) FILTER (WHERE status NOT IN ('concluido', 'error')) = 0
						THEN 'concluida'
					WHEN COUNT(*) FILTER (WHERE status = 'processing') > 0
						THEN 'em_processamento'
					ELSE 'pendente'
				END AS derived
			FROM buscas
			WHERE campanha_id IS NOT NULL
			GROUP BY campanha_id
		) agg
		WHERE c.id = agg.campanha_id
		  AND c.status <> 'cancelada'
		  AND c.status <> agg.derived`
	if _, err := s.db.Exec(ctx, q); err != nil {
		return fmt.Errorf("refresh campanha statuses: %w", err)
	}
	return nil
}
