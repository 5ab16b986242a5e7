package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pedrolm/mapscout/internal/store"
)

// maxResultsCap bounds a single search so one submission cannot occupy a
// worker slot indefinitely.
const maxResultsCap = 500

const searchColumns = `id, campanha_id, regiao, tipo_empresa, palavras_chave,
	qtd_max, status, data_busca, processing_at, finished_at, error_message`

// SearchStore implements store.SearchStore and store.Dequeuer on Postgres.
// All cross-worker coordination happens through short row-scoped
// transactions here; no state is held in process.
type SearchStore struct {
	db DB
}

// NewSearchStore wraps an existing pool or mock.
func NewSearchStore(db DB) *SearchStore {
	return &SearchStore{db: db}
}

// Submit validates the params and inserts a waiting search.
func (s *SearchStore) Submit(ctx context.Context, params store.SearchParams) (int64, error) {
	if strings.TrimSpace(params.Region) == "" {
		return 0, fmt.Errorf("%w: region is required", store.ErrValidation)
	}
	if strings.TrimSpace(params.BusinessType) == "" {
		return 0, fmt.Errorf("%w: business type is required", store.ErrValidation)
	}
	if params.MaxResults <= 0 {
		return 0, fmt.Errorf("%w: max results must be > 0", store.ErrValidation)
	}
	maxResults := params.MaxResults
	if maxResults > maxResultsCap {
		maxResults = maxResultsCap
	}
	keywords := params.Keywords
	if keywords == nil {
		keywords = []string{}
	}

	const q = `
		INSERT INTO buscas (campanha_id, regiao, tipo_empresa, palavras_chave, qtd_max, data_busca, status)
		VALUES ($1, $2, $3, $4, $5, NOW(), 'waiting')
		RETURNING id`

	var id int64
	err := s.db.QueryRow(ctx, q,
		params.CampaignID,
		params.Region,
		params.BusinessType,
		keywords,
		maxResults,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
			return 0, fmt.Errorf("%w: campaign does not exist", store.ErrValidation)
		}
		return 0, fmt.Errorf("insert busca: %w", err)
	}
	return id, nil
}

// GetByID returns one search or store.ErrNotFound.
func (s *SearchStore) GetByID(ctx context.Context, id int64) (store.Search, error) {
	q := fmt.Sprintf(`SELECT %s FROM buscas WHERE id = $1`, searchColumns)
	search, err := scanSearch(s.db.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Search{}, store.ErrNotFound
		}
		return store.Search{}, fmt.Errorf("select busca: %w", err)
	}
	return search, nil
}

// StatusSummary returns the search together with its leads.
func (s *SearchStore) StatusSummary(ctx context.Context, id int64) (store.SearchSummary, error) {
	search, err := s.GetByID(ctx, id)
	if err != nil {
		return store.SearchSummary{}, err
	}
	leads, err := s.listLeads(ctx, id)
	if err != nil {
		return store.SearchSummary{}, err
	}
	return store.SearchSummary{Search: search, Leads: leads}, nil
}

// List returns all searches, newest first.
func (s *SearchStore) List(ctx context.Context) ([]store.Search, error) {
	q := fmt.Sprintf(`SELECT %s FROM buscas ORDER BY id DESC`, searchColumns)
	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list buscas: %w", err)
	}
	defer rows.Close()
	return collectSearches(rows)
}

// MarkProcessing flips a search to processing outside the claim path,
// satisfying the store contract. The dequeuer normally does this inside
// its own claim transaction.
func (s *SearchStore) MarkProcessing(ctx context.Context, id int64) error {
	const q = `UPDATE buscas SET status = 'processing', processing_at = NOW() WHERE id = $1`
	tag, err := s.db.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// MarkCompleted inserts the leads and the terminal transition as one unit.
// If anything fails, the transaction aborts and neither the leads nor the
// status change survive. A row no longer in processing aborts with
// ErrStaleClaim, leads included.
func (s *SearchStore) MarkCompleted(ctx context.Context, id int64, leads []store.Lead) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertLead = `
		INSERT INTO leads (busca_id, nome_empresa, nome_lead, telefone, localizacao,
			avaliacao_media, reviews, tipo_empresa, website)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (telefone) DO NOTHING`

	for _, lead := range leads {
		// NULL rather than empty string keeps the phone uniqueness
		// constraint from colliding phoneless leads with each other.
		var telefone *string
		if lead.Telefone != "" {
			telefone = &lead.Telefone
		}
		if _, err := tx.Exec(ctx, insertLead,
			id,
			lead.NomeEmpresa,
			lead.NomeLead,
			telefone,
			lead.Localizacao,
			lead.Avaliacao,
			lead.Reviews,
			lead.TipoEmpresa,
			lead.Website,
		); err != nil {
			return fmt.Errorf("insert lead: %w", err)
		}
	}

	// The status guard keeps a worker whose claim was reclaimed and
	// finalized elsewhere from rewriting the committed terminal state.
	const finish = `
		UPDATE buscas SET status = 'concluido', finished_at = NOW(), error_message = NULL
		WHERE id = $1 AND status = 'processing'`
	tag, err := tx.Exec(ctx, finish, id)
	if err != nil {
		return fmt.Errorf("mark concluido: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrStaleClaim
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit complete tx: %w", err)
	}
	return nil
}

// MarkError records a terminal failure with its human-readable message.
// It only applies while the row is still processing; a row already
// finalized by another worker stays as committed and ErrStaleClaim is
// returned instead.
func (s *SearchStore) MarkError(ctx context.Context, id int64, message string) error {
	const q = `
		UPDATE buscas SET status = 'error', error_message = $2, finished_at = NOW()
		WHERE id = $1 AND status = 'processing'`
	tag, err := s.db.Exec(ctx, q, id, message)
	if err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrStaleClaim
	}
	return nil
}

// ClaimNext claims up to limit waiting searches in submission order.
//
// The SELECT locks the chosen rows FOR UPDATE and skips rows already
// locked by a concurrent claimer, so a claimed-but-uncommitted row is
// invisible to competitors rather than a blocking point. The status flip
// to processing happens inside the same transaction: a claimer that dies
// before commit releases its locks and the rows become claimable again
// with no sweeper involved.
func (s *SearchStore) ClaimNext(ctx context.Context, limit int) ([]store.Search, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := fmt.Sprintf(`
		SELECT %s FROM buscas
		WHERE status = 'waiting'
		ORDER BY data_busca ASC, id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, searchColumns)

	rows, err := tx.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("select claimable: %w", err)
	}
	claimed, err := collectSearches(rows)
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit empty claim: %w", err)
		}
		return nil, nil
	}

	ids := make([]int64, len(claimed))
	for i, search := range claimed {
		ids[i] = search.ID
	}
	const mark = `UPDATE buscas SET status = 'processing', processing_at = NOW() WHERE id = ANY($1)`
	if _, err := tx.Exec(ctx, mark, ids); err != nil {
		return nil, fmt.Errorf("mark claimed processing: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}

	for i := range claimed {
		claimed[i].Status = store.SearchProcessing
	}
	return claimed, nil
}

// ReclaimStale returns processing rows older than the cutoff to waiting.
// This recovers jobs whose worker committed a claim and then died before
// writing a terminal state. Disabled unless the coordinator is configured
// with a positive stale timeout.
func (s *SearchStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	const q = `
		UPDATE buscas
		SET status = 'waiting', processing_at = NULL
		WHERE status = 'processing' AND processing_at < NOW() - $1::interval`
	tag, err := s.db.Exec(ctx, q, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("reclaim stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// QueueStats reports per-status counts and a preview of the queue head.
func (s *SearchStore) QueueStats(ctx context.Context) (store.QueueStats, error) {
	const counts = `SELECT status, COUNT(*) FROM buscas GROUP BY status`
	rows, err := s.db.Query(ctx, counts)
	if err != nil {
		return store.QueueStats{}, fmt.Errorf("count buscas: %w", err)
	}
	defer rows.Close()

	var stats store.QueueStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return store.QueueStats{}, fmt.Errorf("scan status count: %w", err)
		}
		switch store.SearchStatus(status) {
		case store.SearchWaiting:
			stats.Waiting = count
		case store.SearchProcessing:
			stats.Processing = count
		case store.SearchConcluido:
			stats.Completed = count
		case store.SearchError:
			stats.Errors = count
		}
	}
	if err := rows.Err(); err != nil {
		return store.QueueStats{}, fmt.Errorf("iterate status counts: %w", err)
	}

	next := fmt.Sprintf(`
		SELECT %s FROM buscas
		WHERE status = 'waiting'
		ORDER BY data_busca ASC, id ASC
		LIMIT 5`, searchColumns)
	nextRows, err := s.db.Query(ctx, next)
	if err != nil {
		return store.QueueStats{}, fmt.Errorf("select queue head: %w", err)
	}
	defer nextRows.Close()
	stats.NextUp, err = collectSearches(nextRows)
	if err != nil {
		return store.QueueStats{}, err
	}
	return stats, nil
}

func (s *SearchStore) listLeads(ctx context.Context, searchID int64) ([]store.Lead, error) {
	const q = `
		SELECT id, busca_id, nome_empresa, nome_lead, telefone, localizacao,
			avaliacao_media, reviews, tipo_empresa, website
		FROM leads WHERE busca_id = $1 ORDER BY id`
	rows, err := s.db.Query(ctx, q, searchID)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var leads []store.Lead
	for rows.Next() {
		var lead store.Lead
		var telefone *string
		if err := rows.Scan(
			&lead.ID,
			&lead.SearchID,
			&lead.NomeEmpresa,
			&lead.NomeLead,
			&telefone,
			&lead.Localizacao,
			&lead.Avaliacao,
			&lead.Reviews,
			&lead.TipoEmpresa,
			&lead.Website,
		); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		if telefone != nil {
			lead.Telefone = *telefone
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return leads, nil
}

func scanSearch(row pgx.Row) (store.Search, error) {
	var search store.Search
	err := row.Scan(
		&search.ID,
		&search.CampaignID,
		&search.Region,
		&search.BusinessType,
		&search.Keywords,
		&search.MaxResults,
		&search.Status,
		&search.SubmittedAt,
		&search.ProcessingAt,
		&search.FinishedAt,
		&search.ErrorMessage,
	)
	return search, err
}

func collectSearches(rows pgx.Rows) ([]store.Search, error) {
	defer rows.Close()
	var searches []store.Search
	for rows.Next() {
		search, err := scanSearch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan busca: %w", err)
		}
		searches = append(searches, search)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buscas: %w", err)
	}
	return searches, nil
}
