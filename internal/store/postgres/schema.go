package postgres

import (
	"context"
	"fmt"
)

// schema holds the idempotent DDL for the four core tables. The service
// owns its schema; statements run once at startup inside a transaction.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS campanhas (
		id BIGSERIAL PRIMARY KEY,
		nome TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'ativa',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS buscas (
		id BIGSERIAL PRIMARY KEY,
		campanha_id BIGINT REFERENCES campanhas(id),
		regiao TEXT NOT NULL,
		tipo_empresa TEXT NOT NULL,
		palavras_chave TEXT[] NOT NULL DEFAULT '{}',
		qtd_max INT NOT NULL,
		status TEXT NOT NULL DEFAULT 'waiting',
		data_busca TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processing_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		error_message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_buscas_status_fila
		ON buscas (data_busca, id) WHERE status = 'waiting'`,
	`CREATE TABLE IF NOT EXISTS leads (
		id BIGSERIAL PRIMARY KEY,
		busca_id BIGINT NOT NULL REFERENCES buscas(id),
		nome_empresa TEXT NOT NULL,
		nome_lead TEXT NOT NULL DEFAULT '',
		telefone TEXT UNIQUE,
		localizacao TEXT NOT NULL DEFAULT '',
		avaliacao_media DOUBLE PRECISION NOT NULL DEFAULT 0,
		reviews INT NOT NULL DEFAULT 0,
		tipo_empresa TEXT NOT NULL DEFAULT '',
		website TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id BIGSERIAL PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_used_at TIMESTAMPTZ,
		use_count BIGINT NOT NULL DEFAULT 0,
		allowed_ips TEXT[]
	)`,
}

// EnsureSchema creates any missing tables and indexes.
func EnsureSchema(ctx context.Context, db DB) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
