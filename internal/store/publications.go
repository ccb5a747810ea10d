package store

import (
	"context"
	"database/sql"

	"github.com/trustrank/scoring-engine/pkg/models"
)

// RecordPublication upserts the last on-chain publication for a wallet.
func (s *Store) RecordPublication(ctx context.Context, p models.Publication) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO publications (wallet, last_published_score, model_version, tx_hash, published_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (wallet) DO UPDATE SET
			last_published_score = excluded.last_published_score,
			model_version = excluded.model_version,
			tx_hash = excluded.tx_hash,
			published_at = excluded.published_at;`,
		p.Wallet, p.LastPublishedScore, p.ModelVersion, p.TxHash, p.PublishedAt)
	return err
}

// GetPublication returns the last publication for a wallet, or ErrNotFound.
func (s *Store) GetPublication(ctx context.Context, wallet string) (*models.Publication, error) {
	var p models.Publication
	err := s.db.QueryRowContext(ctx, `
		SELECT wallet, last_published_score, model_version, tx_hash, published_at
		FROM publications WHERE wallet = ?;`, wallet).
		Scan(&p.Wallet, &p.LastPublishedScore, &p.ModelVersion, &p.TxHash, &p.PublishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
