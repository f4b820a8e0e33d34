// Package store provides the Data Access Layer for Gatekeeper.
// It handles all direct interactions with PostgreSQL using the pgx driver.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check to verify that RulesetStore implements RulesetRepository.
var _ RulesetRepository = (*RulesetStore)(nil)

var (
	// ErrNoRuleset is returned when no ruleset document has been saved yet.
	ErrNoRuleset = errors.New("no ruleset saved")

	// ErrRulesetUnchanged is returned by PutRuleset when the document is
	// identical to the current one. The current version is still populated.
	ErrRulesetUnchanged = errors.New("ruleset unchanged")
)

// rulesetWriteLock serialises writers so two concurrent saves cannot both
// observe the same "current" checksum.
const rulesetWriteLock int64 = 0x6761746b72756c65 // "gatkrule"

// Ruleset is one saved version of the rules document. It mirrors the
// 'rulesets' table.
type Ruleset struct {
	Version   int64     `db:"id"`
	Checksum  string    `db:"checksum"`
	Document  string    `db:"document"`
	CreatedBy string    `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
}

// RulesetRepository defines ruleset persistence operations.
type RulesetRepository interface {
	// PutRuleset saves r.Document as the new current version and populates
	// Version, Checksum and CreatedAt.
	PutRuleset(ctx context.Context, r *Ruleset) error

	// LatestRuleset returns the current version or ErrNoRuleset.
	LatestRuleset(ctx context.Context) (*Ruleset, error)

	// ListRulesets returns a page of versions, newest first, without their
	// documents, and the total number of versions.
	ListRulesets(ctx context.Context, limit, offset int) ([]*Ruleset, int64, error)
}

// RulesetStore is the PostgreSQL implementation of RulesetRepository.
type RulesetStore struct {
	db *pgxpool.Pool
}

// NewRulesetStore creates a repository over the given connection pool.
func NewRulesetStore(db *pgxpool.Pool) *RulesetStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &RulesetStore{db: db}
}

// Checksum returns the hex SHA-256 of a ruleset document.
func Checksum(document string) string {
	sum := sha256.Sum256([]byte(document))
	return hex.EncodeToString(sum[:])
}

// PutRuleset stores a new version unless the document matches the current
// one, in which case r describes the current version and ErrRulesetUnchanged
// is returned. Restoring an older document creates a new version.
func (s *RulesetStore) PutRuleset(ctx context.Context, r *Ruleset) error {
	r.Checksum = Checksum(r.Document)

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, rulesetWriteLock); err != nil {
			return fmt.Errorf("failed to acquire ruleset lock: %w", err)
		}

		current, err := scanRuleset(tx.QueryRow(ctx, `
			SELECT id, checksum, document, created_by, created_at
			FROM rulesets
			ORDER BY id DESC
			LIMIT 1
		`))
		switch {
		case err == nil && current.Checksum == r.Checksum:
			*r = *current
			return ErrRulesetUnchanged
		case err != nil && !errors.Is(err, ErrNoRuleset):
			return err
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO rulesets (checksum, document, created_by)
			VALUES ($1, $2, $3)
			RETURNING id, created_at
		`, r.Checksum, r.Document, r.CreatedBy).Scan(&r.Version, &r.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert ruleset: %w", err)
		}
		return nil
	})

	return err
}

// LatestRuleset returns the highest version.
func (s *RulesetStore) LatestRuleset(ctx context.Context) (*Ruleset, error) {
	return scanRuleset(s.db.QueryRow(ctx, `
		SELECT id, checksum, document, created_by, created_at
		FROM rulesets
		ORDER BY id DESC
		LIMIT 1
	`))
}

// ListRulesets returns a page of version metadata ordered by version
// descending, plus the total count.
func (s *RulesetStore) ListRulesets(ctx context.Context, limit, offset int) ([]*Ruleset, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM rulesets").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count rulesets: %w", err)
	}

	// Optimization: skip the second query when the table is empty.
	if total == 0 {
		return []*Ruleset{}, 0, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, checksum, created_by, created_at
		FROM rulesets
		ORDER BY id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list rulesets: %w", err)
	}
	defer rows.Close()

	rulesets := make([]*Ruleset, 0, limit)
	for rows.Next() {
		r := &Ruleset{}
		if err := rows.Scan(&r.Version, &r.Checksum, &r.CreatedBy, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan ruleset row: %w", err)
		}
		rulesets = append(rulesets, r)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating ruleset rows: %w", err)
	}

	return rulesets, total, nil
}

func scanRuleset(row pgx.Row) (*Ruleset, error) {
	r := &Ruleset{}
	err := row.Scan(&r.Version, &r.Checksum, &r.Document, &r.CreatedBy, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRuleset
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ruleset: %w", err)
	}
	return r, nil
}
