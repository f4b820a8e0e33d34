package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/gatekeeper/internal/member"
)

var (
	_ member.Adapter = (*MemberStore)(nil)
	_ member.Writer  = (*MemberStore)(nil)
)

// MemberStore serves plan-scoped member records from the 'member_plans'
// table. It is the Postgres backend of the plan-switch refetch.
type MemberStore struct {
	db *pgxpool.Pool
}

// NewMemberStore creates a member store over the given connection pool.
func NewMemberStore(db *pgxpool.Pool) *MemberStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &MemberStore{db: db}
}

// FetchMemberForPlan implements member.Adapter. A missing row or a null
// record maps to member.ErrNotFound.
func (s *MemberStore) FetchMemberForPlan(ctx context.Context, userID, planID string) (member.Record, error) {
	var rec member.Record

	err := s.db.QueryRow(ctx, `
		SELECT record
		FROM member_plans
		WHERE user_id = $1 AND plan_id = $2
	`, userID, planID).Scan(&rec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, member.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch member %q for plan %q: %w", userID, planID, err)
	}
	// A JSON null document scans into a nil map.
	if rec == nil {
		return nil, member.ErrNotFound
	}

	return rec, nil
}

// PutMember inserts or replaces the record for a user and plan.
func (s *MemberStore) PutMember(ctx context.Context, userID, planID string, rec member.Record) error {
	if rec == nil {
		return errors.New("store: member record cannot be nil")
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO member_plans (user_id, plan_id, record)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, plan_id)
		DO UPDATE SET record = EXCLUDED.record, updated_at = now()
	`, userID, planID, rec)
	if err != nil {
		return fmt.Errorf("failed to save member %q for plan %q: %w", userID, planID, err)
	}

	return nil
}
