package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// InsertVote records one up/down vote against a token.
func (d *DB) InsertVote(ctx context.Context, v *Vote) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO token_votes (id, token_set_id, token_key, vote_type, note, created_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.TokenSetID, v.TokenKey, v.VoteType, v.Note, nowMS())
	if err != nil {
		return fmt.Errorf("failed to record vote: %w", err)
	}
	return nil
}

// VoteTally is the per-token vote balance for a token set.
type VoteTally struct {
	TokenKey string
	Up       int64
	Down     int64
}

// TallyVotes aggregates votes per token key for a token set.
func (d *DB) TallyVotes(ctx context.Context, tokenSetID string) ([]VoteTally, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT token_key,
		       SUM(CASE WHEN vote_type = 'up' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN vote_type = 'down' THEN 1 ELSE 0 END)
		FROM token_votes WHERE token_set_id = ?
		GROUP BY token_key`, tokenSetID)
	if err != nil {
		return nil, fmt.Errorf("failed to tally votes: %w", err)
	}
	defer rows.Close()

	var out []VoteTally
	for rows.Next() {
		var t VoteTally
		if err := rows.Scan(&t.TokenKey, &t.Up, &t.Down); err != nil {
			return nil, fmt.Errorf("failed to read vote tally: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
