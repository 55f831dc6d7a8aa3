package coordinator

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	createSignalsTableQuery = `CREATE TABLE IF NOT EXISTS callback_signals (
		token_sha256 TEXT PRIMARY KEY,
		outcome TEXT NOT NULL,
		signaled_at TIMESTAMPTZ NOT NULL
	)`

	claimSignalQuery = `INSERT INTO callback_signals (token_sha256, outcome, signaled_at)
	VALUES ($1,$2,$3)
	ON CONFLICT (token_sha256) DO NOTHING
	RETURNING token_sha256`

	releaseSignalQuery = `DELETE FROM callback_signals WHERE token_sha256 = $1`
)

// Schema returns the DDL the ledger needs.
func Schema() []string {
	return []string{createSignalsTableQuery}
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Claimer records that a token is about to be signaled.
type Claimer interface {
	Claim(ctx context.Context, token string, outcome Outcome) (bool, error)
	Release(ctx context.Context, token string) error
}

// Ledger stores token claims in postgres. Tokens are stored hashed.
type Ledger struct {
	db  DB
	now func() time.Time
}

func NewLedger(db DB) *Ledger {
	if db == nil {
		return nil
	}
	return &Ledger{db: db, now: time.Now}
}

// Claim returns false when the token was claimed before.
func (l *Ledger) Claim(ctx context.Context, token string, outcome Outcome) (bool, error) {
	if l == nil || l.db == nil {
		return false, fmt.Errorf("signal ledger not initialized")
	}
	if strings.TrimSpace(token) == "" {
		return false, errors.New("task token is required")
	}
	var stored string
	err := l.db.QueryRowContext(ctx, claimSignalQuery, TokenHash(token), string(outcome), l.now().UTC()).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim signal: %w", err)
	}
	return true, nil
}

func (l *Ledger) Release(ctx context.Context, token string) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("signal ledger not initialized")
	}
	if _, err := l.db.ExecContext(ctx, releaseSignalQuery, TokenHash(token)); err != nil {
		return fmt.Errorf("release signal: %w", err)
	}
	return nil
}

func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
