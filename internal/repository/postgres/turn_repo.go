package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/kmoran/regionwars/internal/model"
)

// TurnRepo archives resolved turns. State snapshots are zstd-compressed
// before they hit the wire; commands and reports stay queryable JSONB.
type TurnRepo struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewTurnRepo creates a TurnRepo.
func NewTurnRepo(db *sql.DB) (*TurnRepo, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &TurnRepo{db: db, enc: enc, dec: dec}, nil
}

// Migrate creates the archive table if it does not exist.
func (r *TurnRepo) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS turns (
			game_id     TEXT        NOT NULL,
			turn        INTEGER     NOT NULL,
			state       BYTEA       NOT NULL,
			commands    JSONB,
			report      JSONB       NOT NULL,
			resolved_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (game_id, turn)
		)`)
	if err != nil {
		return fmt.Errorf("migrate turns: %w", err)
	}
	return nil
}

// RecordTurn inserts one resolved turn. Replays of an already archived
// turn are ignored, matching the engine's at-most-once resolution.
func (r *TurnRepo) RecordTurn(ctx context.Context, rec model.TurnRecord) error {
	compressed := r.enc.EncodeAll(rec.State, nil)
	var commands any
	if len(rec.Commands) > 0 {
		commands = []byte(rec.Commands)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO turns (game_id, turn, state, commands, report, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (game_id, turn) DO NOTHING`,
		rec.GameID, rec.Turn, compressed, commands, []byte(rec.Report), rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

// ListTurns returns the most recent turns of a game, newest first.
func (r *TurnRepo) ListTurns(ctx context.Context, gameID string, limit int) ([]model.TurnRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT game_id, turn, state, commands, report, resolved_at
		 FROM turns WHERE game_id = $1
		 ORDER BY turn DESC LIMIT $2`, gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var out []model.TurnRecord
	for rows.Next() {
		rec, err := r.scanTurn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// GetTurn returns one archived turn, or nil when absent.
func (r *TurnRepo) GetTurn(ctx context.Context, gameID string, turn int) (*model.TurnRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT game_id, turn, state, commands, report, resolved_at
		 FROM turns WHERE game_id = $1 AND turn = $2`, gameID, turn)
	rec, err := r.scanTurn(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *TurnRepo) scanTurn(row rowScanner) (*model.TurnRecord, error) {
	var rec model.TurnRecord
	var compressed []byte
	var commands sql.NullString
	if err := row.Scan(&rec.GameID, &rec.Turn, &compressed, &commands, &rec.Report, &rec.ResolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan turn: %w", err)
	}
	state, err := r.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress turn state: %w", err)
	}
	rec.State = state
	if commands.Valid {
		rec.Commands = []byte(commands.String)
	}
	return &rec, nil
}
