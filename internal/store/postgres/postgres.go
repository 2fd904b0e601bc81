// Package postgres is a PostgreSQL [store.Store] built on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cho1y0/neulbom/internal/store"
	"github.com/cho1y0/neulbom/pkg/types"
)

// Schema creates the voice log and analysis tables. tb_sensing is normally
// owned by the sensor service; the minimal definition here lets a fresh
// database answer latest-sensing queries.
const Schema = `
CREATE TABLE IF NOT EXISTS tb_sensing (
    sensing_id  BIGSERIAL    PRIMARY KEY,
    sensor_id   BIGINT       NOT NULL DEFAULT 0,
    value       TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tb_sensing_created_at ON tb_sensing (created_at);

CREATE TABLE IF NOT EXISTS tb_voice_log (
    voice_id          BIGSERIAL         PRIMARY KEY,
    senior_id         BIGINT            NOT NULL,
    sensing_id        BIGINT            NOT NULL DEFAULT 0,
    voice_text        TEXT              NOT NULL DEFAULT '',
    response_time_sec DOUBLE PRECISION,
    utterance_length  DOUBLE PRECISION  NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ       NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tb_voice_log_senior ON tb_voice_log (senior_id, created_at);

CREATE TABLE IF NOT EXISTS tb_analysis (
    analysis_id     BIGSERIAL         PRIMARY KEY,
    voice_idx       BIGINT            NOT NULL REFERENCES tb_voice_log (voice_id) ON DELETE CASCADE,
    emotion_label   TEXT              NOT NULL,
    stt_text        TEXT              NOT NULL DEFAULT '',
    behavior_policy TEXT,
    hap_ratio       DOUBLE PRECISION  NOT NULL DEFAULT 0,
    sad_ratio       DOUBLE PRECISION  NOT NULL DEFAULT 0,
    neu_ratio       DOUBLE PRECISION  NOT NULL DEFAULT 0,
    ang_ratio       DOUBLE PRECISION  NOT NULL DEFAULT 0,
    anxi_ratio      DOUBLE PRECISION  NOT NULL DEFAULT 0,
    emba_ratio      DOUBLE PRECISION  NOT NULL DEFAULT 0,
    heart_ratio     DOUBLE PRECISION  NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tb_analysis_voice ON tb_analysis (voice_idx);
`

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Store is a [store.Store] backed by PostgreSQL.
type Store struct {
	db    DB
	close func()
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn, verifies the connection and applies [Schema].
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	s := &Store{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection or pool. The caller owns db.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate applies [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
}

var insertAnalysis = func() string {
	cols := make([]string, 0, len(store.RatioColumns))
	params := make([]string, 0, len(store.RatioColumns))
	for i, c := range store.RatioColumns {
		cols = append(cols, c.Column)
		params = append(params, fmt.Sprintf("$%d", i+5))
	}
	return fmt.Sprintf(`
		INSERT INTO tb_analysis (voice_idx, emotion_label, stt_text, behavior_policy, %s)
		VALUES ($1, $2, $3, $4, %s)`, strings.Join(cols, ", "), strings.Join(params, ", "))
}()

// SaveTurn writes the voice log and analysis rows in one transaction.
func (s *Store) SaveTurn(ctx context.Context, r store.Record) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres store: begin: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	const voiceSQL = `
		INSERT INTO tb_voice_log (senior_id, sensing_id, voice_text, response_time_sec, utterance_length)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING voice_id`

	var voiceID int64
	err = tx.QueryRow(ctx, voiceSQL,
		r.SeniorID, r.SensingID, r.Transcript.Text,
		store.ResponseTime(r.Transcript), store.Round1(r.Transcript.DurationSec),
	).Scan(&voiceID)
	if err != nil {
		return 0, fmt.Errorf("postgres store: insert voice log: %w", err)
	}

	args := []any{voiceID, string(r.Decision.FinalLabel), r.Transcript.Text, nullable(r.Policy)}
	for _, v := range store.Ratios(r.Decision) {
		args = append(args, v)
	}
	if _, err := tx.Exec(ctx, insertAnalysis, args...); err != nil {
		return 0, fmt.Errorf("postgres store: insert analysis: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres store: commit: %w", err)
	}
	return voiceID, nil
}

// RecentAnalyses returns the newest turns for seniorID. Voice logs without
// an analysis row are included with an empty label.
func (s *Store) RecentAnalyses(ctx context.Context, seniorID int64, limit int) ([]types.AnalysisRecord, error) {
	const query = `
		SELECT v.voice_id, v.senior_id, v.sensing_id, v.voice_text,
		       v.response_time_sec, v.utterance_length, v.created_at,
		       COALESCE(a.emotion_label, ''),
		       COALESCE(a.hap_ratio, 0), COALESCE(a.sad_ratio, 0), COALESCE(a.neu_ratio, 0),
		       COALESCE(a.ang_ratio, 0), COALESCE(a.anxi_ratio, 0), COALESCE(a.emba_ratio, 0),
		       COALESCE(a.heart_ratio, 0)
		FROM tb_voice_log v
		LEFT JOIN tb_analysis a ON v.voice_id = a.voice_idx
		WHERE v.senior_id = $1
		ORDER BY v.created_at DESC, v.voice_id DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, seniorID, store.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent analyses: %w", err)
	}
	defer rows.Close()

	var out []types.AnalysisRecord
	for rows.Next() {
		var (
			rec       types.AnalysisRecord
			sensingID int64
			label     string
			created   time.Time
		)
		ratios := make([]float64, len(store.RatioColumns))
		dest := []any{
			&rec.VoiceID, &rec.SeniorID, &sensingID, &rec.Text,
			&rec.ResponseTime, &rec.Length, &created, &label,
		}
		for i := range ratios {
			dest = append(dest, &ratios[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("postgres store: scan analysis: %w", err)
		}
		rec.CreatedAt = created
		rec.EmotionLabel = types.EmotionLabel(label)
		if sensingID != 0 {
			rec.SensingID = &sensingID
		}
		rec.Ratios = make(map[types.EmotionLabel]float64, len(ratios))
		for i, c := range store.RatioColumns {
			rec.Ratios[c.Label] = ratios[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate analyses: %w", err)
	}
	return out, nil
}

// LatestSensingID returns the newest tb_sensing id.
func (s *Store) LatestSensingID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `SELECT sensing_id FROM tb_sensing ORDER BY created_at DESC LIMIT 1`).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("postgres store: latest sensing: %w", err)
	}
	return id, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close releases the pool when the store opened it.
func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
