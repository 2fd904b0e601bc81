// Package sqlite is an embedded [store.Store] for single-node deployments
// and the CLI, built on go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cho1y0/neulbom/internal/store"
	"github.com/cho1y0/neulbom/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS tb_sensing (
    sensing_id INTEGER PRIMARY KEY AUTOINCREMENT,
    sensor_id  INTEGER NOT NULL DEFAULT 0,
    value      TEXT    NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tb_sensing_created_at ON tb_sensing(created_at);

CREATE TABLE IF NOT EXISTS tb_voice_log (
    voice_id          INTEGER PRIMARY KEY AUTOINCREMENT,
    senior_id         INTEGER NOT NULL,
    sensing_id        INTEGER NOT NULL DEFAULT 0,
    voice_text        TEXT    NOT NULL DEFAULT '',
    response_time_sec REAL,
    utterance_length  REAL    NOT NULL DEFAULT 0,
    created_at        DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tb_voice_log_senior ON tb_voice_log(senior_id, created_at);

CREATE TABLE IF NOT EXISTS tb_analysis (
    analysis_id     INTEGER PRIMARY KEY AUTOINCREMENT,
    voice_idx       INTEGER NOT NULL REFERENCES tb_voice_log(voice_id) ON DELETE CASCADE,
    emotion_label   TEXT    NOT NULL,
    stt_text        TEXT    NOT NULL DEFAULT '',
    behavior_policy TEXT,
    hap_ratio       REAL    NOT NULL DEFAULT 0,
    sad_ratio       REAL    NOT NULL DEFAULT 0,
    neu_ratio       REAL    NOT NULL DEFAULT 0,
    ang_ratio       REAL    NOT NULL DEFAULT 0,
    anxi_ratio      REAL    NOT NULL DEFAULT 0,
    emba_ratio      REAL    NOT NULL DEFAULT 0,
    heart_ratio     REAL    NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tb_analysis_voice ON tb_analysis(voice_idx);
`

// Store is a [store.Store] backed by a SQLite file.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// One writer at a time; sqlite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle, for tests and tooling.
func (s *Store) DB() *sql.DB { return s.db }

var insertAnalysis = func() string {
	cols := make([]string, 0, len(store.RatioColumns))
	for _, c := range store.RatioColumns {
		cols = append(cols, c.Column)
	}
	return fmt.Sprintf(`INSERT INTO tb_analysis (voice_idx, emotion_label, stt_text, behavior_policy, %s)
		 VALUES (?, ?, ?, ?%s)`, strings.Join(cols, ", "), strings.Repeat(", ?", len(cols)))
}()

// SaveTurn writes the voice log and analysis rows in one transaction.
func (s *Store) SaveTurn(ctx context.Context, r store.Record) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO tb_voice_log (senior_id, sensing_id, voice_text, response_time_sec, utterance_length)
		 VALUES (?, ?, ?, ?, ?)`,
		r.SeniorID, r.SensingID, r.Transcript.Text,
		store.ResponseTime(r.Transcript), store.Round1(r.Transcript.DurationSec),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: insert voice log: %w", err)
	}
	voiceID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite store: voice id: %w", err)
	}

	var policy sql.NullString
	if r.Policy != "" {
		policy = sql.NullString{String: r.Policy, Valid: true}
	}
	args := []any{voiceID, string(r.Decision.FinalLabel), r.Transcript.Text, policy}
	for _, v := range store.Ratios(r.Decision) {
		args = append(args, v)
	}
	if _, err := tx.ExecContext(ctx, insertAnalysis, args...); err != nil {
		return 0, fmt.Errorf("sqlite store: insert analysis: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite store: commit: %w", err)
	}
	return voiceID, nil
}

// RecentAnalyses returns the newest turns for seniorID.
func (s *Store) RecentAnalyses(ctx context.Context, seniorID int64, limit int) ([]types.AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.voice_id, v.senior_id, v.sensing_id, v.voice_text,
		       v.response_time_sec, v.utterance_length, v.created_at,
		       COALESCE(a.emotion_label, ''),
		       COALESCE(a.hap_ratio, 0), COALESCE(a.sad_ratio, 0), COALESCE(a.neu_ratio, 0),
		       COALESCE(a.ang_ratio, 0), COALESCE(a.anxi_ratio, 0), COALESCE(a.emba_ratio, 0),
		       COALESCE(a.heart_ratio, 0)
		FROM tb_voice_log v
		LEFT JOIN tb_analysis a ON v.voice_id = a.voice_idx
		WHERE v.senior_id = ?
		ORDER BY v.created_at DESC, v.voice_id DESC
		LIMIT ?`, seniorID, store.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite store: recent analyses: %w", err)
	}
	defer rows.Close()

	var out []types.AnalysisRecord
	for rows.Next() {
		var (
			rec       types.AnalysisRecord
			sensingID int64
			rt        sql.NullFloat64
			label     string
		)
		ratios := make([]float64, len(store.RatioColumns))
		dest := []any{&rec.VoiceID, &rec.SeniorID, &sensingID, &rec.Text, &rt, &rec.Length, &rec.CreatedAt, &label}
		for i := range ratios {
			dest = append(dest, &ratios[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("sqlite store: scan analysis: %w", err)
		}
		rec.EmotionLabel = types.EmotionLabel(label)
		if sensingID != 0 {
			rec.SensingID = &sensingID
		}
		if rt.Valid {
			rec.ResponseTime = &rt.Float64
		}
		rec.Ratios = make(map[types.EmotionLabel]float64, len(ratios))
		for i, c := range store.RatioColumns {
			rec.Ratios[c.Label] = ratios[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: iterate analyses: %w", err)
	}
	return out, nil
}

// LatestSensingID returns the newest tb_sensing id.
func (s *Store) LatestSensingID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT sensing_id FROM tb_sensing ORDER BY created_at DESC, sensing_id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite store: latest sensing: %w", err)
	}
	return id, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite store: ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }
