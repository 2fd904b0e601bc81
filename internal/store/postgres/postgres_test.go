package postgres

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cho1y0/neulbom/internal/store"
	"github.com/cho1y0/neulbom/pkg/types"
)

// ---------------------------------------------------------------------------
// Test helpers: mock DB types
// ---------------------------------------------------------------------------

type mockRow struct {
	values []any
	err    error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.values)
}

// assign copies values into dest pointers by reflection.
func assign(dest, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(values), len(dest))
	}
	for i, v := range values {
		d := reflect.ValueOf(dest[i]).Elem()
		if v == nil {
			d.Set(reflect.Zero(d.Type()))
			continue
		}
		d.Set(reflect.ValueOf(v))
	}
	return nil
}

type mockRows struct {
	data   [][]any
	idx    int
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return nil }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error { return assign(dest, r.data[r.idx-1]) }

type execCall struct {
	sql  string
	args []any
}

// mockTx implements the parts of pgx.Tx the store uses. Other methods panic
// through the nil embedded interface.
type mockTx struct {
	pgx.Tx
	voiceID    int64
	queryErr   error
	execErr    error
	commitErr  error
	execs      []execCall
	queries    []execCall
	committed  bool
	rolledBack bool
}

func (t *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	t.queries = append(t.queries, execCall{sql, args})
	return &mockRow{values: []any{t.voiceID}, err: t.queryErr}
}

func (t *mockTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, execCall{sql, args})
	return pgconn.CommandTag{}, t.execErr
}

func (t *mockTx) Commit(ctx context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *mockTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type mockDB struct {
	tx       *mockTx
	beginErr error
	row      *mockRow
	rows     *mockRows
	queryErr error
	execErr  error
	pingErr  error
	lastSQL  string
	lastArgs []any
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	m.lastSQL, m.lastArgs = sql, args
	return m.row
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	m.lastSQL, m.lastArgs = sql, args
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.rows, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.lastSQL, m.lastArgs = sql, args
	return pgconn.CommandTag{}, m.execErr
}

func (m *mockDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	return m.tx, nil
}

func (m *mockDB) Ping(ctx context.Context) error { return m.pingErr }

func sampleRecord() store.Record {
	rt := 1.26
	return store.Record{
		SeniorID:  7,
		SensingID: 0,
		Transcript: types.Transcript{
			Text:            "오늘 산책 다녀왔어",
			DurationSec:     4.04,
			ResponseTimeSec: &rt,
		},
		Decision: types.FusionDecision{
			FinalLabel: types.EmotionHappiness,
			Candidates: map[types.EmotionLabel]float64{
				types.EmotionHappiness: 81.5,
				types.EmotionHurt:      3.25,
			},
		},
		Policy: "low",
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSaveTurn(t *testing.T) {
	tx := &mockTx{voiceID: 42}
	s := New(&mockDB{tx: tx})

	id, err := s.SaveTurn(context.Background(), sampleRecord())
	if err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}
	if id != 42 {
		t.Errorf("voice id = %d, want 42", id)
	}
	if !tx.committed || tx.rolledBack {
		t.Errorf("committed=%v rolledBack=%v, want commit only", tx.committed, tx.rolledBack)
	}

	voice := tx.queries[0]
	if !strings.Contains(voice.sql, "tb_voice_log") {
		t.Errorf("first statement = %q", voice.sql)
	}
	if got := *(voice.args[3].(*float64)); got != 1.3 {
		t.Errorf("response time = %v, want 1.3", got)
	}
	if voice.args[4] != 4.0 {
		t.Errorf("utterance length = %v, want 4", voice.args[4])
	}

	analysis := tx.execs[0]
	if !strings.Contains(analysis.sql, "heart_ratio") || !strings.Contains(analysis.sql, "$11") {
		t.Errorf("analysis sql = %q", analysis.sql)
	}
	if analysis.args[0] != int64(42) || analysis.args[1] != "happiness" {
		t.Errorf("analysis args = %v", analysis.args[:2])
	}
	if analysis.args[4] != 81.5 || analysis.args[10] != 3.25 || analysis.args[6] != 0.0 {
		t.Errorf("ratios = %v", analysis.args[4:])
	}
}

func TestSaveTurn_NilResponseTime(t *testing.T) {
	tx := &mockTx{voiceID: 1}
	r := sampleRecord()
	r.Transcript.ResponseTimeSec = nil
	r.Policy = ""
	if _, err := New(&mockDB{tx: tx}).SaveTurn(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if p := tx.queries[0].args[3].(*float64); p != nil {
		t.Errorf("response time = %v, want NULL", *p)
	}
	if p := tx.execs[0].args[3].(*string); p != nil {
		t.Errorf("policy = %q, want NULL", *p)
	}
}

func TestSaveTurn_Failures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		db      *mockDB
		wantMsg string
	}{
		{"begin", &mockDB{beginErr: boom}, "begin"},
		{"voice insert", &mockDB{tx: &mockTx{queryErr: boom}}, "insert voice log"},
		{"analysis insert", &mockDB{tx: &mockTx{execErr: boom}}, "insert analysis"},
		{"commit", &mockDB{tx: &mockTx{commitErr: boom}}, "commit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := New(tt.db).SaveTurn(context.Background(), sampleRecord())
			if !errors.Is(err, boom) || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("err = %v, want %q wrapping boom", err, tt.wantMsg)
			}
			if id != 0 {
				t.Errorf("id = %d, want 0", id)
			}
			if tt.db.tx != nil && (tt.db.tx.committed || !tt.db.tx.rolledBack) {
				t.Errorf("transaction not rolled back")
			}
		})
	}
}

func TestRecentAnalyses(t *testing.T) {
	rt := 0.8
	now := time.Now()
	rows := &mockRows{data: [][]any{
		{int64(3), int64(7), int64(11), "두번째", &rt, 5.5, now, "sadness", 1.0, 90.0, 0.0, 2.0, 3.0, 4.0, 0.0},
		{int64(2), int64(7), int64(0), "첫번째", nil, 2.0, now.Add(-time.Minute), "", 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0},
	}}
	db := &mockDB{rows: rows}

	got, err := New(db).RecentAnalyses(context.Background(), 7, 0)
	if err != nil {
		t.Fatal(err)
	}
	if db.lastArgs[1] != 10 {
		t.Errorf("limit = %v, want default 10", db.lastArgs[1])
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	first := got[0]
	if first.VoiceID != 3 || first.EmotionLabel != types.EmotionSadness || *first.SensingID != 11 {
		t.Errorf("first = %+v", first)
	}
	if first.Ratios[types.EmotionSadness] != 90 || first.Ratios[types.EmotionEmbarrassment] != 4 {
		t.Errorf("ratios = %v", first.Ratios)
	}
	if got[1].SensingID != nil || got[1].ResponseTime != nil {
		t.Errorf("second = %+v, want nil sensing and response time", got[1])
	}
}

func TestLatestSensingID(t *testing.T) {
	s := New(&mockDB{row: &mockRow{values: []any{int64(99)}}})
	id, err := s.LatestSensingID(context.Background())
	if err != nil || id != 99 {
		t.Errorf("LatestSensingID = %d, %v", id, err)
	}

	s = New(&mockDB{row: &mockRow{err: pgx.ErrNoRows}})
	if _, err := s.LatestSensingID(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMigrateAndPing(t *testing.T) {
	boom := errors.New("boom")
	db := &mockDB{execErr: boom, pingErr: boom}
	s := New(db)
	if err := s.Migrate(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Migrate err = %v", err)
	}
	if !strings.Contains(db.lastSQL, "tb_analysis") {
		t.Error("Migrate did not send the schema")
	}
	if err := s.Ping(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Ping err = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close on borrowed db = %v", err)
	}
}
