package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ethangolledge/vapebot/internal/models"
)

// sqlStore implements Store over database/sql. Queries are written with "?"
// placeholders and rebound for drivers that need numbered ones.
type sqlStore struct {
	db     *sql.DB
	name   string
	dollar bool
}

// rebind converts "?" placeholders into "$1", "$2", ... for PostgreSQL.
func (s *sqlStore) rebind(query string) string {
	if !s.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const setupColumns = `user_id, tokes, strength, method, reduce_amount, reduce_percent, created_at, updated_at, synced_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSetup(row rowScanner) (models.SetupRecord, error) {
	var (
		rec                     models.SetupRecord
		tokes, strength, amount sql.NullInt64
		method                  sql.NullString
		percent                 sql.NullFloat64
		syncedAt                sql.NullTime
	)
	err := row.Scan(&rec.UserID, &tokes, &strength, &method, &amount, &percent,
		&rec.CreatedAt, &rec.UpdatedAt, &syncedAt)
	if err != nil {
		return rec, err
	}
	rec.Tokes = intFromNull(tokes)
	rec.Strength = intFromNull(strength)
	rec.ReduceAmount = intFromNull(amount)
	if method.Valid {
		m := models.Method(method.String)
		rec.Method = &m
	}
	if percent.Valid {
		p := percent.Float64
		rec.ReducePercent = &p
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		rec.SyncedAt = &t
	}
	return rec, nil
}

func (s *sqlStore) GetSetup(ctx context.Context, userID string) (*models.SetupRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+setupColumns+` FROM setup_sessions WHERE user_id = ?`), userID)
	rec, err := scanSetup(row)
	if err == sql.ErrNoRows {
		slog.Debug(s.name+" GetSetup not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" GetSetup failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get setup for %s: %w", userID, err)
	}
	return &rec, nil
}

func (s *sqlStore) SaveSetup(ctx context.Context, rec models.SetupRecord) error {
	query := `
		INSERT INTO setup_sessions (` + setupColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id)
		DO UPDATE SET
			tokes = EXCLUDED.tokes,
			strength = EXCLUDED.strength,
			method = EXCLUDED.method,
			reduce_amount = EXCLUDED.reduce_amount,
			reduce_percent = EXCLUDED.reduce_percent,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			synced_at = EXCLUDED.synced_at`

	var synced any
	if rec.SyncedAt != nil {
		synced = *rec.SyncedAt
	}
	_, err := s.db.ExecContext(ctx, s.rebind(query), rec.UserID, nullableInt(rec.Tokes), nullableInt(rec.Strength),
		nullableMethod(rec.Method), nullableInt(rec.ReduceAmount), nullableFloat(rec.ReducePercent),
		rec.CreatedAt, rec.UpdatedAt, synced)
	if err != nil {
		slog.Error(s.name+" SaveSetup failed", "error", err, "userID", rec.UserID)
		return fmt.Errorf("failed to save setup for %s: %w", rec.UserID, err)
	}
	slog.Debug(s.name+" SaveSetup succeeded", "userID", rec.UserID)
	return nil
}

func (s *sqlStore) DeleteSetup(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM setup_sessions WHERE user_id = ?`), userID); err != nil {
		slog.Error(s.name+" DeleteSetup failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete setup for %s: %w", userID, err)
	}
	return nil
}

func (s *sqlStore) ListSetups(ctx context.Context, updatedBefore time.Time) ([]models.SetupRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+setupColumns+` FROM setup_sessions WHERE updated_at < ?`), updatedBefore)
	if err != nil {
		slog.Error(s.name+" ListSetups query failed", "error", err)
		return nil, fmt.Errorf("failed to query setups: %w", err)
	}
	defer rows.Close()

	var out []models.SetupRecord
	for rows.Next() {
		rec, err := scanSetup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan setup row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate setup rows: %w", err)
	}
	slog.Debug(s.name+" ListSetups succeeded", "count", len(out))
	return out, nil
}

func (s *sqlStore) GetFlowState(ctx context.Context, userID, flowType string) (*models.FlowState, error) {
	query := `SELECT user_id, flow_type, current_state, created_at, updated_at
			  FROM flow_states WHERE user_id = ? AND flow_type = ?`
	state, err := scanFlowState(s.db.QueryRowContext(ctx, s.rebind(query), userID, flowType))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" GetFlowState failed", "error", err, "userID", userID, "flowType", flowType)
		return nil, fmt.Errorf("failed to get flow state for %s: %w", userID, err)
	}
	return &state, nil
}

func scanFlowState(row rowScanner) (models.FlowState, error) {
	var state models.FlowState
	err := row.Scan(&state.UserID, &state.FlowType, &state.CurrentState, &state.CreatedAt, &state.UpdatedAt)
	return state, err
}

func (s *sqlStore) SaveFlowState(ctx context.Context, state models.FlowState) error {
	query := `
		INSERT INTO flow_states (user_id, flow_type, current_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, flow_type)
		DO UPDATE SET
			current_state = EXCLUDED.current_state,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, s.rebind(query), state.UserID, state.FlowType, state.CurrentState,
		state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error(s.name+" SaveFlowState failed", "error", err, "userID", state.UserID, "flowType", state.FlowType)
		return fmt.Errorf("failed to save flow state for %s: %w", state.UserID, err)
	}
	slog.Debug(s.name+" SaveFlowState succeeded", "userID", state.UserID, "flowType", state.FlowType, "state", state.CurrentState)
	return nil
}

func (s *sqlStore) DeleteFlowState(ctx context.Context, userID, flowType string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM flow_states WHERE user_id = ? AND flow_type = ?`), userID, flowType)
	if err != nil {
		slog.Error(s.name+" DeleteFlowState failed", "error", err, "userID", userID, "flowType", flowType)
		return fmt.Errorf("failed to delete flow state for %s: %w", userID, err)
	}
	return nil
}

func (s *sqlStore) ListFlowStates(ctx context.Context, flowType string, updatedBefore time.Time) ([]models.FlowState, error) {
	query := `SELECT user_id, flow_type, current_state, created_at, updated_at
			  FROM flow_states WHERE flow_type = ? AND updated_at < ?`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), flowType, updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to query flow states: %w", err)
	}
	defer rows.Close()

	var out []models.FlowState
	for rows.Next() {
		st, err := scanFlowState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow state row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqlStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO inbound_dedup (message_id, user_id, received_at) VALUES (?, ?, ?) ON CONFLICT (message_id) DO NOTHING`),
		messageID, userID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *sqlStore) PruneInbound(ctx context.Context, receivedBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM inbound_dedup WHERE received_at < ?`), receivedBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune inbound rows affected: %w", err)
	}
	if n > 0 {
		slog.Debug(s.name+" PruneInbound succeeded", "removed", n)
	}
	return int(n), nil
}

func (s *sqlStore) ArchiveSetup(ctx context.Context, rec models.SetupRecord) error {
	query := `
		INSERT INTO user_setup (user_id, tokes, strength, method, reduce_amount, reduce_percent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id)
		DO UPDATE SET
			tokes = EXCLUDED.tokes,
			strength = EXCLUDED.strength,
			method = EXCLUDED.method,
			reduce_amount = EXCLUDED.reduce_amount,
			reduce_percent = EXCLUDED.reduce_percent,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, s.rebind(query), rec.UserID, nullableInt(rec.Tokes), nullableInt(rec.Strength),
		nullableMethod(rec.Method), nullableInt(rec.ReduceAmount), nullableFloat(rec.ReducePercent),
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		slog.Error(s.name+" ArchiveSetup failed", "error", err, "userID", rec.UserID)
		return fmt.Errorf("failed to archive setup for %s: %w", rec.UserID, err)
	}
	slog.Info(s.name+" ArchiveSetup succeeded", "userID", rec.UserID)
	return nil
}

// GetArchivedSetup reads a user's row from the archive table, or nil if absent.
func (s *sqlStore) GetArchivedSetup(ctx context.Context, userID string) (*models.SetupRecord, error) {
	query := `SELECT user_id, tokes, strength, method, reduce_amount, reduce_percent, created_at, updated_at, NULL
			  FROM user_setup WHERE user_id = ?`
	rec, err := scanSetup(s.db.QueryRowContext(ctx, s.rebind(query), userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get archived setup for %s: %w", userID, err)
	}
	return &rec, nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug("Closing " + s.name + " database connection")
	if err := s.db.Close(); err != nil {
		slog.Error("Failed to close "+s.name+" database", "error", err)
		return err
	}
	return nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableMethod(m *models.Method) any {
	if m == nil {
		return nil
	}
	return string(*m)
}

func intFromNull(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
