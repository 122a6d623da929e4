package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "tagbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./tagbot.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writes to the same row and keeps :memory: shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertMember(ctx context.Context, m Member) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if m.LastSeen.IsZero() {
		m.LastSeen = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members(group_id, user_id, username, first_name, last_name, last_seen)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(group_id, user_id) DO UPDATE SET
		   username=excluded.username,
		   first_name=excluded.first_name,
		   last_name=excluded.last_name,
		   last_seen=excluded.last_seen`,
		m.GroupID, m.UserID, nullStr(m.Username), nullStr(m.FirstName), nullStr(m.LastName), m.LastSeen.UnixNano(),
	)
	return err
}

func (s *sqliteStore) ListMembers(ctx context.Context, groupID int64, handleOnly bool) ([]Member, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT group_id, user_id, username, first_name, last_name, last_seen
	      FROM members WHERE group_id = ?`
	if handleOnly {
		q += ` AND username IS NOT NULL AND username <> ''`
	}
	q += ` ORDER BY last_seen DESC, user_id ASC`

	rows, err := s.db.QueryContext(ctx, q, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Member, 0, 64)
	for rows.Next() {
		var (
			m                 Member
			user, first, last sql.NullString
			seen              int64
		)
		if err := rows.Scan(&m.GroupID, &m.UserID, &user, &first, &last, &seen); err != nil {
			return nil, err
		}
		m.Username, m.FirstName, m.LastName = user.String, first.String, last.String
		m.LastSeen = time.Unix(0, seen)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MemberStats(ctx context.Context, groupID int64) (MemberStats, error) {
	if s == nil || s.db == nil {
		return MemberStats{}, ErrDisabled
	}
	var (
		st   MemberStats
		seen sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN username IS NOT NULL AND username <> '' THEN 1 ELSE 0 END), 0),
		        MAX(last_seen)
		 FROM members WHERE group_id = ?`, groupID,
	).Scan(&st.Total, &st.WithHandle, &seen)
	if err != nil {
		return MemberStats{}, err
	}
	if seen.Valid {
		st.LastSeen = time.Unix(0, seen.Int64)
	}
	return st, nil
}

func (s *sqliteStore) Groups(ctx context.Context) ([]int64, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT group_id FROM members ORDER BY group_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, action, target, ok, fail, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID,
		e.Action, nullStr(e.Target), e.OK, e.Fail, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

