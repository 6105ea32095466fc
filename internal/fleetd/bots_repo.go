package fleetd

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/betbot/botdash/internal/domain"
)

// ErrBotNotFound bot 不存在
var ErrBotNotFound = errors.New("bot not found")

// BotRepo bot 表（SQLite）
type BotRepo struct {
	db *sql.DB
}

// OpenBotRepo 打开（必要时创建）数据库并迁移
// path 为 ":memory:" 时使用内存库
func OpenBotRepo(path string) (*BotRepo, error) {
	if path == "" {
		return nil, errors.New("db path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	r := &BotRepo{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// Close 关闭数据库
func (r *BotRepo) Close() error {
	return r.db.Close()
}

func (r *BotRepo) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS bots (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  bot_type TEXT NOT NULL,
  status TEXT NOT NULL,
  command TEXT NOT NULL,
  working_directory TEXT NOT NULL DEFAULT '/app',
  port INTEGER,
  environment_vars TEXT NOT NULL DEFAULT '{}',
  pid INTEGER,
  created_at TEXT NOT NULL,
  last_started TEXT,
  last_stopped TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_bots_status ON bots(status);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const botColumns = `id,name,description,bot_type,status,command,working_directory,port,environment_vars,pid,created_at,last_started,last_stopped`

func formatTime(t *domain.Timestamp) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) *domain.Timestamp {
	if !s.Valid || s.String == "" {
		return nil
	}
	ts, err := domain.ParseTimestamp(s.String)
	if err != nil {
		return nil
	}
	return &ts
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(row rowScanner) (domain.Bot, error) {
	var (
		b                                    domain.Bot
		port, pid                            sql.NullInt64
		env                                  string
		createdAt, lastStarted, lastStopped sql.NullString
	)
	if err := row.Scan(&b.ID, &b.Name, &b.Description, &b.Type, &b.Status, &b.Command, &b.WorkingDirectory,
		&port, &env, &pid, &createdAt, &lastStarted, &lastStopped); err != nil {
		return domain.Bot{}, err
	}
	if port.Valid {
		v := int(port.Int64)
		b.Port = &v
	}
	if pid.Valid {
		v := int(pid.Int64)
		b.PID = &v
	}
	if env != "" {
		if err := json.Unmarshal([]byte(env), &b.EnvironmentVars); err != nil {
			return domain.Bot{}, fmt.Errorf("decode environment_vars: %w", err)
		}
	}
	b.CreatedAt = parseTime(createdAt)
	b.LastStarted = parseTime(lastStarted)
	b.LastStopped = parseTime(lastStopped)
	return b, nil
}

// Insert 新增 bot
func (r *BotRepo) Insert(ctx context.Context, b domain.Bot) error {
	env, err := json.Marshal(b.EnvironmentVars)
	if err != nil {
		return err
	}
	if b.EnvironmentVars == nil {
		env = []byte("{}")
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO bots (`+botColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.Name, b.Description, b.Type, b.Status, b.Command, b.WorkingDirectory,
		nullInt(b.Port), string(env), nullInt(b.PID), formatTime(b.CreatedAt), formatTime(b.LastStarted), formatTime(b.LastStopped))
	if err != nil {
		return fmt.Errorf("insert bot: %w", err)
	}
	return nil
}

// Get 按 id 读取；不存在时返回 ErrBotNotFound
func (r *BotRepo) Get(ctx context.Context, id string) (domain.Bot, error) {
	b, err := scanBot(r.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Bot{}, ErrBotNotFound
	}
	return b, err
}

// List 按创建时间返回全部 bot
func (r *BotRepo) List(ctx context.Context) ([]domain.Bot, error) {
	return r.query(ctx, `SELECT `+botColumns+` FROM bots ORDER BY created_at ASC, id ASC`)
}

// ListRunning 返回 running 状态的 bot
func (r *BotRepo) ListRunning(ctx context.Context) ([]domain.Bot, error) {
	return r.query(ctx, `SELECT `+botColumns+` FROM bots WHERE status=? ORDER BY created_at ASC, id ASC`, domain.BotStatusRunning)
}

func (r *BotRepo) query(ctx context.Context, q string, args ...any) ([]domain.Bot, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Bot{}
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Counts 返回 (总数, running 数)
func (r *BotRepo) Counts(ctx context.Context) (total, running int, err error) {
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END), 0) FROM bots`, domain.BotStatusRunning)
	err = row.Scan(&total, &running)
	return
}

// Update 按 BotSpec 的非空字段做部分更新
func (r *BotRepo) Update(ctx context.Context, id string, spec domain.BotSpec) (domain.Bot, error) {
	b, err := r.Get(ctx, id)
	if err != nil {
		return domain.Bot{}, err
	}
	if spec.Name != "" {
		b.Name = spec.Name
	}
	if spec.Description != "" {
		b.Description = spec.Description
	}
	if spec.Command != "" {
		b.Command = spec.Command
	}
	if spec.WorkingDirectory != "" {
		b.WorkingDirectory = spec.WorkingDirectory
	}
	if spec.EnvironmentVars != nil {
		b.EnvironmentVars = spec.EnvironmentVars
	}
	if spec.Port != nil {
		b.Port = spec.Port
	}
	env, err := json.Marshal(b.EnvironmentVars)
	if err != nil {
		return domain.Bot{}, err
	}
	if b.EnvironmentVars == nil {
		env = []byte("{}")
	}
	_, err = r.db.ExecContext(ctx, `UPDATE bots SET name=?, description=?, command=?, working_directory=?, environment_vars=?, port=? WHERE id=?`,
		b.Name, b.Description, b.Command, b.WorkingDirectory, string(env), nullInt(b.Port), id)
	if err != nil {
		return domain.Bot{}, fmt.Errorf("update bot: %w", err)
	}
	return b, nil
}

// SetStatus 更新状态；running 时记录 pid 与 last_started，stopped 时清空 pid 并记录 last_stopped
func (r *BotRepo) SetStatus(ctx context.Context, id string, status domain.BotStatus, pid *int, now time.Time) error {
	ts := domain.NewTimestamp(now)
	var (
		res sql.Result
		err error
	)
	switch status {
	case domain.BotStatusRunning:
		res, err = r.db.ExecContext(ctx, `UPDATE bots SET status=?, pid=COALESCE(?, pid), last_started=? WHERE id=?`, status, nullInt(pid), formatTime(&ts), id)
	case domain.BotStatusStopped:
		res, err = r.db.ExecContext(ctx, `UPDATE bots SET status=?, pid=NULL, last_stopped=? WHERE id=?`, status, formatTime(&ts), id)
	default:
		res, err = r.db.ExecContext(ctx, `UPDATE bots SET status=?, pid=COALESCE(?, pid) WHERE id=?`, status, nullInt(pid), id)
	}
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBotNotFound
	}
	return nil
}

// Delete 删除 bot
func (r *BotRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bots WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBotNotFound
	}
	return nil
}
