package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "IntentChain/internal/errors"
)

// MySQLStore 使用 MySQL 持久化提交审计记录。
type MySQLStore struct {
	db *sql.DB
}

var _ Store = (*MySQLStore)(nil)

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS execution_records (
        id VARCHAR(64) PRIMARY KEY,
        intent TEXT NOT NULL,
        synthetic_id VARCHAR(128) DEFAULT '',
        chain VARCHAR(64) DEFAULT '',
        address VARCHAR(255) DEFAULT '',
        plan LONGTEXT,
        effects TEXT,
        status VARCHAR(32) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_retries INT NOT NULL DEFAULT 3,
        last_error TEXT,
        error_code VARCHAR(64) DEFAULT '',
        result_digest VARCHAR(128) DEFAULT '',
        result_block_number VARCHAR(66) DEFAULT '',
        result_chain VARCHAR(64) DEFAULT '',
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_execution_status (status),
        INDEX idx_execution_address (address),
        INDEX idx_execution_updated (updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 execution_records 表失败")
	}
	if _, err := s.db.Exec(`ALTER TABLE execution_records ADD COLUMN result_chain VARCHAR(64) DEFAULT '' AFTER result_block_number`); err != nil {
		var mysqlErr *mysql.MySQLError
		if !(stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1060) {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "扩展 execution_records.result_chain 失败")
		}
	}
	return nil
}

const selectRecordColumns = `id, intent, synthetic_id, chain, address, plan, effects, status, attempts, max_retries,
        last_error, error_code, result_digest, result_block_number, result_chain, created_at, updated_at`

// Create 插入新的提交记录。
func (s *MySQLStore) Create(ctx context.Context, record *Record) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	if strings.TrimSpace(record.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录 ID 不能为空")
	}

	now := time.Now().Unix()
	record.CreatedAt = now
	record.UpdatedAt = now

	effectsValue, err := encodeEffects(record.Effects)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码执行效果失败")
	}

	const stmt = `INSERT INTO execution_records
        (id, intent, synthetic_id, chain, address, plan, effects, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		record.ID,
		record.Intent,
		record.SyntheticID,
		record.Chain,
		record.Address,
		string(record.Plan),
		effectsValue,
		record.Status,
		record.Attempts,
		record.MaxRetries,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrRecordConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入提交记录失败")
	}
	return nil
}

// Get 查询指定记录。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Record, error) {
	stmt := `SELECT ` + selectRecordColumns + ` FROM execution_records WHERE id = ?`
	row := s.db.QueryRowContext(ctx, stmt, id)
	record, err := scanRecord(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询提交记录失败")
	}
	return record, nil
}

// Claim 将记录标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Record, error) {
	const updateStmt = `UPDATE execution_records SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusRunning,
		now,
		id,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新记录状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		record, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		switch record.Status {
		case StatusSucceeded:
			return record, ErrRecordCompleted
		case StatusRunning:
			return record, ErrRecordConflict
		default:
			if record.Attempts >= record.MaxRetries {
				return record, ErrRecordExhausted
			}
			return record, ErrRecordConflict
		}
	}
	return s.Get(ctx, id)
}

// MarkSucceeded 写入提交结果并将记录置为成功。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, outcome Outcome) error {
	const stmt = `UPDATE execution_records SET status = ?, result_digest = ?, result_block_number = ?, result_chain = ?,
        updated_at = ?, last_error = '', error_code = '' WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusSucceeded,
		outcome.Digest,
		outcome.BlockNumber,
		outcome.Chain,
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记提交成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkFailed 记录失败原因,并在必要时终止重试。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	stmt := `UPDATE execution_records SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`
	args := []any{StatusFailed, lastError, string(code), time.Now().Unix(), id}
	if terminal {
		stmt = `UPDATE execution_records SET status = ?, last_error = ?, error_code = ?, attempts = max_retries, updated_at = ? WHERE id = ?`
	}

	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记提交失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// List 返回符合过滤条件的记录。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	opts.applyDefaults()

	query := `SELECT ` + selectRecordColumns + ` FROM execution_records`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询提交记录列表失败")
	}
	defer rows.Close()

	records := make([]*Record, 0, opts.Limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析提交记录失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历提交记录失败")
	}
	return records, nil
}

// Stats 返回符合过滤条件的聚合统计。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS pending,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS running,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS succeeded,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM execution_records`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	row := s.db.QueryRowContext(ctx, query, args...)

	var stats Stats
	if err := row.Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询提交统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var outcome Outcome
	var plan, effects sql.NullString

	if err := row.Scan(
		&record.ID,
		&record.Intent,
		&record.SyntheticID,
		&record.Chain,
		&record.Address,
		&plan,
		&effects,
		&record.Status,
		&record.Attempts,
		&record.MaxRetries,
		&record.LastError,
		&record.ErrorCode,
		&outcome.Digest,
		&outcome.BlockNumber,
		&outcome.Chain,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if plan.Valid && strings.TrimSpace(plan.String) != "" {
		record.Plan = json.RawMessage(plan.String)
	}
	decodedEffects, err := decodeEffects(effects)
	if err != nil {
		return nil, err
	}
	record.Effects = decodedEffects

	if outcome.Digest != "" || outcome.BlockNumber != "" || outcome.Chain != "" {
		record.Result = &outcome
	}
	return &record, nil
}

func encodeEffects(effects []string) (sql.NullString, error) {
	if len(effects) == 0 {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(effects)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func decodeEffects(raw sql.NullString) ([]string, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var effects []string
	if err := json.Unmarshal([]byte(raw.String), &effects); err != nil {
		return nil, err
	}
	return effects, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for range opts.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range opts.Statuses {
			args = append(args, status)
		}
	}
	if opts.Chain != "" {
		conditions = append(conditions, "chain = ?")
		args = append(args, opts.Chain)
	}
	if opts.Address != "" {
		conditions = append(conditions, "address = ?")
		args = append(args, opts.Address)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(intent LIKE ? OR synthetic_id LIKE ? OR address LIKE ? OR result_digest LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern)
	}

	return strings.Join(conditions, " AND "), args
}
