package template

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "IntentChain/internal/errors"
	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 持久化交易模板。
type MySQLStore struct {
	db *sql.DB
}

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
	const schema = `CREATE TABLE IF NOT EXISTS tx_templates (
        id VARCHAR(64) PRIMARY KEY,
        name VARCHAR(255) NOT NULL,
        description TEXT,
        tags TEXT,
        script TEXT NOT NULL,
        input_schema TEXT,
        collectors TEXT,
        embedding MEDIUMTEXT,
        trust_score DOUBLE NOT NULL DEFAULT 0,
        active TINYINT(1) NOT NULL DEFAULT 1,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        UNIQUE INDEX idx_template_name (name),
        INDEX idx_template_active (active)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 tx_templates 表失败")
	}
	if _, err := s.db.Exec(`ALTER TABLE tx_templates ADD COLUMN trust_score DOUBLE NOT NULL DEFAULT 0 AFTER embedding`); err != nil {
		var mysqlErr *mysql.MySQLError
		if !(stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1060) {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "扩展 tx_templates.trust_score 失败")
		}
	}
	return nil
}

// Create 插入新的模板。
func (s *MySQLStore) Create(ctx context.Context, tpl *Template) error {
	if tpl == nil || strings.TrimSpace(tpl.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "模板 ID 不能为空")
	}
	if err := Validate(tpl); err != nil {
		return err
	}

	now := time.Now().Unix()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now

	tags, schema, collectors, embedding, err := encodeTemplateColumns(tpl)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO tx_templates
        (id, name, description, tags, script, input_schema, collectors, embedding, trust_score, active, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		tpl.ID,
		tpl.Name,
		tpl.Description,
		tags,
		tpl.Script,
		schema,
		collectors,
		embedding,
		tpl.TrustScore,
		tpl.Active,
		tpl.CreatedAt,
		tpl.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrTemplateConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入模板失败")
	}
	return nil
}

// Update 更新已存在的模板。
func (s *MySQLStore) Update(ctx context.Context, tpl *Template) error {
	if tpl == nil || strings.TrimSpace(tpl.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "模板 ID 不能为空")
	}
	if err := Validate(tpl); err != nil {
		return err
	}

	tpl.UpdatedAt = time.Now().Unix()

	tags, schema, collectors, embedding, err := encodeTemplateColumns(tpl)
	if err != nil {
		return err
	}

	const stmt = `UPDATE tx_templates SET name = ?, description = ?, tags = ?, script = ?, input_schema = ?,
        collectors = ?, embedding = ?, trust_score = ?, active = ?, updated_at = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		tpl.Name,
		tpl.Description,
		tags,
		tpl.Script,
		schema,
		collectors,
		embedding,
		tpl.TrustScore,
		tpl.Active,
		tpl.UpdatedAt,
		tpl.ID,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新模板失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

const selectColumns = `id, name, description, tags, script, input_schema, collectors, embedding, trust_score, active, created_at, updated_at`

// GetByID 按 ID 查找模板。
func (s *MySQLStore) GetByID(ctx context.Context, id string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM tx_templates WHERE id = ?`, id)
	return scanTemplate(row)
}

// GetByName 按名称查找模板。
func (s *MySQLStore) GetByName(ctx context.Context, name string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM tx_templates WHERE LOWER(name) = LOWER(?)`, strings.TrimSpace(name))
	return scanTemplate(row)
}

// ListActive 返回所有启用的模板。
func (s *MySQLStore) ListActive(ctx context.Context) ([]*Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM tx_templates WHERE active = 1 ORDER BY id ASC`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询模板列表失败")
	}
	defer rows.Close()

	templates := make([]*Template, 0, 16)
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历模板失败")
	}
	return templates, nil
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

func scanTemplate(row rowScanner) (*Template, error) {
	var tpl Template
	var tags, schema, collectors, embedding sql.NullString

	if err := row.Scan(
		&tpl.ID,
		&tpl.Name,
		&tpl.Description,
		&tags,
		&tpl.Script,
		&schema,
		&collectors,
		&embedding,
		&tpl.TrustScore,
		&tpl.Active,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析模板记录失败")
	}

	if err := decodeJSONColumn(tags, &tpl.Tags); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析模板 tags 失败")
	}
	if err := decodeJSONColumn(schema, &tpl.Schema); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析模板 input_schema 失败")
	}
	if err := decodeJSONColumn(collectors, &tpl.Collectors); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析模板 collectors 失败")
	}
	if err := decodeJSONColumn(embedding, &tpl.Embedding); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析模板 embedding 失败")
	}
	return &tpl, nil
}

func encodeTemplateColumns(tpl *Template) (tags, schema, collectors, embedding sql.NullString, err error) {
	if tags, err = encodeJSONColumn(tpl.Tags); err != nil {
		err = xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码模板 tags 失败")
		return
	}
	if schema, err = encodeJSONColumn(tpl.Schema); err != nil {
		err = xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码模板 input_schema 失败")
		return
	}
	if collectors, err = encodeJSONColumn(tpl.Collectors); err != nil {
		err = xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码模板 collectors 失败")
		return
	}
	if embedding, err = encodeJSONColumn(tpl.Embedding); err != nil {
		err = xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码模板 embedding 失败")
		return
	}
	return
}

func encodeJSONColumn(value any) (sql.NullString, error) {
	bytes, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func decodeJSONColumn(raw sql.NullString, out any) error {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), out)
}

var _ Store = (*MySQLStore)(nil)
