package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DocumentRow is the single table every collection lives in.
type DocumentRow struct {
	Collection string `gorm:"primaryKey;type:text"`
	ID         string `gorm:"primaryKey;type:text"`
	Body       string `gorm:"type:jsonb;not null"`
	Version    int64  `gorm:"not null;default:1"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (DocumentRow) TableName() string {
	return "documents"
}

func (r DocumentRow) document() Document {
	return Document{
		Collection: r.Collection,
		ID:         r.ID,
		Version:    r.Version,
		Exists:     true,
		Data:       []byte(r.Body),
	}
}

// Postgres stores documents as jsonb rows. Transactions run SERIALIZABLE, so the
// database itself detects read/write and phantom conflicts; they surface as ErrConflict.
type Postgres struct {
	db   *gorm.DB
	opts Options
}

// OpenPostgres connects with gorm and migrates the documents table.
func OpenPostgres(dsn string, opts Options) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPostgres(db, opts)
}

func NewPostgres(db *gorm.DB, opts Options) (*Postgres, error) {
	if err := db.AutoMigrate(&DocumentRow{}); err != nil {
		return nil, fmt.Errorf("migrate documents: %w", err)
	}
	return &Postgres{db: db, opts: opts.withDefaults()}, nil
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (Document, error) {
	return pgGet(p.db.WithContext(ctx), collection, id, false)
}

func (p *Postgres) Query(ctx context.Context, q Query) ([]Document, error) {
	return pgQuery(p.db.WithContext(ctx), q)
}

func (p *Postgres) Set(ctx context.Context, collection, id string, doc any) error {
	return p.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Set(collection, id, doc)
	})
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	return p.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Delete(collection, id)
	})
}

func (p *Postgres) RunTransaction(ctx context.Context, fn TxFunc) error {
	var written [][2]string
	err := runWithRetry(ctx, p.opts, func() error {
		written = nil
		err := p.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
			tx := &pgTx{db: db}
			if err := fn(ctx, tx); err != nil {
				return err
			}
			written = tx.written
			return nil
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})
		return mapPgError(err)
	})
	if err != nil {
		return err
	}
	if p.opts.Notifier != nil {
		for _, w := range written {
			p.opts.Notifier.Publish(w[0], w[1])
		}
	}
	return nil
}

func (p *Postgres) Watch(ctx context.Context, collection, id string) (*Watch, error) {
	get := func(ctx context.Context) (Document, error) {
		return p.Get(ctx, collection, id)
	}
	return startWatch(ctx, get, p.opts.Notifier, p.opts.PollInterval, collection, id)
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type pgTx struct {
	db      *gorm.DB
	written [][2]string
}

func (t *pgTx) Get(ctx context.Context, collection, id string) (Document, error) {
	return pgGet(t.db, collection, id, true)
}

func (t *pgTx) Query(ctx context.Context, q Query) ([]Document, error) {
	return pgQuery(t.db, q)
}

func (t *pgTx) Set(collection, id string, doc any) error {
	data, err := encode(collection, id, doc)
	if err != nil {
		return err
	}
	row := DocumentRow{Collection: collection, ID: id, Body: string(data), Version: 1}
	err = t.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "collection"}, {Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"body":       gorm.Expr("EXCLUDED.body"),
			"version":    gorm.Expr("documents.version + 1"),
			"updated_at": gorm.Expr("EXCLUDED.updated_at"),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key(collection, id), err)
	}
	t.written = append(t.written, [2]string{collection, id})
	return nil
}

func (t *pgTx) Delete(collection, id string) error {
	err := t.db.Where("collection = ? AND id = ?", collection, id).Delete(&DocumentRow{}).Error
	if err != nil {
		return fmt.Errorf("delete %s: %w", key(collection, id), err)
	}
	t.written = append(t.written, [2]string{collection, id})
	return nil
}

func pgGet(db *gorm.DB, collection, id string, lock bool) (Document, error) {
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row DocumentRow
	err := db.Where("collection = ? AND id = ?", collection, id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{Collection: collection, ID: id}, fmt.Errorf("%s: %w", key(collection, id), ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s: %w", key(collection, id), err)
	}
	return row.document(), nil
}

func pgQuery(db *gorm.DB, q Query) ([]Document, error) {
	where, args, order, err := buildPgQuery(q)
	if err != nil {
		return nil, err
	}
	tx := db.Where(where, args...).Order(order)
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var rows []DocumentRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	docs := make([]Document, len(rows))
	for i, r := range rows {
		docs[i] = r.document()
	}
	return docs, nil
}

// jsonPath renders a validated dotted field as a Postgres text[] path literal.
func jsonPath(field string) string {
	return "'{" + strings.ReplaceAll(field, ".", ",") + "}'"
}

// buildPgQuery translates a Query into a WHERE clause, its args and an ORDER BY.
// Field names are validated first, which is what makes inlining paths safe.
func buildPgQuery(q Query) (string, []any, string, error) {
	if err := validateQuery(q); err != nil {
		return "", nil, "", err
	}
	conds := []string{"collection = ?"}
	args := []any{q.Collection}
	for _, f := range q.Filters {
		path := jsonPath(f.Field)
		switch f.Op {
		case OpEqual:
			conds = append(conds, "body #>> "+path+" = ?")
			args = append(args, fmt.Sprint(f.Value))
		case OpNotEqual:
			conds = append(conds, "(body #>> "+path+") IS DISTINCT FROM ?")
			args = append(args, fmt.Sprint(f.Value))
		case OpArrayContains:
			needle, err := json.Marshal([]any{f.Value})
			if err != nil {
				return "", nil, "", fmt.Errorf("encode filter value: %w", err)
			}
			conds = append(conds, "body #> "+path+" @> ?::jsonb")
			args = append(args, string(needle))
		}
	}

	order := "id ASC"
	if q.OrderBy != "" {
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		order = "(body #>> " + jsonPath(q.OrderBy) + ")::timestamptz " + dir + ", id ASC"
	}
	return strings.Join(conds, " AND "), args, order, nil
}

// mapPgError turns serialization failures, deadlocks and lost insert races into ErrConflict.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %s (%s)", ErrConflict, pgErr.Message, pgErr.Code)
		}
	}
	return err
}
