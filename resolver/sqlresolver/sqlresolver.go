// Package sqlresolver is a relational resolver backend on GORM.
package sqlresolver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"gorm.io/gorm"

	"github.com/kbukum/idresolver/database"
	"github.com/kbukum/idresolver/logger"
	"github.com/kbukum/idresolver/password"
	"github.com/kbukum/idresolver/resolver"
)

// Class is the registry identifier of this backend.
const Class = "sqlresolver"

// DefaultTable is the users table name when none is configured.
const DefaultTable = "idr_users"

// UserRecord is one row of the users table.
type UserRecord struct {
	ID           string `gorm:"primaryKey;size:64"`
	Login        string `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string `gorm:"size:255"`
	GivenName    string `gorm:"size:255"`
	Surname      string `gorm:"size:255"`
	Email        string `gorm:"size:255"`
	Phone        string `gorm:"size:64"`
	Mobile       string `gorm:"size:64"`
}

// columns maps profile keys to UserRecord columns.
var columns = map[string]string{
	resolver.KeyUsername: "login",
	resolver.KeyUserID:   "id",
	"givenname":          "given_name",
	"surname":            "surname",
	"email":              "email",
	"phone":              "phone",
	"mobile":             "mobile",
}

func (r UserRecord) profile() resolver.Profile {
	return resolver.Profile{
		resolver.KeyUsername: r.Login,
		resolver.KeyUserID:   r.ID,
		"givenname":          r.GivenName,
		"surname":            r.Surname,
		"email":              r.Email,
		"phone":              r.Phone,
		"mobile":             r.Mobile,
	}
}

// Params is the decoded form of a sql resolver definition's params.
type Params struct {
	Database database.Config `mapstructure:"database"`
	Table    string          `mapstructure:"table"`
}

// Resolver serves identity lookups from a users table.
type Resolver struct {
	db    *database.DB
	table string
	owned bool
	log   *logger.Logger
}

// New serves lookups from table in db. The caller keeps ownership of db.
func New(db *database.DB, table string, log *logger.Logger) *Resolver {
	if table == "" {
		table = DefaultTable
	}
	return &Resolver{db: db, table: table, log: log.WithComponent("sqlresolver")}
}

// NewFactory returns a factory that opens one connection per definition.
func NewFactory(log *logger.Logger) resolver.Factory {
	return func(ctx context.Context, def resolver.Definition) (resolver.Backend, error) {
		var p Params
		if err := mapstructure.Decode(def.Params, &p); err != nil {
			return nil, fmt.Errorf("sql resolver %s: decode params: %w", def.Spec, err)
		}
		p.Database.Enabled = true
		p.Database.ApplyDefaults()
		if err := p.Database.Validate(); err != nil {
			return nil, fmt.Errorf("sql resolver %s: %w", def.Spec, err)
		}
		db, err := database.Open(ctx, p.Database, log)
		if err != nil {
			return nil, fmt.Errorf("sql resolver %s: %w", def.Spec, err)
		}
		r := New(db, p.Table, log)
		r.owned = true
		if p.Database.AutoMigrate {
			if err := r.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return r, nil
	}
}

// Register adds this backend to reg.
func Register(reg *resolver.Registry, log *logger.Logger) {
	reg.RegisterFactory(Class, NewFactory(log))
}

// ResolverClass implements resolver.ClassIdentifier.
func (r *Resolver) ResolverClass() string { return Class }

// Migrate creates or updates the users table.
func (r *Resolver) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Table(r.table).AutoMigrate(&UserRecord{}); err != nil {
		return fmt.Errorf("sql resolver: migrate %s: %w", r.table, err)
	}
	return nil
}

// Create inserts rec.
func (r *Resolver) Create(ctx context.Context, rec *UserRecord) error {
	return r.query(ctx).Create(rec).Error
}

// Close releases the connection when the resolver opened it.
func (r *Resolver) Close() error {
	if !r.owned {
		return nil
	}
	return r.db.Close()
}

func (r *Resolver) query(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Table(r.table)
}

func (r *Resolver) UserID(ctx context.Context, login string) (string, error) {
	var rec UserRecord
	err := r.query(ctx).Select("id").Where("login = ?", login).Take(&rec).Error
	if err != nil {
		return "", classify(err)
	}
	return rec.ID, nil
}

func (r *Resolver) UserInfo(ctx context.Context, id string) (resolver.Profile, error) {
	var rec UserRecord
	if err := r.query(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		return nil, classify(err)
	}
	return rec.profile(), nil
}

// CheckPass verifies password against the stored bcrypt or argon2id hash.
// A user without a hash never authenticates.
func (r *Resolver) CheckPass(ctx context.Context, id, pw string) (bool, error) {
	var rec UserRecord
	err := r.query(ctx).Select("password_hash").Where("id = ?", id).Take(&rec).Error
	if err != nil {
		if database.IsNotFoundError(err) {
			return false, nil
		}
		return false, classify(err)
	}
	if rec.PasswordHash == "" {
		return false, nil
	}
	ok, err := password.Verify(pw, rec.PasswordHash)
	if err != nil {
		r.log.Warn("Stored password hash not verifiable", logger.MergeWithError(
			logger.Fields(logger.FieldUserID, id), err))
		return false, nil
	}
	return ok, nil
}

func (r *Resolver) SearchFields(context.Context) (map[string]string, error) {
	out := make(map[string]string, len(columns))
	for key := range columns {
		out[key] = "text"
	}
	return out, nil
}

// ListUsers streams matching rows ordered by login. Filter keys without a
// column are ignored.
func (r *Resolver) ListUsers(ctx context.Context, filter map[string]string) (resolver.Iterator, error) {
	q := r.query(ctx).Model(&UserRecord{}).Order("login")
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		col, ok := columns[key]
		if !ok {
			r.log.Debug("Ignoring unknown search key", logger.Fields("key", key))
			continue
		}
		pattern := filter[key]
		switch {
		case pattern == "" || pattern == "*":
		case strings.Contains(pattern, "*"):
			q = q.Where(col+` LIKE ? ESCAPE '\'`, likePattern(pattern))
		default:
			q = q.Where(col+" = ?", pattern)
		}
	}
	rows, err := q.Rows()
	if err != nil {
		return nil, classify(err)
	}
	return &rowsIterator{db: r.query(ctx), rows: rows}, nil
}

func likePattern(pattern string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(pattern)
	return strings.ReplaceAll(escaped, "*", "%")
}

type rowsIterator struct {
	db   *gorm.DB
	rows *sql.Rows
}

func (it *rowsIterator) Next(ctx context.Context) (resolver.Profile, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !it.rows.Next() {
		return nil, false, classify(it.rows.Err())
	}
	var rec UserRecord
	if err := it.db.ScanRows(it.rows, &rec); err != nil {
		return nil, false, classify(err)
	}
	return rec.profile(), true, nil
}

func (it *rowsIterator) Close() error { return it.rows.Close() }

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case database.IsNotFoundError(err):
		return resolver.ErrNotFound
	case database.IsConnectionError(err), errors.Is(err, sql.ErrConnDone):
		return resolver.Unavailable(err)
	default:
		return err
	}
}
