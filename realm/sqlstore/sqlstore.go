// Package sqlstore keeps realms and global settings in the key/value Config
// table of the server database.
//
// A realm is one row "linotp.useridresolver.group.<realm>" whose value lists
// its resolver specs separated by commas. The default realm is the row
// "linotp.DefaultRealm".
package sqlstore

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kbukum/idresolver/config"
	"github.com/kbukum/idresolver/database"
	"github.com/kbukum/idresolver/logger"
	"github.com/kbukum/idresolver/realm"
	"github.com/kbukum/idresolver/resolverspec"
)

const (
	// KeyPrefix namespaces every row written by the server.
	KeyPrefix = "linotp."
	// RealmKeyPrefix precedes the realm name in realm rows.
	RealmKeyPrefix = KeyPrefix + "useridresolver.group."
	// DefaultRealmKey holds the default realm name.
	DefaultRealmKey = KeyPrefix + "DefaultRealm"
)

// Entry is one row of the Config table.
type Entry struct {
	Key         string `gorm:"column:Key;primaryKey;size:255"`
	Value       string `gorm:"column:Value;size:2000"`
	Type        string `gorm:"column:Type;size:2000"`
	Description string `gorm:"column:Description;size:2000"`
}

// TableName implements gorm's tabler.
func (Entry) TableName() string { return "Config" }

// Store reads and writes realm rows.
type Store struct {
	db  *database.DB
	log *logger.Logger
}

var _ realm.Store = (*Store)(nil)

// New uses db; the caller keeps ownership of it.
func New(db *database.DB, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{db: db, log: log.WithComponent("realm")}
}

// Migrate creates the Config table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Entry{}); err != nil {
		return database.FromDatabase(err)
	}
	return nil
}

func (s *Store) Realms(ctx context.Context) (map[string]realm.Definition, error) {
	var rows []Entry
	err := s.db.WithContext(ctx).
		Where(`"Key" LIKE ? ESCAPE '\'`, likePrefix(RealmKeyPrefix)).
		Order(`"Key"`).
		Find(&rows).Error
	if err != nil {
		return nil, database.FromDatabase(err)
	}

	defaultName, err := s.DefaultRealm(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]realm.Definition, len(rows))
	for _, row := range rows {
		name := strings.TrimPrefix(row.Key, RealmKeyPrefix)
		out[name] = realm.Definition{
			Resolvers: splitSpecs(row.Value),
			Default:   name == defaultName,
		}
	}
	return out, nil
}

func (s *Store) DefaultRealm(ctx context.Context) (string, error) {
	v, ok, err := s.get(s.db.WithContext(ctx), DefaultRealmKey)
	if err != nil || !ok {
		return "", err
	}
	return strings.ToLower(v), nil
}

// SetRealm stores the resolver list of a realm. The name is lowercased with
// blanks replaced by "-". The first realm stored becomes the default.
func (s *Store) SetRealm(ctx context.Context, name string, specs []string) error {
	name = realm.NormalizeName(name)
	if err := realm.ValidateName(name); err != nil {
		return err
	}
	parsed, err := resolverspec.ParseAll(specs)
	if err != nil {
		return err
	}
	values := make([]string, len(parsed))
	for i, spec := range parsed {
		values[i] = spec.String()
	}

	err = s.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Entry{}).Where(`"Key" LIKE ? ESCAPE '\'`, likePrefix(RealmKeyPrefix)).Count(&existing).Error; err != nil {
			return err
		}
		if err := upsert(tx, Entry{Key: RealmKeyPrefix + name, Value: strings.Join(values, ","), Type: "text"}); err != nil {
			return err
		}
		if existing == 0 {
			return upsert(tx, Entry{Key: DefaultRealmKey, Value: name, Type: "text"})
		}
		return nil
	})
	if err != nil {
		return database.FromDatabase(err)
	}
	s.log.Info("Realm stored", logger.Fields(logger.FieldRealm, name, "resolvers", len(values)))
	return nil
}

// DeleteRealm removes a realm row. Deleting the default realm clears the
// default.
func (s *Store) DeleteRealm(ctx context.Context, name string) error {
	name = realm.NormalizeName(name)
	err := s.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Delete(&Entry{}, `"Key" = ?`, RealmKeyPrefix+name).Error; err != nil {
			return err
		}
		return tx.Delete(&Entry{}, `"Key" = ? AND lower("Value") = ?`, DefaultRealmKey, name).Error
	})
	if err != nil {
		return database.FromDatabase(err)
	}
	return nil
}

// SetDefaultRealm marks name as the default realm.
func (s *Store) SetDefaultRealm(ctx context.Context, name string) error {
	if err := upsert(s.db.WithContext(ctx), Entry{Key: DefaultRealmKey, Value: realm.NormalizeName(name), Type: "text"}); err != nil {
		return database.FromDatabase(err)
	}
	return nil
}

// Set stores a global setting under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := upsert(s.db.WithContext(ctx), Entry{Key: key, Value: value}); err != nil {
		return database.FromDatabase(err)
	}
	return nil
}

// Settings snapshots every row as settings. Keys are served with and
// without the linotp. prefix.
func (s *Store) Settings(ctx context.Context) (*config.MapSettings, error) {
	var rows []Entry
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, database.FromDatabase(err)
	}
	values := make(map[string]any, 2*len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
		if short := strings.TrimPrefix(row.Key, KeyPrefix); short != row.Key {
			if _, taken := values[short]; !taken {
				values[short] = row.Value
			}
		}
	}
	return config.NewMapSettings(values), nil
}

func (s *Store) get(tx *gorm.DB, key string) (string, bool, error) {
	var row Entry
	err := tx.Where(`"Key" = ?`, key).Take(&row).Error
	switch {
	case database.IsNotFoundError(err):
		return "", false, nil
	case err != nil:
		return "", false, database.FromDatabase(err)
	}
	return row.Value, true, nil
}

func upsert(tx *gorm.DB, e Entry) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "Key"}},
		DoUpdates: clause.AssignmentColumns([]string{"Value", "Type"}),
	}).Create(&e).Error
}

func splitSpecs(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func likePrefix(prefix string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix) + "%"
}
