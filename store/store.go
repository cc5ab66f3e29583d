package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rickcollette/kayveechat-server/models"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate record")
)

// DB is the persistence gateway backed by gorm.
type DB struct {
	gorm *gorm.DB
	log  zerolog.Logger
}

// Open connects to the database named by driver and dsn.
func Open(driver, dsn string, log zerolog.Logger) (*DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	log = log.With().Str("component", "store").Str("driver", driver).Logger()
	g, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(log),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		sqlDB, err := g.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite handle: %w", err)
		}
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	return &DB{gorm: g, log: log}, nil
}

// Migrate creates or updates the users and messages tables.
func (d *DB) Migrate(ctx context.Context) error {
	if err := d.gorm.WithContext(ctx).AutoMigrate(&models.User{}, &models.Message{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a user without a password and returns its id.
func (d *DB) CreateUser(ctx context.Context, username string) (int64, error) {
	return d.CreateUserWithPassword(ctx, username, "")
}

// CreateUserWithPassword inserts a user with a password digest and returns its id.
func (d *DB) CreateUserWithPassword(ctx context.Context, username, passwordHash string) (int64, error) {
	u := models.User{Username: username, PasswordHash: passwordHash}
	if err := d.gorm.WithContext(ctx).Create(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return u.ID, nil
}

// GetUserByUsername returns the user with the given name.
func (d *DB) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	var u models.User
	err := d.gorm.WithContext(ctx).
		Select("id", "username", "created_at").
		Where("username = ?", username).
		Take(&u).Error
	return u, notFound(err, "get user by username")
}

// GetUserByID returns the user with the given id.
func (d *DB) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	var u models.User
	err := d.gorm.WithContext(ctx).
		Select("id", "username", "created_at").
		Take(&u, id).Error
	return u, notFound(err, "get user by id")
}

// GetUserCredentials returns the user including the password digest.
func (d *DB) GetUserCredentials(ctx context.Context, username string) (models.User, error) {
	var u models.User
	err := d.gorm.WithContext(ctx).
		Select("id", "username", "password_hash").
		Where("username = ?", username).
		Take(&u).Error
	return u, notFound(err, "get user credentials")
}

// GetUserAvatarByUsername returns the public profile of a user.
func (d *DB) GetUserAvatarByUsername(ctx context.Context, username string) (models.Profile, error) {
	var u models.User
	err := d.gorm.WithContext(ctx).
		Select("username", "avatar_b64", "avatar_mime").
		Where("username = ?", username).
		Take(&u).Error
	if err := notFound(err, "get user avatar"); err != nil {
		return models.Profile{}, err
	}
	return models.Profile{
		Username:   u.Username,
		AvatarB64:  models.Deref(u.AvatarB64),
		AvatarMime: models.Deref(u.AvatarMime),
	}, nil
}

// SetUserAvatar stores the avatar blob and mime type of a user.
func (d *DB) SetUserAvatar(ctx context.Context, userID int64, avatarB64, avatarMime string) error {
	res := d.gorm.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"avatar_b64": avatarB64, "avatar_mime": avatarMime})
	if res.Error != nil {
		return fmt.Errorf("set user avatar: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func notFound(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func withOmitAssociations(tx *gorm.DB) *gorm.DB {
	return tx.Omit(clause.Associations)
}
