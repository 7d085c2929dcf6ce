// internal/storage/gormstore/store.go
package gormstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/lottery-keeper/internal/storage"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	// InMemorySQLiteDSN is an ephemeral sqlite database.
	InMemorySQLiteDSN = ":memory:"

	migrationLockID = 7301
)

var schemaModels = []any{
	&models.Pool{},
	&models.PoolEconomics{},
	&models.RewardAllocation{},
}

// Store реализует storage.Storage поверх GORM.
type Store struct {
	db     *gorm.DB
	driver string
	logger *zap.Logger
}

var _ storage.Storage = (*Store)(nil)

// Open connects to the mirror database. driver is "postgres" or "sqlite".
func Open(driver, dsn string, zapLogger *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		if dsn != InMemorySQLiteDSN && !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm"), logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s database", driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get database instance")
	}

	// Настройка пула соединений
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return &Store{db: db, driver: driver, logger: zapLogger.Named("storage")}, nil
}

// RunMigrations применяет схему через AutoMigrate. На postgres миграцию
// сериализует advisory lock; lock, миграция и unlock идут по одному соединению.
func (s *Store) RunMigrations() error {
	if s.driver != DriverPostgres {
		return migrate(s.db)
	}
	return s.db.Connection(func(conn *gorm.DB) error {
		return migrateLocked(conn, s.logger)
	})
}

func migrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(schemaModels...), "failed to run migrations")
}

// migrateLocked expects conn to be pinned to a single session.
func migrateLocked(conn *gorm.DB, log *zap.Logger) error {
	var lockObtained bool
	if err := conn.Raw("SELECT pg_try_advisory_lock(?)", migrationLockID).Scan(&lockObtained).Error; err != nil {
		return errors.Wrap(err, "failed to acquire migration lock")
	}
	if !lockObtained {
		return errors.New("another migration is in progress")
	}
	defer func() {
		if err := conn.Exec("SELECT pg_advisory_unlock(?)", migrationLockID).Error; err != nil {
			log.Warn("Failed to release migration lock", zap.Error(err))
		}
	}()
	return migrate(conn)
}

// Close закрывает соединение с базой.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to retrieve native sql.DB")
	}
	return errors.Wrap(sqlDB.Close(), "failed to close database connection")
}

func (s *Store) CreatePool(ctx context.Context, pool *models.Pool) error {
	return errors.Wrapf(s.db.WithContext(ctx).Create(pool).Error, "create pool %s", pool.Address)
}

func (s *Store) GetPool(ctx context.Context, id uint) (*models.Pool, error) {
	var pool models.Pool
	if err := s.db.WithContext(ctx).First(&pool, id).Error; err != nil {
		return nil, notFound(err, "get pool %d", id)
	}
	return &pool, nil
}

func (s *Store) GetPoolByAddress(ctx context.Context, address string) (*models.Pool, error) {
	var pool models.Pool
	if err := s.db.WithContext(ctx).Where("address = ?", address).First(&pool).Error; err != nil {
		return nil, notFound(err, "get pool %s", address)
	}
	return &pool, nil
}

func (s *Store) ListActivePools(ctx context.Context) ([]*models.Pool, error) {
	var pools []*models.Pool
	err := s.db.WithContext(ctx).
		Where("status NOT IN ?", []string{models.StatusEnded, models.StatusCancelled}).
		Order("id asc").
		Find(&pools).Error
	return pools, errors.Wrap(err, "list active pools")
}

func (s *Store) ListEndedPools(ctx context.Context, from, to time.Time) ([]*models.Pool, error) {
	q := s.db.WithContext(ctx).Where("status = ?", models.StatusEnded)
	if !from.IsZero() {
		q = q.Where("ended_at >= ?", from.UTC())
	}
	if !to.IsZero() {
		q = q.Where("ended_at <= ?", to.UTC())
	}
	var pools []*models.Pool
	err := q.Order("ended_at asc, id asc").Find(&pools).Error
	return pools, errors.Wrap(err, "list ended pools")
}

func (s *Store) UpdatePoolStatus(ctx context.Context, id uint, status string, lockStart *int64) error {
	updates := map[string]interface{}{"status": status}
	if lockStart != nil {
		updates["lock_start_time"] = *lockStart
	}
	res := s.db.WithContext(ctx).Model(&models.Pool{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update pool %d status", id)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(storage.ErrPoolNotFound, "update pool %d status", id)
	}
	return nil
}

func (s *Store) CompletePool(ctx context.Context, id uint, c storage.PoolCompletion) (bool, error) {
	endedAt := c.EndedAt.UTC()
	res := s.db.WithContext(ctx).Model(&models.Pool{}).
		Where("id = ? AND status <> ?", id, models.StatusEnded).
		Updates(map[string]interface{}{
			"status":     models.StatusEnded,
			"winner":     c.Winner,
			"total_pot":  c.TotalPot,
			"randomness": c.Randomness,
			"ended_at":   &endedAt,
		})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "complete pool %d", id)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	// Пул уже завершен или отсутствует
	if _, err := s.GetPool(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) SaveEconomics(ctx context.Context, poolID uint, costs []models.PoolEconomics) error {
	if len(costs) == 0 {
		return nil
	}
	rows := make([]models.PoolEconomics, len(costs))
	for i, c := range costs {
		c.ID = 0
		c.PoolID = poolID
		rows[i] = c
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pool_id"}, {Name: "action"}},
		DoUpdates: clause.AssignmentColumns([]string{"attempts", "failures", "lamports", "updated_at"}),
	}).Create(&rows).Error
	return errors.Wrapf(err, "save economics for pool %d", poolID)
}

func (s *Store) ListEconomics(ctx context.Context, poolID uint) ([]models.PoolEconomics, error) {
	var rows []models.PoolEconomics
	err := s.db.WithContext(ctx).Where("pool_id = ?", poolID).Order("action asc").Find(&rows).Error
	return rows, errors.Wrapf(err, "list economics for pool %d", poolID)
}

// SaveRewardAllocations inserts allocations; rows already recorded for the
// same pool, recipient and kind are left untouched.
func (s *Store) SaveRewardAllocations(ctx context.Context, allocations []models.RewardAllocation) error {
	if len(allocations) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&allocations).Error
	return errors.Wrap(err, "save reward allocations")
}

func (s *Store) ListRewardAllocations(ctx context.Context, poolID uint) ([]models.RewardAllocation, error) {
	var rows []models.RewardAllocation
	err := s.db.WithContext(ctx).Where("pool_id = ?", poolID).Order("id asc").Find(&rows).Error
	return rows, errors.Wrapf(err, "list reward allocations for pool %d", poolID)
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrapf(storage.ErrPoolNotFound, format, args...)
	}
	return errors.Wrapf(err, format, args...)
}
