package collection

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mythweaver/internal/config"
)

// Open 按storage.driver创建后端，返回的close用于释放连接
func Open(ctx context.Context, cfg config.StorageConfig) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case "file":
		return NewFileStore(cfg.Path, cfg.Key), noop, nil

	case "sqlite", "postgres":
		db, err := openDB(cfg)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("获取底层 SQL DB 失败: %w", err)
		}
		store, err := NewGormStore(db, cfg.Key)
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		logrus.WithField("driver", cfg.Driver).Info("收藏数据库连接成功")
		return store, sqlDB.Close, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			DialTimeout:  10 * time.Second,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		logrus.WithField("addr", cfg.RedisAddr).Info("收藏Redis连接成功")
		return NewRedisStore(rdb, cfg.Key), rdb.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func openDB(cfg config.StorageConfig) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if cfg.Driver == "postgres" {
		if cfg.DSN == "" {
			return nil, fmt.Errorf("storage.dsn is required for postgres")
		}
		return gorm.Open(postgres.Open(cfg.DSN), gcfg)
	}
	dsn := cfg.DSN
	if dsn == "" {
		dsn = filepath.Join(cfg.Path, "mythweaver.db")
	}
	return gorm.Open(sqlite.Open(dsn), gcfg)
}
