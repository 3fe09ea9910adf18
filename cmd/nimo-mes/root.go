package main

import (
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/config"
	"github.com/bitfantasy/nimo-mes/internal/mes/notify"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var rootCmd = &cobra.Command{
	Use:          "nimo-mes <command>",
	Short:        "印刷车间施工单与生产任务管理",
	SilenceUsage: true,
	Example: `  # 建表并写入工序目录与组织结构
  $ nimo-mes migrate && nimo-mes seed
  # 启动 HTTP 服务
  $ nimo-mes serve
  # 车间看板
  $ nimo-mes board --status in_progress`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(versionCmd)
}

// app 子命令共用的运行时依赖
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
	redis  *redis.Client
}

// bootstrap 读取配置、初始化日志与数据库；quiet 时 SQL 日志只记录错误
func bootstrap(quiet bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	db, err := initDatabase(cfg.Database, quiet)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: zapLogger, db: db}
	if cfg.Redis.Enabled() {
		a.redis = initRedis(cfg.Redis)
	}
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	a.logger.Sync()
}

// services 按配置装配通知出口与轮询游标
func (a *app) services(hub *notify.Hub) (*service.Services, *repository.Repositories) {
	repos := repository.NewRepositories(a.db)

	sinks := notify.Multi{notify.NewDBSink(a.db)}
	if hub != nil {
		sinks = append(sinks, hub)
	}
	if a.redis != nil && a.cfg.Notify.Redis {
		sinks = append(sinks, notify.NewRedisSink(a.redis))
	}
	if a.cfg.Notify.Mail && a.cfg.Mail.Host != "" {
		m := a.cfg.Mail
		sinks = append(sinks, notify.NewMailSink(m.Host, m.Port, m.Username, m.Password, m.From, emailLookup(repos)))
	}

	opts := service.Options{Sink: sinks, Logger: a.logger, DisableDispatchRules: !a.cfg.Dispatch.RulesEnabled}
	if a.redis != nil {
		opts.Cursor = service.NewRedisCursor(a.redis)
	}
	return service.NewServices(a.db, repos, opts), repos
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig, quiet bool) (*gorm.DB, error) {
	level := logger.Warn
	if quiet {
		level = logger.Error
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}
