// Package app assembles the stores and services from configuration. Both the
// HTTP server and the CLI build on it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-attendance/internal/autolink"
	"ms-attendance/internal/clock"
	"ms-attendance/internal/config"
	"ms-attendance/internal/database"
	"ms-attendance/internal/database/migrations"
	event_db "ms-attendance/internal/events/db"
	"ms-attendance/internal/importer"
	"ms-attendance/internal/kafka"
	"ms-attendance/internal/lock"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/participants"
	participant_db "ms-attendance/internal/participants/db"
	"ms-attendance/internal/participation"
	ticket_db "ms-attendance/internal/tickets/db"
	"ms-attendance/internal/tickets/qr"
)

type App struct {
	Config *config.Config
	Logger *logger.Logger
	Clock  clock.Clock
	DB     *bun.DB
	Redis  *redis.Client
	Kafka  *kafka.Producer

	Tickets      *ticket_db.DB
	Events       *event_db.DB
	Participants *participant_db.DB

	Linker             *autolink.Linker
	ParticipantService *participants.ParticipantService
	Importer           *importer.Service
	Participation      *participation.Service
	QR                 *qr.Generator
}

// ConnectDB opens PostgreSQL, retrying while the database comes up.
func ConnectDB(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	retries := cfg.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	var (
		sqldb *sql.DB
		err   error
	)
	for i := 0; i < retries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, retries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			err = sqldb.PingContext(ctx)
			if err == nil {
				break
			}
			sqldb.Close()
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < retries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to postgres after %d attempts: %w", retries, err)
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// Migrate applies pending migrations from the configured directory.
func Migrate(bunDB *bun.DB, cfg config.DatabaseConfig, log *logger.Logger) error {
	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{
		MigrationsDir: cfg.MigrationsDir,
		AutoMigrate:   cfg.AutoMigrate,
	}, log)
	defer runner.Close()
	return runner.Up()
}

// New connects every backing service named in cfg and wires the domain
// services on top of them. Redis and Kafka are optional; without Redis the
// import lock only covers this process.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	bunDB, err := ConnectDB(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := Migrate(bunDB, cfg.Database, log); err != nil {
			bunDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	var (
		locker lock.Locker = lock.NewLocalLocker()
		client *redis.Client
	)
	if cfg.Redis.Enabled {
		client, err = lock.ConnectRedis(ctx, cfg.Redis.Addr, log)
		if err != nil {
			bunDB.Close()
			return nil, err
		}
		locker = lock.NewRedisLocker(client, log)
	} else {
		log.Warn("REDIS", "Redis disabled, import lock is process-local")
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, log)
		topics := []string{cfg.Kafka.Topics.TicketsImported, cfg.Kafka.Topics.ParticipationConfirmed}
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
	}

	a := Wire(cfg, log, clock.NewSystem(cfg.Participation.Location), bunDB, locker, producer)
	a.Redis = client
	return a, nil
}

// Wire builds the stores and services over an open database. producer may
// be nil, in which case nothing is published.
func Wire(cfg *config.Config, log *logger.Logger, clk clock.Clock, bunDB *bun.DB, locker lock.Locker, producer *kafka.Producer) *App {
	if log == nil {
		log = logger.NewNop()
	}
	a := &App{Config: cfg, Logger: log, Clock: clk, DB: bunDB, Kafka: producer}
	tx := &database.Transactor{Bun: bunDB}

	a.Tickets = &ticket_db.DB{Bun: a.DB}
	a.Events = &event_db.DB{Bun: a.DB}
	a.Participants = &participant_db.DB{Bun: a.DB}

	a.Linker = autolink.NewLinker(a.Tickets, a.Participants, tx, a.Clock, log)
	a.ParticipantService = participants.NewParticipantService(a.Participants, a.Tickets, a.Events, a.Linker, tx, a.Clock, log)

	a.Importer = importer.NewService(a.Tickets, a.Events, a.Linker, tx, locker, a.Clock, log)
	if cfg.Import.LockTTL > 0 {
		a.Importer.LockTTL = cfg.Import.LockTTL
	}

	a.Participation = participation.NewService(a.Events, a.Tickets, a.Participants, a.ParticipantService, tx, a.Clock, log)
	a.Participation.StandardAmount = cfg.Participation.StandardAmount
	a.Participation.Prices = participation.Prices{
		Ticket:   cfg.Participation.TicketPrice,
		NoTicket: cfg.Participation.NoTicketPrice,
	}

	if a.Kafka != nil {
		a.Importer.WithPublisher(a.Kafka, cfg.Kafka.Topics.TicketsImported)
		a.Participation.WithPublisher(a.Kafka, cfg.Kafka.Topics.ParticipationConfirmed)
	}

	a.QR = qr.NewGenerator(cfg.Server.PublicURL)
	return a
}

func (a *App) Close() {
	if a.Kafka != nil {
		if err := a.Kafka.Close(); err != nil {
			a.Logger.Warn("KAFKA", fmt.Sprintf("Failed to close producer: %v", err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	a.DB.Close()
}
