package svc

import (
	"context"
	"fmt"
	"time"

	"forum/config"
	"forum/internal/comment"
	"forum/internal/infra/cache"
	"forum/internal/infra/db"
	"forum/internal/infra/mq"
	"forum/internal/middleware"
	"forum/internal/reaction"
	"forum/internal/reconcile"
	"forum/internal/store"
	"forum/internal/store/badgerstore"
	"forum/internal/store/sqlstore"
	"forum/internal/topic"

	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

type ServiceContext struct {
	Config *config.Config
	Store  store.Adapter
	// Cache and Rabbit are nil when their servers were unreachable at start.
	Cache  *cache.RedisCache
	Rabbit *mq.RabbitMQ

	Topics     *topic.Service
	Comments   *comment.Service
	Counter    *comment.Counter
	Ledger     *reaction.Ledger
	Reconciler *reconcile.Reconciler
	// Repairs is the queue behind POST /topics/:id/recount; nil means
	// recount inline.
	Repairs  comment.RepairQueue
	Consumer *mq.Consumer

	tracerProvider *trace.TracerProvider
}

// NewServiceContext connects every backend named by cfg. Redis, RabbitMQ and
// Jaeger are optional; the document store is not.
func NewServiceContext(cfg *config.Config) (*ServiceContext, error) {
	rdb, err := cache.New(cfg)
	if err != nil {
		zap.L().Warn("Redis connection failed, continuing without Redis", zap.Error(err))
		rdb = nil
	} else {
		zap.L().Info("Redis connected successfully")
	}

	st, err := openStore(cfg, rdb)
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}

	rabbit, err := mq.New(cfg)
	if err != nil {
		zap.L().Warn("RabbitMQ connection failed, repairs run inline", zap.Error(err))
		rabbit = nil
	}

	sc := Assemble(cfg, st, rdb, rabbit)

	if cfg.JaegerEndpoint != "" {
		tp, err := middleware.InitTracer("forum", cfg.AppEnv, cfg.JaegerEndpoint)
		if err != nil {
			zap.L().Warn("tracer disabled", zap.Error(err))
		} else {
			sc.tracerProvider = tp
		}
	}
	return sc, nil
}

func openStore(cfg *config.Config, rdb *cache.RedisCache) (store.Adapter, error) {
	switch cfg.StoreDriver {
	case "mysql":
		gdb, err := db.InitMySQL(cfg)
		if err != nil {
			return nil, err
		}
		// Redis pub/sub lets every replica see every other replica's writes.
		var notifier store.Notifier
		if rdb != nil {
			notifier = rdb.Notifier()
		} else {
			zap.L().Warn("no Redis: live threads only see writes made by this process")
		}
		s := sqlstore.New(gdb, notifier, zap.L().Named("sqlstore"))
		if err := s.Migrate(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return s, nil
	default:
		bcfg := badgerstore.DefaultConfig(cfg.BadgerPath)
		bcfg.Logger = zap.L()
		return badgerstore.Open(bcfg)
	}
}

// Assemble wires the engine around already opened backends. rdb and rabbit
// may be nil.
func Assemble(cfg *config.Config, st store.Adapter, rdb *cache.RedisCache, rabbit *mq.RabbitMQ) *ServiceContext {
	counter := comment.NewCounter(st, cfg.CommentMaxAttempts)

	var topicCache topic.Cache
	if rdb != nil {
		topicCache = rdb
	}
	topics := topic.NewService(st, topicCache, topic.Config{
		CascadeBatchSize: cfg.CascadeBatchSize,
		CacheTTL:         cfg.TopicCacheTTL,
		MaxAttempts:      cfg.CommentMaxAttempts,
	})

	var repairs comment.RepairQueue = comment.DirectRepair{Counter: counter}
	var consumer *mq.Consumer
	if rabbit != nil {
		repairs = mq.NewRepairPublisher(rabbit)
		consumer = mq.NewConsumer(rabbit, counter, mq.WithInvalidate(topics.Invalidate))
	}

	sc := &ServiceContext{
		Config:  cfg,
		Store:   st,
		Cache:   rdb,
		Rabbit:  rabbit,
		Counter: counter,
		Topics:  topics,
		Comments: comment.NewService(st,
			comment.WithMaxAttempts(cfg.CommentMaxAttempts),
			comment.WithRepairQueue(repairs)),
		Ledger: reaction.NewLedger(st, reaction.WithMaxAttempts(cfg.ReactionMaxAttempts)),
		Reconciler: reconcile.New(st, reconcile.Config{
			InitialBackoff: cfg.ResubscribeInitial,
			MaxBackoff:     cfg.ResubscribeMax,
			FaultThreshold: cfg.FaultThreshold,
		}),
		Consumer: consumer,
	}
	if rabbit != nil {
		sc.Repairs = repairs
	}
	return sc
}

// Limiter returns the rate limiter, or nil without Redis.
func (s *ServiceContext) Limiter() middleware.Limiter {
	if s.Cache == nil {
		return nil
	}
	return s.Cache
}

func (s *ServiceContext) Close() {
	s.Reconciler.Close()

	if s.tracerProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tracerProvider.Shutdown(ctx); err != nil {
			zap.L().Error("Tracer shutdown error", zap.Error(err))
		}
	}

	if s.Rabbit != nil {
		s.Rabbit.Close()
		zap.L().Info("RabbitMQ closed")
	}
	if err := s.Store.Close(); err != nil {
		zap.L().Error("Store close error", zap.Error(err))
	}
	if s.Cache != nil {
		_ = s.Cache.Close()
	}
}
