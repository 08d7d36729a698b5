// Package badgerstore keeps topics and comments in an embedded BadgerDB.
//
// Badger's transactions are optimistic: a read-write transaction whose
// reads were overwritten by another commit fails with badger.ErrConflict,
// which is reported as store.ErrConflict. Committed comment writes are
// announced through a store.Notifier so subscriptions can redeliver the
// topic's snapshot.
//
// Key layout:
//
//	t/<topic id>                 topic JSON
//	c/<topic id>/<comment id>    comment JSON
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"forum/internal/models"
	"forum/internal/store"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

type Config struct {
	// Path is the data directory. Ignored when InMemory is true.
	Path     string
	InMemory bool

	SyncWrites bool

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64

	Logger *zap.Logger

	// Notifier receives a signal per topic after every committed comment
	// write. Defaults to an in-process store.Hub.
	Notifier store.Notifier
}

func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig is meant for tests: no disk, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l zapLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l zapLogger) Infof(format string, args ...interface{})    { l.s.Infof(format, args...) }
func (l zapLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }

type Store struct {
	db       *badger.DB
	notifier store.Notifier
	ownHub   *store.Hub
	clock    *store.Clock
	logger   *zap.Logger

	stopGC    chan struct{}
	gcDone    chan struct{}
	closeOnce sync.Once
}

var _ store.Adapter = (*Store)(nil)

func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.L()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(zapLogger{s: logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{
		db:       db,
		notifier: cfg.Notifier,
		clock:    store.NewClock(),
		logger:   logger,
	}
	if s.notifier == nil {
		s.ownHub = store.NewHub()
		s.notifier = s.ownHub
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 {
			ratio = 0.5
		}
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, ratio)
	}
	return s, nil
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			rewrites := 0
			for {
				if err := s.db.RunValueLogGC(ratio); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.logger.Warn("value log gc failed", zap.Error(err))
					}
					break
				}
				rewrites++
			}
			if rewrites > 0 {
				s.logger.Debug("value log gc done", zap.Int("rewrites", rewrites))
			}
		}
	}
}

func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		if s.ownHub != nil {
			s.ownHub.Close()
		}
		err = s.db.Close()
	})
	return err
}

func topicKey(id string) []byte { return []byte("t/" + id) }

func commentPrefix(topicID string) []byte { return []byte("c/" + topicID + "/") }

func commentKey(topicID, id string) []byte { return []byte("c/" + topicID + "/" + id) }

func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	t := &tx{txn: txn, clock: s.clock, touched: make(map[string]struct{})}
	if err := fn(t); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return store.ErrConflict
		}
		if errors.Is(err, badger.ErrDBClosed) {
			return store.ErrClosed
		}
		return fmt.Errorf("commit: %w", err)
	}
	for topicID := range t.touched {
		if err := s.notifier.Publish(ctx, topicID); err != nil {
			s.logger.Warn("change notification failed", zap.String("topic_id", topicID), zap.Error(err))
		}
	}
	return nil
}

func (s *Store) SubscribeComments(ctx context.Context, topicID string) (<-chan store.SnapshotEvent, error) {
	signals, err := s.notifier.Listen(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("listen for topic %s: %w", topicID, err)
	}
	return store.Feed(ctx, signals, func(ctx context.Context) ([]models.Comment, error) {
		var cs []models.Comment
		err := s.db.View(func(txn *badger.Txn) error {
			var err error
			cs, err = scanComments(txn, topicID)
			return err
		})
		return cs, err
	}), nil
}

func (s *Store) ListTopics(ctx context.Context, q models.TopicQuery) ([]models.Topic, error) {
	topics := make([]models.Topic, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("t/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var t models.Topic
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &t) }); err != nil {
				return err
			}
			if q.Matches(&t) {
				topics = append(topics, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(topics, func(i, j int) bool {
		if !topics[i].CreatedAt.Equal(topics[j].CreatedAt) {
			return topics[i].CreatedAt.After(topics[j].CreatedAt)
		}
		return topics[i].ID > topics[j].ID
	})
	return topics, nil
}

func scanComments(txn *badger.Txn, topicID string) ([]models.Comment, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = commentPrefix(topicID)
	it := txn.NewIterator(opts)
	defer it.Close()

	cs := make([]models.Comment, 0)
	for it.Rewind(); it.Valid(); it.Next() {
		var c models.Comment
		if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &c) }); err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		cs = append(cs, c)
	}
	return cs, nil
}
