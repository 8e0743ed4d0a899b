package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// BadgerCache is a durable, disk-backed cache for a single
// verifier-server instance. Entries survive process restarts, unlike
// MemoryCache, at the cost of needing a writable data directory.
type BadgerCache struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerCache opens (creating if absent) a Badger database at
// dataPath and starts a background value-log GC loop.
func NewBadgerCache(dataPath string, logger *zap.Logger) (*BadgerCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("resolve badger cache path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.CompactL0OnClose = true

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache at %s: %w", absPath, err)
	}

	bc := &BadgerCache{db: db, logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	bc.gcCancel = cancel
	bc.gcWg.Add(1)
	go bc.runGC(ctx)

	logger.Sugar().Infow("badger cache opened", "path", absPath)
	return bc, nil
}

func (b *BadgerCache) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.db.RunValueLogGC(0.5); err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("badger cache gc error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *BadgerCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, false, fmt.Errorf("badger cache is closed")
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("read from badger cache: %w", err)
	}
	if data == nil {
		return nil, false, nil
	}
	return data, true, nil
}

func (b *BadgerCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("badger cache is closed")
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		entry := badgerdb.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (b *BadgerCache) Delete(ctx context.Context, key string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("badger cache is closed")
	}
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (b *BadgerCache) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close badger cache: %w", err)
	}
	b.logger.Sugar().Info("badger cache closed")
	return nil
}

func (b *BadgerCache) HealthCheck(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("badger cache is closed")
	}
	return b.db.View(func(txn *badgerdb.Txn) error {
		return nil
	})
}
