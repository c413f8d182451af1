package snaptree

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"snaptree/internal/base"
	"snaptree/internal/cache"
	"snaptree/internal/lifecycle"
	"snaptree/internal/pager"
	"snaptree/internal/storage"
)

const (
	// MaxKeySize is the largest key accepted by Set/Put.
	MaxKeySize = 1024
	// MaxValueSize is the largest value accepted by Set/Put.
	MaxValueSize = (1 << 31) - 2
)

// DB is a single-file, copy-on-write key/value database with MVCC
// transactions. A DB may have any number of concurrent read transactions but
// at most one write transaction at a time.
type DB struct {
	mu     sync.Mutex
	store  *storage.Storage
	cache  *cache.Cache
	pager  *pager.Pager
	logger Logger

	readerSlots *lifecycle.ReaderSlots
	writer      atomic.Pointer[Tx]
	nextTxID    atomic.Uint64

	closed bool

	stopC chan struct{}
	wg    sync.WaitGroup
}

// Open opens or creates a database file at path.
func Open(path string, options ...DBOption) (*DB, error) {
	opts := DefaultDBOptions()
	for _, opt := range options {
		opt(&opts)
	}

	store, err := storage.New(path)
	if err != nil {
		return nil, err
	}

	pageCacheSize := (opts.maxCacheSizeMB * 1024 * 1024) / base.PageSize
	pc := cache.NewCache(pageCacheSize)

	var syncMode pager.SyncMode
	switch opts.syncMode {
	case SyncBytes:
		syncMode = pager.SyncBytes
	case SyncOff:
		syncMode = pager.SyncOff
	default:
		syncMode = pager.SyncEveryCommit
	}
	pg, err := pager.NewPagerWithThreshold(syncMode, store, pc, uint64(opts.syncBytes))
	if err != nil {
		store.Close()
		return nil, err
	}

	maxReaders := opts.maxReaders
	if maxReaders <= 0 {
		maxReaders = 256
	}

	d := &DB{
		store:       store,
		cache:       pc,
		pager:       pg,
		logger:      opts.logger,
		readerSlots: lifecycle.NewReaderSlots(maxReaders),
		stopC:       make(chan struct{}),
	}
	d.nextTxID.Store(pg.GetMeta().TxID)

	d.wg.Add(1)
	go d.backgroundReleaser()

	return d, nil
}

// Get retrieves the value for a key from the default bucket.
func (d *DB) Get(key []byte) ([]byte, error) {
	var result []byte
	err := d.View(func(tx *Tx) error {
		val, err := tx.Get(key)
		if err != nil {
			return err
		}
		result = append([]byte(nil), val...)
		return nil
	})
	return result, err
}

// Set writes a key-value pair to the default bucket.
func (d *DB) Set(key, value []byte) error {
	return d.Update(func(tx *Tx) error {
		return tx.Set(key, value)
	})
}

// Delete removes a key from the default bucket.
func (d *DB) Delete(key []byte) error {
	return d.Update(func(tx *Tx) error {
		return tx.Delete(key)
	})
}

// Begin starts a new transaction. Only one writable transaction may be
// active at a time; Begin(true) returns ErrTxInProgress if one already is.
func (d *DB) Begin(writable bool) (*Tx, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrDatabaseClosed
	}
	if writable && d.writer.Load() != nil {
		return nil, ErrTxInProgress
	}

	txID := d.nextTxID.Add(1)

	tx := &Tx{
		db:       d,
		txID:     txID,
		writable: writable,
		root:     d.pager.GetSnapshot().Root,
		buckets:  make(map[string]*Bucket),
		acquired: make(map[base.PageID]struct{}),
		deletes:  make(map[string]base.PageID),
	}

	if writable {
		tx.pages = make(map[base.PageID]*base.Node)
		tx.freed = make(map[base.PageID]struct{})
		tx.allocated = make(map[base.PageID]struct{})

		if tx.root == nil {
			rootID := tx.allocatePage()
			tx.root = &base.Node{
				PageID: rootID,
				Dirty:  true,
				Leaf:   true,
			}
			tx.pages[rootID] = tx.root
		}

		d.writer.Store(tx)
	} else {
		unregister, err := d.readerSlots.Register(txID)
		if err != nil {
			return nil, err
		}
		tx.unregister = unregister
	}

	return tx, nil
}

// View executes fn within a read-only transaction, always rolling back.
func (d *DB) View(fn func(*Tx) error) error {
	tx, err := d.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	return fn(tx)
}

// Update executes fn within a read-write transaction, committing on success
// and rolling back if fn returns an error.
func (d *DB) Update(fn func(*Tx) error) error {
	tx, err := d.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// Close releases all resources held by the database.
func (d *DB) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case <-d.stopC:
	default:
		close(d.stopC)
		d.wg.Wait()
	}

	return d.pager.Close()
}

// Stats returns aggregated pager statistics for the database.
func (d *DB) Stats() pager.Stats {
	return d.pager.Stats()
}

// backgroundReleaser periodically hands pending freelist pages back for
// reuse once no active transaction can still observe them.
func (d *DB) backgroundReleaser() {
	defer d.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.pager.Release(d.minActiveTxID())
		case <-d.stopC:
			d.pager.Release(math.MaxUint64)
			return
		}
	}
}

// minActiveTxID returns the lowest transaction ID still visible to any
// active reader or writer.
func (d *DB) minActiveTxID() uint64 {
	minTxID := d.nextTxID.Load()

	if writerTx := d.writer.Load(); writerTx != nil && writerTx.txID < minTxID {
		minTxID = writerTx.txID
	}

	if readerMin := d.readerSlots.MinTxID(); readerMin > 0 && readerMin < minTxID {
		minTxID = readerMin
	}

	return minTxID
}
