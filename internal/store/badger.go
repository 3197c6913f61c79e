package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

// Key prefixes. Units, points and decisions live side by side in one DB;
// the domain index maps dom/<domain>/<id> to an empty value.
const (
	prefixUnit     = "ku/"
	prefixPoint    = "ip/"
	prefixDecision = "dc/"
	prefixDomain   = "dom/"
)

// ErrStorageClosed is returned by operations on a closed BadgerStore.
var ErrStorageClosed = errors.New("badger store closed")

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in RAM; used by tests.
	InMemory bool

	// SyncWrites forces an fsync after every write.
	SyncWrites bool
}

// BadgerStore is a Store backed by an embedded BadgerDB.
//
// Records are JSON encoded. Multi-record writes run in a single badger
// transaction, so UpsertIntegrationPoints is all-or-nothing.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewBadgerStore opens (or creates) a BadgerDB store.
func NewBadgerStore(opts BadgerOptions, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dir, err := expandPath(opts.Dir)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
		bopts = badger.DefaultOptions(dir).WithSyncWrites(opts.SyncWrites)
	}

	bopts = bopts.
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening badger: %v", knowledge.ErrStoreUnavailable, err)
	}

	logger.Info("badger store opened",
		zap.String("dir", opts.Dir),
		zap.Bool("in_memory", opts.InMemory),
	)

	return &BadgerStore{db: db, logger: logger}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

func unitKey(id string) []byte     { return []byte(prefixUnit + id) }
func pointKey(id string) []byte    { return []byte(prefixPoint + id) }
func decisionKey(id string) []byte { return []byte(prefixDecision + id) }

func domainIndexKey(domain knowledge.Domain, id string) []byte {
	return []byte(prefixDomain + string(domain) + "/" + id)
}

func domainIndexPrefix(domain knowledge.Domain) []byte {
	return []byte(prefixDomain + string(domain) + "/")
}

// unavailable wraps unexpected badger errors as ErrStoreUnavailable.
func unavailable(op string, err error) error {
	if err == nil || errors.Is(err, knowledge.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", knowledge.ErrStoreUnavailable, op, err)
}

func (s *BadgerStore) view(op string, fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return unavailable(op, ErrStorageClosed)
	}
	return unavailable(op, s.db.View(fn))
}

func (s *BadgerStore) update(op string, fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return unavailable(op, ErrStorageClosed)
	}
	return unavailable(op, s.db.Update(fn))
}

func getJSON(txn *badger.Txn, key []byte, what string, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", what, knowledge.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func scanPrefix[T any](txn *badger.Txn, prefix []byte) ([]T, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var out []T
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Get returns the unit with the given ID.
func (s *BadgerStore) Get(ctx context.Context, id string) (*knowledge.KnowledgeUnit, error) {
	var u knowledge.KnowledgeUnit
	err := s.view("get unit", func(txn *badger.Txn) error {
		return getJSON(txn, unitKey(id), "unit "+id, &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Put writes the unit and its domain index entry in one transaction.
func (s *BadgerStore) Put(ctx context.Context, unit *knowledge.KnowledgeUnit) error {
	return s.update("put unit", func(txn *badger.Txn) error {
		var prev knowledge.KnowledgeUnit
		err := getJSON(txn, unitKey(unit.ID), "unit", &prev)
		switch {
		case err == nil && prev.Domain != unit.Domain:
			if err := txn.Delete(domainIndexKey(prev.Domain, unit.ID)); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, knowledge.ErrNotFound):
			return err
		}
		if err := setJSON(txn, unitKey(unit.ID), unit); err != nil {
			return err
		}
		return txn.Set(domainIndexKey(unit.Domain, unit.ID), nil)
	})
}

// ListByDomain walks the domain index and loads each unit.
func (s *BadgerStore) ListByDomain(ctx context.Context, domain knowledge.Domain) ([]knowledge.KnowledgeUnit, error) {
	var out []knowledge.KnowledgeUnit
	err := s.view("list units", func(txn *badger.Txn) error {
		prefix := domainIndexPrefix(domain)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			var u knowledge.KnowledgeUnit
			if err := getJSON(txn, unitKey(id), "unit "+id, &u); err != nil {
				if errors.Is(err, knowledge.ErrNotFound) {
					continue
				}
				return err
			}
			out = append(out, u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountUnits counts unit keys without loading values.
func (s *BadgerStore) CountUnits(ctx context.Context) (int, error) {
	n := 0
	err := s.view("count units", func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixUnit)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// GetIntegrationPoint returns the point with the given ID.
func (s *BadgerStore) GetIntegrationPoint(ctx context.Context, id string) (*knowledge.IntegrationPoint, error) {
	var p knowledge.IntegrationPoint
	err := s.view("get point", func(txn *badger.Txn) error {
		return getJSON(txn, pointKey(id), "integration point "+id, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertIntegrationPoint writes one point.
func (s *BadgerStore) UpsertIntegrationPoint(ctx context.Context, point *knowledge.IntegrationPoint) error {
	return s.update("upsert point", func(txn *badger.Txn) error {
		return setJSON(txn, pointKey(point.ID), point)
	})
}

// UpsertIntegrationPoints writes the batch in one transaction.
func (s *BadgerStore) UpsertIntegrationPoints(ctx context.Context, points []knowledge.IntegrationPoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update("upsert points", func(txn *badger.Txn) error {
		for i := range points {
			if err := setJSON(txn, pointKey(points[i].ID), &points[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListIntegrationPoints returns every point ordered by ID.
func (s *BadgerStore) ListIntegrationPoints(ctx context.Context) ([]knowledge.IntegrationPoint, error) {
	var out []knowledge.IntegrationPoint
	err := s.view("list points", func(txn *badger.Txn) error {
		var err error
		out, err = scanPrefix[knowledge.IntegrationPoint](txn, []byte(prefixPoint))
		return err
	})
	return out, err
}

// PutDecision writes one decision.
func (s *BadgerStore) PutDecision(ctx context.Context, decision *knowledge.StrategyDecision) error {
	return s.update("put decision", func(txn *badger.Txn) error {
		return setJSON(txn, decisionKey(decision.ID), decision)
	})
}

// GetDecision returns the decision with the given ID.
func (s *BadgerStore) GetDecision(ctx context.Context, id string) (*knowledge.StrategyDecision, error) {
	var d knowledge.StrategyDecision
	err := s.view("get decision", func(txn *badger.Txn) error {
		return getJSON(txn, decisionKey(id), "decision "+id, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDecisions returns every decision ordered by ID.
func (s *BadgerStore) ListDecisions(ctx context.Context) ([]knowledge.StrategyDecision, error) {
	var out []knowledge.StrategyDecision
	err := s.view("list decisions", func(txn *badger.Txn) error {
		var err error
		out, err = scanPrefix[knowledge.StrategyDecision](txn, []byte(prefixDecision))
		return err
	})
	return out, err
}

// Ping runs an empty read transaction.
func (s *BadgerStore) Ping(ctx context.Context) error {
	return s.view("ping", func(txn *badger.Txn) error { return nil })
}

// Close closes the database. Safe to call more than once.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
