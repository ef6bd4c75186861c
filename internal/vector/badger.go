package vector

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"
)

// Key layout:
//
//	rec/<source>/<generation>/<chunk>  encoded Record
//	act/<source>                       active generation
//	meta/dims                          vector dimensions
const (
	recordPrefix = "rec/"
	activePrefix = "act/"
	dimsKey      = "meta/dims"
)

// BadgerStore persists records in BadgerDB and scans the active generations
// of each source on query.
type BadgerStore struct {
	db         *badger.DB
	dimensions int
	logger     *zap.Logger
}

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	s *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, args ...any)   { l.s.Errorf(msg, args...) }
func (l *badgerLogger) Warningf(msg string, args ...any) { l.s.Warnf(msg, args...) }
func (l *badgerLogger) Infof(msg string, args ...any)    { l.s.Debugf(msg, args...) }
func (l *badgerLogger) Debugf(msg string, args ...any)   { l.s.Debugf(msg, args...) }

// OpenBadgerStore opens or creates a store in dir. An empty dir opens an
// in-memory database. Opening an existing store with different dimensions fails.
func OpenBadgerStore(dir string, dimensions int, logger *zap.Logger) (*BadgerStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create vector dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{s: logger.Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	s := &BadgerStore{db: db, dimensions: dimensions, logger: logger}
	if err := s.checkDimensions(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BadgerStore) checkDimensions() error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(dimsKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set([]byte(dimsKey), []byte(strconv.Itoa(s.dimensions)))
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		stored, err := strconv.Atoi(string(val))
		if err != nil {
			return fmt.Errorf("corrupt dimensions entry %q", val)
		}
		if stored != s.dimensions {
			return fmt.Errorf("%w: store holds %d-dimensional vectors, embedder produces %d; reindex into a new vector path",
				ErrDimensionMismatch, stored, s.dimensions)
		}
		return nil
	})
}

func recordKey(r *Record) []byte {
	return []byte(recordPrefix + r.SourceID + "/" + r.Generation + "/" + r.ChunkID)
}

func generationPrefix(sourceID, generation string) []byte {
	return []byte(recordPrefix + sourceID + "/" + generation + "/")
}

func sourcePrefix(sourceID string) []byte {
	return []byte(recordPrefix + sourceID + "/")
}

func activeKey(sourceID string) []byte {
	return []byte(activePrefix + sourceID)
}

// encodeRecord writes a 4-byte header length, the JSON header, then the vector.
func encodeRecord(r *Record) ([]byte, error) {
	header, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4, 4+len(header)+4*len(r.Vector))
	binary.BigEndian.PutUint32(out, uint32(len(header)))
	out = append(out, header...)
	return append(out, float32SliceToBytes(r.Vector)...), nil
}

func decodeRecord(val []byte) (*Record, error) {
	if len(val) < 4 {
		return nil, errors.New("record value too short")
	}
	n := int(binary.BigEndian.Uint32(val))
	if len(val) < 4+n || (len(val)-4-n)%4 != 0 {
		return nil, errors.New("record value truncated")
	}
	var r Record
	if err := json.Unmarshal(val[4:4+n], &r); err != nil {
		return nil, err
	}
	r.Vector = bytesToFloat32Slice(val[4+n:])
	return &r, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Upsert writes records in one batch.
func (s *BadgerStore) Upsert(ctx context.Context, records []*Record) error {
	if err := validateRecords(s.dimensions, records); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, r := range records {
		val, err := encodeRecord(r)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", r.ChunkID, err)
		}
		if err := wb.Set(recordKey(r), val); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Query scans the active generation of every source.
func (s *BadgerStore) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]*Hit, error) {
	if err := checkDimensions(s.dimensions, vector); err != nil {
		return nil, err
	}
	var hits []*Hit
	err := s.db.View(func(txn *badger.Txn) error {
		active, err := activeGenerations(txn)
		if err != nil {
			return err
		}
		for sourceID, gen := range active {
			if err := ctx.Err(); err != nil {
				return err
			}
			it := txn.NewIterator(badger.IteratorOptions{Prefix: generationPrefix(sourceID, gen), PrefetchValues: true, PrefetchSize: 100})
			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()
				var rec *Record
				err := item.Value(func(val []byte) error {
					var derr error
					rec, derr = decodeRecord(val)
					return derr
				})
				if err != nil {
					key := string(item.KeyCopy(nil))
					it.Close()
					return fmt.Errorf("decode %s: %w", key, err)
				}
				if !matchesFilters(rec, opts.Filters) {
					continue
				}
				score := CosineSimilarity(vector, rec.Vector)
				if score < opts.MinScore {
					continue
				}
				hits = append(hits, &Hit{Record: rec, Score: score})
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rankHits(hits, opts.TopK), nil
}

func activeGenerations(txn *badger.Txn) (map[string]string, error) {
	active := make(map[string]string)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(activePrefix), PrefetchValues: true})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		active[string(item.Key()[len(activePrefix):])] = string(val)
	}
	return active, nil
}

// Activate swaps the active pointer in a single transaction.
func (s *BadgerStore) Activate(ctx context.Context, sourceID, generation string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var prev string
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(activeKey(sourceID))
		switch {
		case err == nil:
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			prev = string(val)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(activeKey(sourceID), []byte(generation))
	})
	if err != nil {
		return "", err
	}
	return prev, nil
}

// ActiveGeneration returns the visible generation of sourceID.
func (s *BadgerStore) ActiveGeneration(_ context.Context, sourceID string) (string, error) {
	var gen string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(activeKey(sourceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		gen = string(val)
		return err
	})
	return gen, err
}

func (s *BadgerStore) keysWithPrefix(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

// CountGeneration counts the generation's keys without reading values.
func (s *BadgerStore) CountGeneration(_ context.Context, sourceID, generation string) (int, error) {
	keys, err := s.keysWithPrefix(generationPrefix(sourceID, generation))
	return len(keys), err
}

func (s *BadgerStore) deleteKeys(keys [][]byte) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// DeleteGeneration removes a generation's records.
func (s *BadgerStore) DeleteGeneration(ctx context.Context, sourceID, generation string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	keys, err := s.keysWithPrefix(generationPrefix(sourceID, generation))
	if err != nil {
		return 0, err
	}
	if err := s.deleteKeys(keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// PruneGeneration removes the generation's records not listed in keep.
func (s *BadgerStore) PruneGeneration(ctx context.Context, sourceID, generation string, keep []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	wanted := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		wanted[id] = struct{}{}
	}
	prefix := generationPrefix(sourceID, generation)
	keys, err := s.keysWithPrefix(prefix)
	if err != nil {
		return 0, err
	}
	var stale [][]byte
	for _, k := range keys {
		if _, ok := wanted[string(k[len(prefix):])]; !ok {
			stale = append(stale, k)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.deleteKeys(stale); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// DeleteSource clears the active pointer first so queries stop seeing the
// source, then removes its records.
func (s *BadgerStore) DeleteSource(ctx context.Context, sourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(activeKey(sourceID))
	})
	if err != nil {
		return err
	}
	keys, err := s.keysWithPrefix(sourcePrefix(sourceID))
	if err != nil {
		return err
	}
	return s.deleteKeys(keys)
}

// Size returns the number of stored records across all generations.
func (s *BadgerStore) Size() int {
	keys, err := s.keysWithPrefix([]byte(recordPrefix))
	if err != nil {
		s.logger.Warn("failed to count vector records", zap.Error(err))
		return 0
	}
	return len(keys)
}

// Dimensions returns the vector size.
func (s *BadgerStore) Dimensions() int { return s.dimensions }

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
