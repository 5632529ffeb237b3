// Package dataloader provides helpers for loading records in batches by
// key, in the shape DataLoader implementations expect.
//
// This package is designed to work with any DataLoader implementation such as:
//   - github.com/graph-gophers/dataloader/v7
//   - github.com/vikstrous/dataloadgen
//
// A batch function must return one result per requested key, in the order
// of the keys. Repository.LoadBatch already has that shape:
//
//	planets, _ := kaboom.NewRepository[Planet, int64](drv)
//	loader := dataloadgen.NewLoader(planets.LoadBatch)
//	p, err := loader.Load(ctx, 4)
//
// Custom batch functions are built from a single IN query and OrderByKeys:
//
//	func moonsByID(ctx context.Context, ids []int64) ([]Moon, []error) {
//	    moons, err := repo.Where(ctx, "id IN (?, ?)", ids[0], ids[1])
//	    if err != nil {
//	        return nil, dataloader.Fail(len(ids), err)
//	    }
//	    return dataloader.OrderByKeys(ids, moons, func(m Moon) int64 { return m.ID }, nil)
//	}
package dataloader

import (
	"context"
	"errors"
	"slices"
)

// ErrNotFound is returned for a requested key with no matching record.
var ErrNotFound = errors.New("dataloader: record not found")

// KeyFunc extracts a key from a record.
type KeyFunc[K comparable, V any] func(V) K

// BatchFunc is a function that loads a batch of records by their keys.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]V, []error)

// OrderByKeys reorders records to match the order of requested keys.
// A key without a record yields the zero value and the error returned by
// missing, or ErrNotFound when missing is nil. Duplicate keys share the
// same record.
func OrderByKeys[K comparable, V any](keys []K, values []V, keyFn KeyFunc[K, V], missing func(K) error) ([]V, []error) {
	lookup := make(map[K]V, len(values))
	for _, v := range values {
		lookup[keyFn(v)] = v
	}
	return OrderByLookup(keys, lookup, missing)
}

// OrderByLookup is like OrderByKeys for records already indexed by key.
func OrderByLookup[K comparable, V any](keys []K, lookup map[K]V, missing func(K) error) ([]V, []error) {
	result := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		v, ok := lookup[key]
		switch {
		case ok:
			result[i] = v
		case missing != nil:
			errs[i] = missing(key)
		default:
			errs[i] = ErrNotFound
		}
	}
	return result, errs
}

// Fail returns n copies of err, the batch result of a failed load.
func Fail(n int, err error) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = err
	}
	return errs
}

// Unique returns keys without duplicates, keeping the first occurrence
// of each.
func Unique[K comparable](keys []K) []K {
	seen := make(map[K]struct{}, len(keys))
	out := make([]K, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Chunk splits keys into consecutive batches of at most size keys, to
// stay under the bound-parameter limits of the store.
func Chunk[K any](keys []K, size int) [][]K {
	if size <= 0 || len(keys) <= size {
		return [][]K{keys}
	}
	return slices.Collect(slices.Chunk(keys, size))
}
