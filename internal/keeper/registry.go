// internal/keeper/registry.go
package keeper

import (
	"sort"
	"sync"
	"time"
)

const DefaultRetryCeiling = 10

// RetryCounter is one outstanding (pool, action) failure count.
type RetryCounter struct {
	PoolID uint   `json:"pool_id"`
	Action string `json:"action"`
	Count  int    `json:"count"`
}

type retryKey struct {
	pool   uint
	action string
}

// Registry owns the set of pools currently being processed and the
// per-(pool, action) retry counters. Safe for concurrent use.
type Registry struct {
	mu         sync.Mutex
	processing map[uint]time.Time
	retries    map[retryKey]int
	ceiling    int
	now        func() time.Time
}

// NewRegistry создает реестр. ceiling <= 0 означает значение по умолчанию.
func NewRegistry(ceiling int) *Registry {
	if ceiling <= 0 {
		ceiling = DefaultRetryCeiling
	}
	return &Registry{
		processing: make(map[uint]time.Time),
		retries:    make(map[retryKey]int),
		ceiling:    ceiling,
		now:        time.Now,
	}
}

// TryAcquire marks pool as processing. It returns false if another task owns it.
func (r *Registry) TryAcquire(pool uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.processing[pool]; busy {
		return false
	}
	r.processing[pool] = r.now()
	return true
}

// Release снимает отметку обработки.
func (r *Registry) Release(pool uint) {
	r.mu.Lock()
	delete(r.processing, pool)
	r.mu.Unlock()
}

// Processing reports whether pool is owned by a task.
func (r *Registry) Processing(pool uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.processing[pool]
	return busy
}

// Count returns the number of pools being processed.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.processing)
}

// Active returns the ids of pools being processed, ascending.
func (r *Registry) Active() []uint {
	r.mu.Lock()
	ids := make([]uint, 0, len(r.processing))
	for id := range r.processing {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Increment records a failure of action on pool and returns the new count.
// When the count reaches the ceiling the counter is discarded and reset is true.
func (r *Registry) Increment(pool uint, action string) (count int, reset bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := retryKey{pool: pool, action: action}
	count = r.retries[key] + 1
	if count >= r.ceiling {
		delete(r.retries, key)
		return count, true
	}
	r.retries[key] = count
	return count, false
}

// Reset drops the counter of one action, e.g. after it succeeded.
func (r *Registry) Reset(pool uint, action string) {
	r.mu.Lock()
	delete(r.retries, retryKey{pool: pool, action: action})
	r.mu.Unlock()
}

// Retries returns the current count for (pool, action).
func (r *Registry) Retries(pool uint, action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retries[retryKey{pool: pool, action: action}]
}

// ClearPool drops every counter of pool.
func (r *Registry) ClearPool(pool uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.retries {
		if key.pool == pool {
			delete(r.retries, key)
		}
	}
}

// Snapshot returns outstanding retry counters ordered by pool and action.
func (r *Registry) Snapshot() []RetryCounter {
	r.mu.Lock()
	out := make([]RetryCounter, 0, len(r.retries))
	for key, count := range r.retries {
		out = append(out, RetryCounter{PoolID: key.pool, Action: key.action, Count: count})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].PoolID != out[j].PoolID {
			return out[i].PoolID < out[j].PoolID
		}
		return out[i].Action < out[j].Action
	})
	return out
}
