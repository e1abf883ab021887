// Package store keeps in-flight chat jobs between submission and poll. All
// state is in memory; jobs do not survive a restart.
package store

import (
	"sync"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"
)

// Status is the observable state of a job id.
type Status int

// poll outcomes
const (
	StatusUnknown Status = iota
	StatusProcessing
	StatusDone
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusProcessing:
		return "processing"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the terminal outcome of a job. Err is set for failed jobs only.
type Result struct {
	Text string
	Err  error
}

type job struct {
	status    Status
	result    Result
	createdAt time.Time
}

// Store is an in-memory job store. The terminal branch of Poll removes the
// job, so each finished job yields its result to exactly one caller.
type Store struct {
	mu        sync.Mutex
	jobs      map[string]job
	delivered cache.Cache[string, Result] // nil unless grace retention is enabled
}

// maxDelivered bounds the grace-retention cache
const maxDelivered = 1000

// New creates a store. With grace > 0 delivered terminal results remain
// readable for that long after the first poll consumed them; with 0 a second
// poll of a consumed id reports the id as unknown.
func New(grace time.Duration) *Store {
	s := &Store{jobs: make(map[string]job)}
	if grace > 0 {
		s.delivered = cache.NewCache[string, Result]().WithTTL(grace).WithMaxKeys(maxDelivered)
	}
	return s
}

// Create inserts a pending job and returns its id.
func (s *Store) Create() string {
	id := uuid.New().String()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = job{status: StatusProcessing, createdAt: time.Now()}
	return id
}

// Complete transitions a pending job to done. Absent or already-terminal ids
// are a logged no-op, only the first terminal write is observed.
func (s *Store) Complete(id, text string) {
	s.finish(id, StatusDone, Result{Text: text})
}

// Fail transitions a pending job to failed, same idempotency rule as Complete.
func (s *Store) Fail(id string, err error) {
	s.finish(id, StatusFailed, Result{Err: err})
}

func (s *Store) finish(id string, status Status, res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		log.Printf("[WARN] job %s not found, %s result dropped", id, status)
		return
	}
	if j.status != StatusProcessing {
		log.Printf("[WARN] job %s already %s, %s result dropped", id, j.status, status)
		return
	}
	j.status, j.result = status, res
	s.jobs[id] = j
}

// Poll reports the state of a job id. A terminal result is removed from the
// store on read, under the lock, so concurrent polls of the same id hand the
// result to a single caller.
func (s *Store) Poll(id string) (Result, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		if s.delivered != nil {
			if res, found := s.delivered.Get(id); found {
				if res.Err != nil {
					return res, StatusFailed
				}
				return res, StatusDone
			}
		}
		return Result{}, StatusUnknown
	}
	if j.status == StatusProcessing {
		return Result{}, StatusProcessing
	}

	delete(s.jobs, id)
	if s.delivered != nil {
		s.delivered.Set(id, j.result, 0) // 0 ttl means the cache default
	}
	return j.result, j.status
}

// Len reports the number of jobs not yet consumed.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
