// Package runner executes chat jobs on a bounded worker pool. Submission
// never blocks on the network; excess jobs queue on the pool semaphore and
// every job resolves to a terminal state in the store, failures included.
package runner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"

	"github.com/surajssc1232/royalai/app/history"
	"github.com/surajssc1232/royalai/app/normalize"
	"github.com/surajssc1232/royalai/app/persona"
	"github.com/surajssc1232/royalai/app/provider"
	"github.com/surajssc1232/royalai/app/store"
)

// Completer generates a reply for a system prompt and user message.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// Recorder persists finished exchanges, implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ex history.Exchange) error
}

// Params configures a Runner.
type Params struct {
	Store     *store.Store
	Completer Completer
	Recorder  Recorder      // optional, nil disables history
	Workers   int           // concurrent completion calls, default 4
	Timeout   time.Duration // per-job limit on the provider call, default 60s
	CacheSize int           // duplicate-prompt cache capacity, 0 disables
	CacheTTL  time.Duration // duplicate-prompt cache TTL, default 10m
}

// Runner dispatches jobs to workers.
type Runner struct {
	store     *store.Store
	completer Completer
	recorder  Recorder
	timeout   time.Duration
	pool      *syncs.SizedGroup
	cache     cache.Cache[string, string]
}

// New creates a runner whose workers stop when ctx is canceled.
func New(ctx context.Context, p Params) *Runner {
	workers := p.Workers
	if workers <= 0 {
		workers = 4
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := &Runner{
		store:     p.Store,
		completer: p.Completer,
		recorder:  p.Recorder,
		timeout:   timeout,
		pool:      syncs.NewSizedGroup(workers, syncs.Context(ctx)),
	}
	if p.CacheSize > 0 {
		ttl := p.CacheTTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		r.cache = cache.NewCache[string, string]().WithMaxKeys(p.CacheSize).WithTTL(ttl)
	}
	return r
}

// Submit registers a pending job for the message and returns its id
// immediately. A duplicate of a recently answered prompt completes from
// the cache without touching the provider.
func (r *Runner) Submit(message string, p persona.Persona) string {
	id := r.store.Create()

	if r.cache != nil {
		if text, ok := r.cache.Get(cacheKey(p.Key, message)); ok {
			log.Printf("[DEBUG] cache hit for job %s, persona %s", id, p.Key)
			r.store.Complete(id, text)
			return id
		}
	}

	r.pool.Go(func(ctx context.Context) {
		r.execute(ctx, id, message, p)
	})
	return id
}

// Wait blocks until all queued jobs finished, used on shutdown.
func (r *Runner) Wait() {
	r.pool.Wait()
}

func (r *Runner) execute(ctx context.Context, id, message string, p persona.Persona) {
	// a panicking worker must still resolve the job
	defer func() {
		if x := recover(); x != nil {
			log.Printf("[ERROR] worker panic on job %s: %v", id, x)
			r.store.Fail(id, fmt.Errorf("worker panic: %v", x))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.completer.Complete(ctx, p.Prompt, message)
	if err != nil {
		log.Printf("[WARN] job %s failed, persona %s: %v", id, p.Key, err)
		r.store.Fail(id, err)
		r.record(p, message, "", provider.KindOf(err).String())
		return
	}

	text := normalize.Normalize(raw, p)
	if r.cache != nil {
		r.cache.Set(cacheKey(p.Key, message), text, 0)
	}
	r.store.Complete(id, text)
	r.record(p, message, text, store.StatusDone.String())
}

func (r *Runner) record(p persona.Persona, message, response, status string) {
	if r.recorder == nil {
		return
	}
	ex := history.Exchange{Persona: p.Key, Message: message, Response: response, Status: status}
	if err := r.recorder.Record(ex); err != nil {
		log.Printf("[WARN] failed to record exchange for persona %s: %v", p.Key, err)
	}
}

func cacheKey(personaKey, message string) string {
	h := sha256.Sum256([]byte(personaKey + "\n" + message))
	return hex.EncodeToString(h[:])
}
