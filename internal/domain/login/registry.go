package login

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrWorkflowNotFound = errors.New("workflow not found")

const expireTimeout = 5 * time.Second

// Registry keeps live workflows in memory and closes them once they expire.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
	ttl       time.Duration
	now       func() time.Time
	logger    zerolog.Logger
	done      chan struct{}
	once      sync.Once
}

// NewRegistry starts a goroutine that evicts expired workflows every
// interval, logging each one out of the backend. Close stops it.
func NewRegistry(ttl, interval time.Duration, logger zerolog.Logger) *Registry {
	if interval <= 0 {
		interval = time.Minute
	}
	r := &Registry{
		workflows: make(map[string]*Workflow),
		ttl:       ttl,
		now:       time.Now,
		logger:    logger,
		done:      make(chan struct{}),
	}
	go r.cleanupLoop(interval)
	return r
}

// Add assigns w a fresh id and expiry and stores it.
func (r *Registry) Add(w *Workflow) string {
	now := r.now()
	w.ID = uuid.NewString()
	w.CreatedAt = now
	w.ExpiresAt = now.Add(r.ttl)

	r.mu.Lock()
	r.workflows[w.ID] = w
	r.mu.Unlock()
	return w.ID
}

func (r *Registry) Get(id string) (*Workflow, error) {
	r.mu.RLock()
	w, ok := r.workflows[id]
	r.mu.RUnlock()
	if !ok || r.now().After(w.ExpiresAt) {
		return nil, ErrWorkflowNotFound
	}
	return w, nil
}

// Remove drops and closes the workflow. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	w, ok := r.workflows[id]
	delete(r.workflows, id)
	r.mu.Unlock()
	if ok {
		w.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workflows)
}

// Close stops the cleanup goroutine and closes every workflow.
func (r *Registry) Close() {
	r.once.Do(func() {
		close(r.done)
		r.mu.Lock()
		all := r.workflows
		r.workflows = make(map[string]*Workflow)
		r.mu.Unlock()
		for _, w := range all {
			w.Close()
		}
	})
}

func (r *Registry) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.cleanup(r.now())
		}
	}
}

func (r *Registry) cleanup(now time.Time) {
	var expired []*Workflow
	r.mu.Lock()
	for id, w := range r.workflows {
		if now.After(w.ExpiresAt) {
			expired = append(expired, w)
			delete(r.workflows, id)
		}
	}
	r.mu.Unlock()

	for _, w := range expired {
		ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
		if err := w.expire(ctx); err != nil {
			r.logger.Warn().Err(err).Str("workflow_id", w.ID).Msg("backend logout of expired workflow failed")
		}
		cancel()
	}
	if len(expired) > 0 {
		r.logger.Debug().Int("count", len(expired)).Msg("expired workflows evicted")
	}
}
