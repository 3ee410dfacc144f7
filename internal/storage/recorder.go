package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/sampinfo/internal/models"
)

// DefaultQueueSize is the recorder buffer used when none is configured.
const DefaultQueueSize = 1000

const writeTimeout = 5 * time.Second

type job struct {
	lookup *models.LookupEvent
	abuse  *models.AbuseEvent
}

// Recorder writes history asynchronously so request paths never wait on the
// database. Events are dropped when the queue is full.
type Recorder struct {
	repo  *Repository
	queue chan job
	wg    sync.WaitGroup
	once  sync.Once
	mu    sync.RWMutex

	closed bool
}

// NewRecorder starts a single writer goroutine over repo.
func NewRecorder(repo *Repository, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	r := &Recorder{repo: repo, queue: make(chan job, queueSize)}
	r.wg.Add(1)
	go r.worker()

	return r
}

// Lookup queues a lookup event.
func (r *Recorder) Lookup(e models.LookupEvent) {
	r.enqueue(job{lookup: &e})
}

// Abuse queues an abuse event.
func (r *Recorder) Abuse(e models.AbuseEvent) {
	r.enqueue(job{abuse: &e})
}

func (r *Recorder) enqueue(j job) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	select {
	case r.queue <- j:
	default:
		log.Warn().Msg("History queue full, event dropped")
	}
}

// Close stops accepting events and waits until queued ones are written.
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})
	r.wg.Wait()
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for j := range r.queue {
		r.write(j)
	}
}

func (r *Recorder) write(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch {
	case j.lookup != nil:
		err = r.repo.InsertLookup(ctx, *j.lookup)
	case j.abuse != nil:
		err = r.repo.InsertAbuse(ctx, *j.abuse)
	}

	if err != nil {
		log.Error().Err(err).Msg("Failed to save history event")
	}
}
