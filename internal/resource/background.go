package resource

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/scenesync/scenesync/internal/core/log"
	"github.com/scenesync/scenesync/internal/core/scene"
	"github.com/scenesync/scenesync/pkg/concurrent"
	"github.com/scenesync/scenesync/pkg/sequence"
)

var _ scene.ResourcePreloader = (*Cache)(nil)

// Job tracks one background load batch. Progress counts attempted names,
// so it is monotone even when some loads fail.
type Job struct {
	id       string
	done     int32
	total    int32
	finished int32

	mu  sync.Mutex
	err error
}

var _ scene.ResourceJob = (*Job)(nil)

func (j *Job) ID() string { return j.id }

func (j *Job) Progress() (done, total int) {
	return int(atomic.LoadInt32(&j.done)), int(atomic.LoadInt32(&j.total))
}

func (j *Job) Finished() bool {
	return atomic.LoadInt32(&j.finished) == 1
}

// Err returns the first load failure. Valid once Finished reports true.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	if j.err == nil {
		j.err = err
	}
	j.mu.Unlock()
}

// BackgroundLoad loads the named resources as raw files on a bounded worker
// pool and returns a job the caller polls. Loading is best effort: a failed
// name marks the job but the remaining names still load. Background loads
// hold no references, so preloaded entries stay evictable under memory
// pressure.
func (c *Cache) BackgroundLoad(names ...string) scene.ResourceJob {
	job := &Job{id: uuid.NewString(), total: int32(len(names))}
	if len(names) == 0 {
		atomic.StoreInt32(&job.finished, 1)
		return job
	}

	go func() {
		started := time.Now()
		var failed int32
		_ = concurrent.ConcurrentLimit(sequence.From(names), c.workers, func(name string) error {
			if _, err := c.load(TypeRaw, name, false); err != nil {
				atomic.AddInt32(&failed, 1)
				job.fail(err)
				c.logger.Warn("background load failed",
					log.String("job", job.id),
					log.String("resource", name),
					log.Error(err))
			}
			atomic.AddInt32(&job.done, 1)
			return nil
		})
		atomic.StoreInt32(&job.finished, 1)
		c.logger.Info("background load finished",
			log.String("job", job.id),
			log.Int("loaded", len(names)-int(atomic.LoadInt32(&failed))),
			log.Int("failed", int(atomic.LoadInt32(&failed))),
			log.Duration("elapsed", time.Since(started)))
	}()
	return job
}
