package limitermap

// worker is a single-threaded task runner with a bounded queue and
// non-blocking submission: a full queue rejects the task rather than
// blocking the submitter, so BackgroundUpdateLimiters (called from the
// caller's own request path) never stalls on it. Single-threaded is load
// bearing here: concurrent GetTable fetches for the same table would be
// wasteful and could race on the limiter map.
type worker struct {
	jobs chan func()
	done chan struct{}
}

func newWorker(queueSize int) *worker {
	w := &worker{
		jobs: make(chan func(), queueSize),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *worker) run() {
	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			job()
		case <-w.done:
			return
		}
	}
}

// submit enqueues job without blocking. It returns false if the queue is
// full, matching the "queue-rejected" case in spec §4.3.
func (w *worker) submit(job func()) bool {
	select {
	case w.jobs <- job:
		return true
	default:
		return false
	}
}

func (w *worker) stop() {
	close(w.done)
}
