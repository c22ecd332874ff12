// Package querypool isolates blocking durable-store reads from the request
// loop. A fixed set of workers each pins its own database connection; hot
// lookups served by the memory index never come here.
package querypool

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog"

	uerr "github.com/standardbeagle/uci/internal/errors"
)

// Job is one unit of blocking read work, executed on a worker-owned
// connection.
type Job func(ctx context.Context, conn *sql.Conn) (any, error)

type request struct {
	ctx   context.Context
	job   Job
	reply chan result
}

type result struct {
	value any
	err   error
}

// Pool is the fixed-size worker set. Requests queue FIFO on a bounded
// channel; overflow is rejected immediately with Unavailable.
type Pool struct {
	db      *sql.DB
	log     zerolog.Logger
	queue   chan request
	timeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// New starts size workers with a bounded queue. timeout bounds each request's
// total wait+execution budget.
func New(db *sql.DB, size, queueLimit int, timeout time.Duration, log zerolog.Logger) *Pool {
	if size <= 0 {
		size = 3
	}
	if queueLimit <= 0 {
		queueLimit = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	p := &Pool{
		db:      db,
		log:     log.With().Str("component", "querypool").Logger(),
		queue:   make(chan request, queueLimit),
		timeout: timeout,
		closed:  make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Do submits a job and waits for its result. A saturated queue rejects with
// Unavailable; exceeding the per-request budget rejects with Timeout and
// frees the slot (the worker notices the dead context and discards the
// result).
func (p *Pool) Do(ctx context.Context, job Job) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := request{ctx: ctx, job: job, reply: make(chan result, 1)}
	select {
	case p.queue <- req:
	case <-p.closed:
		return nil, uerr.Unavailable("query pool shut down", nil)
	default:
		return nil, uerr.Unavailable("query pool saturated", nil)
	}

	select {
	case res := <-req.reply:
		return res.value, res.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, uerr.Timeout("query timed out after %s", p.timeout)
		}
		return nil, uerr.Wrap(uerr.KindTimeout, "query canceled", ctx.Err())
	case <-p.closed:
		return nil, uerr.Unavailable("query pool shut down", nil)
	}
}

// worker processes the queue on one pinned connection, reacquiring the
// connection and continuing after a job panic.
func (p *Pool) worker(id int) {
	defer p.wg.Done()
	var conn *sql.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-p.closed:
			return
		case req := <-p.queue:
			if req.ctx.Err() != nil {
				// The waiter already gave up; don't burn the connection.
				continue
			}
			if conn == nil {
				var err error
				conn, err = p.db.Conn(req.ctx)
				if err != nil {
					req.reply <- result{err: uerr.Unavailable("acquire connection", err)}
					continue
				}
			}
			value, err := p.run(req, conn)
			if err != nil && uerr.KindOf(err) == uerr.KindInternal {
				// A panicked job may have poisoned the connection state;
				// drop it and pin a fresh one for the next request.
				conn.Close()
				conn = nil
			}
			select {
			case req.reply <- result{value: value, err: err}:
			default:
			}
		}
	}
}

// run executes one job, converting a panic into an Internal error instead of
// taking the worker down.
func (p *Pool) run(req request, conn *sql.Conn) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("query job panicked")
			err = uerr.Newf(uerr.KindInternal, "query job panicked")
		}
	}()
	return req.job(req.ctx, conn)
}

// Shutdown cancels pending requests and stops the workers.
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	p.wg.Wait()

	// Drain anything still queued so waiters unblock promptly.
	for {
		select {
		case req := <-p.queue:
			select {
			case req.reply <- result{err: uerr.Unavailable("query pool shut down", nil)}:
			default:
			}
		default:
			return
		}
	}
}
