package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB records batches and reports a conflict for any row whose first two
// arguments were already inserted. Like a real pool it fails batches sent
// with a cancelled context; those are not recorded.
type fakeDB struct {
	mu      sync.Mutex
	batches []*pgx.Batch
	seen    map[string]bool
	err     error         // returned by every Exec when set
	delay   time.Duration // simulated round trip per batch
}

func (d *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return &fakeResults{err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	d.batches = append(d.batches, b)

	res := &fakeResults{err: d.err}
	for _, q := range b.QueuedQueries {
		key := fmt.Sprint(q.Arguments[0], "|", q.Arguments[1])
		if d.seen[key] {
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 0"))
			continue
		}
		if d.err == nil {
			d.seen[key] = true
		}
		res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 1"))
	}
	return res
}

func (d *fakeDB) Batches() []*pgx.Batch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*pgx.Batch(nil), d.batches...)
}

func (d *fakeDB) Rows() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, b := range d.batches {
		n += b.Len()
	}
	return n
}

type fakeResults struct {
	tags []pgconn.CommandTag
	i    int
	err  error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	tag := r.tags[r.i]
	r.i++
	return tag, nil
}

func (r *fakeResults) Query() (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (r *fakeResults) QueryRow() pgx.Row {
	return nil
}

func (r *fakeResults) Close() error {
	return nil
}
