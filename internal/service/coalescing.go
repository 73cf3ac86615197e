package service

import (
	"context"
	"sync"

	"github.com/kjstillabower/agro-advisor/internal/models"
)

// inFlightFetch is one archive fetch that several callers may be waiting on.
type inFlightFetch struct {
	done    chan struct{}
	result  models.WeatherSeries
	err     error
	waiters int
	cancel  context.CancelFunc
}

// requestCoalescer collapses identical concurrent archive lookups into one
// upstream call. The shared call is cancelled only when every waiter has gone,
// so one superseded session does not abort a fetch another session needs.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightFetch
}

func newRequestCoalescer() *requestCoalescer {
	return &requestCoalescer{inFlight: make(map[string]*inFlightFetch)}
}

// Do runs fn for key, or joins an in-flight call for the same key. shared is
// true when the caller joined an existing call.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(ctx context.Context) (models.WeatherSeries, error)) (series models.WeatherSeries, shared bool, err error) {
	rc.mu.Lock()
	if f, ok := rc.inFlight[key]; ok {
		f.waiters++
		rc.mu.Unlock()
		series, err = rc.wait(ctx, key, f)
		return series, true, err
	}

	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &inFlightFetch{done: make(chan struct{}), waiters: 1, cancel: cancel}
	rc.inFlight[key] = f
	rc.mu.Unlock()

	go func() {
		defer cancel()
		f.result, f.err = fn(fetchCtx)
		rc.forget(key, f)
		close(f.done)
	}()

	series, err = rc.wait(ctx, key, f)
	return series, false, err
}

func (rc *requestCoalescer) wait(ctx context.Context, key string, f *inFlightFetch) (models.WeatherSeries, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		rc.mu.Lock()
		f.waiters--
		abandoned := f.waiters == 0
		if abandoned && rc.inFlight[key] == f {
			delete(rc.inFlight, key)
		}
		rc.mu.Unlock()
		if abandoned {
			f.cancel()
		}
		return models.WeatherSeries{}, ctx.Err()
	}
}

func (rc *requestCoalescer) forget(key string, f *inFlightFetch) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.inFlight[key] == f {
		delete(rc.inFlight, key)
	}
}

// waiting returns the number of callers waiting on key.
func (rc *requestCoalescer) waiting(key string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if f, ok := rc.inFlight[key]; ok {
		return f.waiters
	}
	return 0
}
