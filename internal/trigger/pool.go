// Package trigger turns record and batch creation into dispatcher calls.
package trigger

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 32

// DispatchFunc processes the document with the given id
type DispatchFunc func(ctx context.Context, id string) error

// Submitter accepts document ids for dispatch
type Submitter interface {
	Submit(ctx context.Context, id string) bool
}

// Pool runs a DispatchFunc with bounded concurrency. An id that is already
// being dispatched is not started a second time.
type Pool struct {
	name     string
	dispatch DispatchFunc
	group    errgroup.Group
	inflight sync.Map
	logger   *zap.Logger
}

func NewPool(name string, dispatch DispatchFunc, concurrency int, logger *zap.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	p := &Pool{
		name:     name,
		dispatch: dispatch,
		logger:   logger.With(zap.String("pool", name)),
	}
	p.group.SetLimit(concurrency)
	return p
}

// Submit schedules id, blocking while the pool is full. It returns false
// when the id is already in flight.
func (p *Pool) Submit(ctx context.Context, id string) bool {
	if _, busy := p.inflight.LoadOrStore(id, struct{}{}); busy {
		p.logger.Debug("Dispatch already in flight", zap.String("id", id))
		return false
	}

	// in-flight work outlives the trigger that started it
	ctx = context.WithoutCancel(ctx)
	p.group.Go(func() error {
		defer p.inflight.Delete(id)
		if err := p.dispatch(ctx, id); err != nil {
			p.logger.Error("Dispatch failed", zap.String("id", id), zap.Error(err))
		}
		return nil
	})
	return true
}

// Wait blocks until every submitted dispatch has returned
func (p *Pool) Wait() {
	_ = p.group.Wait()
}
