package service

import (
	"context"
	"sync"
)

// CryptoPool runs crypto-engine calls on a bounded set of workers so that
// slow encryptions and ceremonies never serialize unrelated request
// handlers. Callers wait with their own context deadline; a deadline that
// fires before the work completes surfaces as ErrCryptoTimeout and the
// result, if any, is discarded.
type CryptoPool struct {
	tasks      chan poolTask
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

type poolTask struct {
	run func()
}

// NewCryptoPool starts workers goroutines draining a queue of queueSize.
func NewCryptoPool(workers, queueSize int) *CryptoPool {
	if workers < 1 {
		workers = 1
	}
	p := &CryptoPool{
		tasks:      make(chan poolTask, queueSize),
		shutdownCh: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *CryptoPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdownCh:
			return
		case task := <-p.tasks:
			task.run()
		}
	}
}

// Run enqueues fn and waits for it. A full queue waits rather than drops,
// still bounded by ctx. The returned error is fn's own error, or
// ErrCryptoTimeout when ctx expires first.
func (p *CryptoPool) Run(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	task := poolTask{run: func() { done <- fn() }}

	select {
	case p.tasks <- task:
	case <-ctx.Done():
		return ErrCryptoTimeout
	case <-p.shutdownCh:
		return ErrCryptoEngine
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ErrCryptoTimeout
	case <-p.shutdownCh:
		return ErrCryptoEngine
	}
}

// Stop shuts the pool down and waits for in-flight tasks to finish.
func (p *CryptoPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.shutdownCh)
		p.wg.Wait()
	})
}
