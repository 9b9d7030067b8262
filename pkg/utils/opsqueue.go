package utils

import (
	"sync"

	"github.com/frostbyte73/core"
	"github.com/gammazero/deque"

	"github.com/livekit/protocol/logger"
)

// OpsQueue runs enqueued operations one at a time, in order, on its own
// goroutine. Operations are never dropped while the queue is running.
type OpsQueue struct {
	logger logger.Logger
	name   string

	lock    sync.Mutex
	ops     *deque.Deque[func()]
	wake    chan struct{}
	started bool
	stopped core.Fuse
	done    core.Fuse
}

func NewOpsQueue(logger logger.Logger, name string) *OpsQueue {
	return &OpsQueue{
		logger: logger,
		name:   name,
		ops:    deque.New[func()](),
		wake:   make(chan struct{}, 1),
	}
}

func (oq *OpsQueue) Start() {
	oq.lock.Lock()
	if oq.started {
		oq.lock.Unlock()
		return
	}
	oq.started = true
	oq.lock.Unlock()

	go oq.process()
}

// Stop discards pending operations. The operation currently running, if any,
// is allowed to finish.
func (oq *OpsQueue) Stop() {
	oq.lock.Lock()
	if oq.stopped.IsBroken() {
		oq.lock.Unlock()
		return
	}
	oq.stopped.Break()
	pending := oq.ops.Len()
	oq.ops.Clear()
	started := oq.started
	oq.lock.Unlock()

	if pending > 0 {
		oq.logger.Debugw("ops queue stopped with pending ops", "name", oq.name, "pending", pending)
	}
	if !started {
		oq.done.Break()
	}
}

// Done is closed once the processing goroutine has exited.
func (oq *OpsQueue) Done() <-chan struct{} {
	return oq.done.Watch()
}

func (oq *OpsQueue) Enqueue(op func()) {
	oq.lock.Lock()
	if oq.stopped.IsBroken() {
		oq.lock.Unlock()
		return
	}
	oq.ops.PushBack(op)
	oq.lock.Unlock()

	select {
	case oq.wake <- struct{}{}:
	default:
	}
}

func (oq *OpsQueue) process() {
	defer oq.done.Break()

	for {
		select {
		case <-oq.stopped.Watch():
			return
		case <-oq.wake:
		}

		for {
			oq.lock.Lock()
			if oq.stopped.IsBroken() || oq.ops.Len() == 0 {
				oq.lock.Unlock()
				break
			}
			op := oq.ops.PopFront()
			oq.lock.Unlock()

			op()
		}
	}
}
