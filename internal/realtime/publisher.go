package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/metrics"
	"go.uber.org/zap"
)

const (
	defaultPublishWorkers = 4
	defaultPublishQueue   = 1024
	defaultDeliverTimeout = 5 * time.Second
)

var errMissingSink = errors.New("realtime: fanout sink required")

// Sink performs the actual delivery of one event to one room: the local Registry, or the
// RedisBridge when several instances share the rooms.
type Sink interface {
	Deliver(ctx context.Context, postID string, event Event) (int, error)
}

// AsyncPublisherConfig sizes the fanout worker pool.
type AsyncPublisherConfig struct {
	Sink           Sink
	Workers        int
	QueueSize      int
	DeliverTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *metrics.RealtimeMetrics
}

// AsyncPublisher is the fanout publisher handed to writers. Publish only enqueues; a fixed
// pool of workers drains the queue into the sink. When the queue is full the event is
// dropped and logged, so callers never wait on delivery.
type AsyncPublisher struct {
	sink           Sink
	queue          chan publishJob
	deliverTimeout time.Duration
	logger         *zap.Logger
	metrics        *metrics.RealtimeMetrics

	// Enqueues hold mu for reading; Close flips closed under the write lock.
	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}
	wg      sync.WaitGroup
}

type publishJob struct {
	postID string
	event  Event
}

// NewAsyncPublisher starts the worker pool. Call Close to stop it.
func NewAsyncPublisher(cfg AsyncPublisherConfig) (*AsyncPublisher, error) {
	if cfg.Sink == nil {
		return nil, errMissingSink
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultPublishWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultPublishQueue
	}
	timeout := cfg.DeliverTimeout
	if timeout <= 0 {
		timeout = defaultDeliverTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := &AsyncPublisher{
		sink:           cfg.Sink,
		queue:          make(chan publishJob, queueSize),
		deliverTimeout: timeout,
		logger:         logger,
		metrics:        cfg.Metrics,
		stopped:        make(chan struct{}),
	}
	publisher.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go publisher.work()
	}
	return publisher, nil
}

// Publish schedules event for the room of postID and returns immediately.
func (p *AsyncPublisher) Publish(postID string, event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.metrics.Dropped(metrics.DropReasonClosed)
		p.logger.Warn("fanout dropped after shutdown", zap.String("post_id", postID), zap.String("event", event.Name))
		return
	}
	select {
	case p.queue <- publishJob{postID: postID, event: event}:
	default:
		p.metrics.Dropped(metrics.DropReasonQueueFull)
		p.logger.Warn("fanout queue full, event dropped", zap.String("post_id", postID), zap.String("event", event.Name))
	}
}

// Close stops accepting events, drains what is queued and waits for the workers.
func (p *AsyncPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.stopped)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *AsyncPublisher) work() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.queue:
			p.deliver(job)
		case <-p.stopped:
			for {
				select {
				case job := <-p.queue:
					p.deliver(job)
				default:
					return
				}
			}
		}
	}
}

func (p *AsyncPublisher) deliver(job publishJob) {
	defer func() {
		if recovered := recover(); recovered != nil {
			p.metrics.PublishFailed()
			p.logger.Error("fanout panicked",
				zap.String("post_id", job.postID),
				zap.String("event", job.event.Name),
				zap.Error(fmt.Errorf("panic: %v", recovered)))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.deliverTimeout)
	defer cancel()

	delivered, err := p.sink.Deliver(ctx, job.postID, job.event)
	if err != nil {
		p.metrics.PublishFailed()
		p.logger.Warn("fanout failed",
			zap.String("post_id", job.postID),
			zap.String("event", job.event.Name),
			zap.Error(err))
		return
	}
	p.logger.Debug("fanout delivered",
		zap.String("post_id", job.postID),
		zap.String("event", job.event.Name),
		zap.Int("recipients", delivered))
}
