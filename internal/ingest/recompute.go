package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/churnguard/churnguard/internal/metrics"
	"github.com/churnguard/churnguard/internal/predictions"
	"github.com/churnguard/churnguard/internal/realtime"
	"github.com/churnguard/churnguard/internal/retry"
)

// recomputeTask identifies one user whose risk score needs refreshing.
type recomputeTask struct {
	clientID string
	userID   string
}

// Dispatcher runs risk recomputation off the request path. Significant
// events enqueue a task; duplicate tasks for the same user coalesce while
// one is still pending, and the prediction TTL bounds how often a user can
// actually be rescored.
type Dispatcher struct {
	service *predictions.Service
	hub     *realtime.Hub

	tasks   chan recomputeTask
	mu      sync.Mutex
	pending map[recomputeTask]struct{}

	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given queue capacity.
// hub may be nil; fresh predictions are then not broadcast.
func NewDispatcher(service *predictions.Service, hub *realtime.Hub, queueSize int, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		service: service,
		hub:     hub,
		tasks:   make(chan recomputeTask, queueSize),
		pending: make(map[recomputeTask]struct{}),
		logger:  logger.With("component", "recompute"),
	}
}

// Start launches the worker loop. It drains until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case task := <-d.tasks:
				d.mu.Lock()
				delete(d.pending, task)
				depth := len(d.tasks)
				d.mu.Unlock()
				metrics.RecomputeQueueDepth.Set(float64(depth))
				d.process(ctx, task)
			}
		}
	}()
}

// Wait blocks until the worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Enqueue schedules a recompute for (clientID, userID). Best-effort: a
// task already pending for the same user coalesces, and a full queue
// drops the task rather than blocking ingestion.
func (d *Dispatcher) Enqueue(clientID, userID string) {
	if userID == "" {
		return
	}
	task := recomputeTask{clientID: clientID, userID: userID}

	d.mu.Lock()
	if _, exists := d.pending[task]; exists {
		d.mu.Unlock()
		metrics.RecomputeTasksTotal.WithLabelValues("coalesced").Inc()
		return
	}
	select {
	case d.tasks <- task:
		d.pending[task] = struct{}{}
		depth := len(d.tasks)
		d.mu.Unlock()
		metrics.RecomputeTasksTotal.WithLabelValues("enqueued").Inc()
		metrics.RecomputeQueueDepth.Set(float64(depth))
	default:
		d.mu.Unlock()
		metrics.RecomputeTasksTotal.WithLabelValues("dropped").Inc()
		d.logger.Warn("recompute queue full, dropping task",
			"client_id", clientID, "user_id", userID)
	}
}

func (d *Dispatcher) process(ctx context.Context, task recomputeTask) {
	var pred *predictions.Prediction
	err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		var err error
		pred, err = d.service.Predict(ctx, task.clientID, task.userID, time.Now().UTC())
		return err
	})
	if err != nil {
		metrics.RecomputeTasksTotal.WithLabelValues("failed").Inc()
		d.logger.Error("recompute failed",
			"client_id", task.clientID, "user_id", task.userID, "error", err)
		return
	}

	if d.hub != nil {
		d.hub.BroadcastPrediction(task.clientID, map[string]any{
			"userId":      pred.UserID,
			"riskScore":   pred.RiskScore,
			"riskFactors": pred.RiskFactors,
		})
	}
}
