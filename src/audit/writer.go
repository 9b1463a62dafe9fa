package audit

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradecore/src/model"
)

// logStore is the slice of OrderRepository the writer needs.
type logStore interface {
	CreateLog(ctx context.Context, entry *model.OrderLog) error
}

// Writer persists order lifecycle logs from a background goroutine so a
// slow log sink never stalls order submission. When the queue is full the
// entry is logged synchronously to the process log instead of blocking.
type Writer struct {
	store logStore
	queue chan model.OrderLog

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewWriter builds a writer with the given queue capacity.
func NewWriter(store logStore, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writer{
		store: store,
		queue: make(chan model.OrderLog, queueSize),
		done:  make(chan struct{}),
	}
}

// Start launches the background worker. Call Close to drain and stop.
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Writer) run() {
	defer w.wg.Done()

	for {
		select {
		case entry := <-w.queue:
			w.persist(entry)
		case <-w.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case entry := <-w.queue:
					w.persist(entry)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) persist(entry model.OrderLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.store.CreateLog(ctx, &entry); err != nil {
		logger.WithFields(map[string]interface{}{
			"order_id": entry.OrderID,
			"status":   entry.Status,
		}).WithError(err).Error("failed to persist order log")
	}
}

// Record enqueues an order lifecycle event. It never blocks: on overflow
// the event goes to the process log and the database row is skipped.
func (w *Writer) Record(order *model.Order, reason string) {
	entry := model.OrderLog{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Kind:      order.Kind,
		Quantity:  order.Quantity,
		Status:    order.Status,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
	if order.OpenPrice != nil {
		price := *order.OpenPrice
		entry.Price = &price
	}

	select {
	case w.queue <- entry:
	default:
		logger.WithFields(map[string]interface{}{
			"order_id": order.ID,
			"status":   order.Status,
			"reason":   reason,
		}).Warn("audit queue full, order log dropped to process log")
	}
}

// Close stops the worker after draining the queue.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
}
