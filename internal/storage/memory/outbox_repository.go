package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

type outboxStatus string

const (
	outboxPending outboxStatus = "pending"
	outboxSent    outboxStatus = "sent"
	outboxFailed  outboxStatus = "failed"
)

// outboxRecord хранит сообщение и служебные поля.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     outboxStatus
	attemptCnt int
	seq        int64
	updatedAt  time.Time
}

// outboxRepositoryInMemory хранит outbox в памяти; атомарность с заказами даёт Store.
type outboxRepositoryInMemory struct {
	mu      sync.RWMutex
	seq     int64
	records map[string]*outboxRecord
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() domain.OutboxRepository {
	return &outboxRepositoryInMemory{records: make(map[string]*outboxRecord)}
}

// Enqueue сохраняет событие со статусом pending.
func (r *outboxRepositoryInMemory) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxMessage{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	r.seq++
	r.records[msg.ID] = &outboxRecord{
		msg:       msg,
		status:    outboxPending,
		seq:       r.seq,
		updatedAt: now,
	}
	return msg, nil
}

// PullPending возвращает до limit сообщений в порядке постановки в очередь.
func (r *outboxRepositoryInMemory) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := make([]*outboxRecord, 0)
	for _, rec := range r.records {
		if rec.status == outboxPending {
			pending = append(pending, rec)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	if len(pending) > limit {
		pending = pending[:limit]
	}
	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result, nil
}

// Stats считает pending-записи и возраст самой старой.
func (r *outboxRepositoryInMemory) Stats(ctx context.Context) (domain.OutboxStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxStats{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, rec := range r.records {
		if rec.status != outboxPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.msg.CreatedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.msg.CreatedAt
		}
	}
	return stats, nil
}

// MarkSent фиксирует успешную публикацию.
func (r *outboxRepositoryInMemory) MarkSent(ctx context.Context, id string) error {
	return r.mark(ctx, id, outboxSent)
}

// MarkFailed фиксирует исчерпание попыток публикации.
func (r *outboxRepositoryInMemory) MarkFailed(ctx context.Context, id string) error {
	return r.mark(ctx, id, outboxFailed)
}

func (r *outboxRepositoryInMemory) mark(ctx context.Context, id string, status outboxStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = time.Now().UTC()
	return nil
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
