package redisstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Producer appends jobs for one stage: envelope hash first, then the routing
// entry on the stream. The stream entry carries only {job_id, shop [, action]}.
type Producer struct {
	rdb       redis.Cmdable
	stage     Stage
	envelopes *Envelopes
}

// NewProducer builds a Producer bound to the given stage.
func NewProducer(rdb redis.Cmdable, stage Stage) *Producer {
	return &Producer{rdb: rdb, stage: stage, envelopes: NewEnvelopes(rdb, stage)}
}

// Enqueue stores the payload under a fresh job id and pushes the routing
// tuple to the stage stream. It returns the new job id.
func (p *Producer) Enqueue(ctx context.Context, shop string, payload any) (string, error) {
	return p.enqueue(ctx, shop, payload, "")
}

// EnqueueWithAction is Enqueue with an extra action field on the stream
// entry; the scheduler uses it for seed jobs.
func (p *Producer) EnqueueWithAction(ctx context.Context, shop, action string, payload any) (string, error) {
	return p.enqueue(ctx, shop, payload, action)
}

func (p *Producer) enqueue(ctx context.Context, shop string, payload any, action string) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=producer.enqueue: marshal: %w", err)
	}

	jobID := uuid.New().String()
	if err := p.envelopes.Create(ctx, jobID, data); err != nil {
		return "", err
	}

	values := map[string]any{"job_id": jobID, "shop": shop}
	if action != "" {
		values["action"] = action
	}
	if err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stage.Stream,
		Values: values,
	}).Err(); err != nil {
		return "", fmt.Errorf("op=producer.enqueue: xadd: %w", err)
	}
	return jobID, nil
}
