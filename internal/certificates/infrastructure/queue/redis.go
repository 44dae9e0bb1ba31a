package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"certgen-cloud/internal/certificates/application"
)

// Names are the redis keys the workers consume.
type Names struct {
	Generation     string
	Email          string
	EmailScheduled string
}

// DefaultNames returns the standard key layout.
func DefaultNames() Names {
	return Names{
		Generation:     "certgen:queue:generation",
		Email:          "certgen:queue:email",
		EmailScheduled: "certgen:queue:email:scheduled",
	}
}

// RedisQueue pushes tasks onto redis lists. Emails with a send time are held
// in a sorted set scored by that time until Promote moves them to the list.
type RedisQueue struct {
	client *redis.Client
	names  Names
	logger *slog.Logger
}

// NewRedisQueue builds a queue on client. Empty names fall back to DefaultNames.
func NewRedisQueue(client *redis.Client, names Names, logger *slog.Logger) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("queue: nil redis client")
	}
	defaults := DefaultNames()
	if names.Generation == "" {
		names.Generation = defaults.Generation
	}
	if names.Email == "" {
		names.Email = defaults.Email
	}
	if names.EmailScheduled == "" {
		names.EmailScheduled = defaults.EmailScheduled
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{client: client, names: names, logger: logger}, nil
}

// EnqueueGeneration pushes one row's generation task.
func (q *RedisQueue) EnqueueGeneration(ctx context.Context, task application.GenerationTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("queue: encode generation task: %w", err)
	}
	if err := q.client.RPush(ctx, q.names.Generation, payload).Err(); err != nil {
		return fmt.Errorf("queue: push generation task %s: %w", task.RowID, err)
	}
	return nil
}

// EnqueueEmail pushes an email batch, or parks it until its scheduled time.
func (q *RedisQueue) EnqueueEmail(ctx context.Context, task application.EmailTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("queue: encode email task: %w", err)
	}
	if task.ScheduledAt != nil {
		err = q.client.ZAdd(ctx, q.names.EmailScheduled, redis.Z{
			Score:  float64(task.ScheduledAt.Unix()),
			Member: payload,
		}).Err()
	} else {
		err = q.client.RPush(ctx, q.names.Email, payload).Err()
	}
	if err != nil {
		return fmt.Errorf("queue: push email task %s: %w", task.EmailID, err)
	}
	return nil
}

// Promote moves every scheduled email due at now onto the email list and
// returns how many were moved. Members removed by a concurrent promoter are
// skipped, so each email is pushed once.
func (q *RedisQueue) Promote(ctx context.Context, now time.Time) (int, error) {
	due, err := q.client.ZRangeByScore(ctx, q.names.EmailScheduled, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: list due emails: %w", err)
	}
	moved := 0
	for _, member := range due {
		removed, err := q.client.ZRem(ctx, q.names.EmailScheduled, member).Result()
		if err != nil {
			return moved, fmt.Errorf("queue: claim due email: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.RPush(ctx, q.names.Email, member).Err(); err != nil {
			return moved, fmt.Errorf("queue: push due email: %w", err)
		}
		moved++
	}
	return moved, nil
}

// RunScheduler promotes due emails every interval until ctx is done.
func (q *RedisQueue) RunScheduler(ctx context.Context, interval time.Duration, clock application.Clock) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if clock == nil {
		clock = application.SystemClock{}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := q.Promote(ctx, clock.Now())
			if err != nil {
				q.logger.Warn("email scheduler promote failed", "error", err)
				continue
			}
			if moved > 0 {
				q.logger.Info("scheduled emails released", "count", moved)
			}
		}
	}
}
