package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingEdit is a manual attendance change waiting to be committed.
// UI edits enqueue these; the drain tick commits them in order.
type PendingEdit struct {
	StudentID string `json:"student_id"`
	CourseID  int    `json:"course_id"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Status    string `json:"status"`
}

// Key identifies the record an edit targets; later edits for the same key
// supersede earlier ones.
func (p PendingEdit) Key() string {
	return p.StudentID + "|" + p.Date + "|" + strconv.Itoa(p.CourseID)
}

// Queue is the abstraction over pending-edit backends.
type Queue interface {
	Publish(ctx context.Context, edit PendingEdit) error
	// Drain removes and returns everything currently queued, oldest first.
	Drain(ctx context.Context) ([]PendingEdit, error)
}

// InMemory is a channel-backed queue for dev/testing and single-process runs.
type InMemory struct {
	ch chan PendingEdit
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan PendingEdit, size)}
}

// Publish enqueues an edit.
func (q *InMemory) Publish(ctx context.Context, edit PendingEdit) error {
	select {
	case q.ch <- edit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain empties the queue without blocking.
func (q *InMemory) Drain(ctx context.Context) ([]PendingEdit, error) {
	var out []PendingEdit
	for {
		select {
		case edit := <-q.ch:
			out = append(out, edit)
		default:
			return out, nil
		}
	}
}

// RedisQueue implements a Redis list-backed queue so edits survive restarts
// between the UI tick and the drain tick.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/RPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "faris:pending-edits"
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues an edit.
func (q *RedisQueue) Publish(ctx context.Context, edit PendingEdit) error {
	body, err := json.Marshal(edit)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, body).Err()
}

// Drain pops everything currently queued, oldest first.
func (q *RedisQueue) Drain(ctx context.Context) ([]PendingEdit, error) {
	var out []PendingEdit
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res, err := q.client.RPop(ctx, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return out, nil
			}
			return out, err
		}
		var edit PendingEdit
		if err := json.Unmarshal([]byte(res), &edit); err != nil {
			// Skip malformed entries rather than wedging the drain.
			continue
		}
		out = append(out, edit)
	}
	return out, nil
}
