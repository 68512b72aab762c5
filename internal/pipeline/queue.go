package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mfranzen/videoforge/internal/catalog"
	"github.com/mfranzen/videoforge/pkg/log"
)

// DeadLetterStore parks failed messages for operator inspection and replay.
type DeadLetterStore interface {
	SaveDeadLetter(ctx context.Context, d *catalog.DeadLetter) error
	DeadLetters(ctx context.Context) ([]*catalog.DeadLetter, error)
	DeleteDeadLetter(ctx context.Context, id string) error
}

// Handler consumes one message. Returning an error routes the message to the
// dead-letter store; it is never retried in place, so handlers must stay
// idempotent under operator replay of the same identity.
type Handler func(ctx context.Context, msg Message) error

// Queue is a named, buffered dispatch channel delivering messages one at a
// time to a single registered handler.
type Queue struct {
	name     string
	dead     DeadLetterStore
	messages chan Message

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewQueue(name string, dead DeadLetterStore) *Queue {
	return &Queue{
		name:     name,
		dead:     dead,
		messages: make(chan Message, 256),
		stopCh:   make(chan struct{}),
	}
}

func (q *Queue) Name() string {
	return q.name
}

// Send enqueues a message. A full buffer falls back to a goroutine so the
// sender never blocks the indexing pass.
func (q *Queue) Send(msg Message) {
	select {
	case q.messages <- msg:
	default:
		go func() {
			select {
			case q.messages <- msg:
			case <-q.stopCh:
			}
		}()
	}
}

// Receive registers the handler and starts consuming.
func (q *Queue) Receive(handler Handler) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		log.Info("[%s] Listening for messages", q.name)
		for {
			select {
			case <-q.stopCh:
				return
			case msg := <-q.messages:
				if err := handler(context.Background(), msg); err != nil {
					q.deadLetter(msg, err)
				}
			}
		}
	}()
}

func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.wg.Wait()
	})
}

// deadLetter annotates the message with the failure and parks it.
func (q *Queue) deadLetter(msg Message, cause error) {
	log.Error("[%s] Message %s failed: %v", q.name, msg.Describe(), cause)

	msg.Error = cause.Error()
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error("[%s] Failed to encode dead letter %s: %v", q.name, msg.ID, err)
		return
	}
	if q.dead == nil {
		return
	}
	letter := &catalog.DeadLetter{
		ID:      msg.ID,
		Queue:   q.name,
		Kind:    string(msg.Kind),
		Payload: string(payload),
		Error:   msg.Error,
	}
	if err := q.dead.SaveDeadLetter(context.Background(), letter); err != nil {
		log.Error("[%s] Failed to persist dead letter %s: %v", q.name, msg.ID, err)
	}
}

// Replay re-sends a parked dead letter onto this queue and removes it from
// the store. This is the operator-driven retry path.
func (q *Queue) Replay(ctx context.Context, id string) error {
	if q.dead == nil {
		return fmt.Errorf("no dead-letter store configured")
	}
	letters, err := q.dead.DeadLetters(ctx)
	if err != nil {
		return err
	}
	for _, letter := range letters {
		if letter.ID != id || letter.Queue != q.name {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(letter.Payload), &msg); err != nil {
			return fmt.Errorf("decode dead letter %s: %w", id, err)
		}
		msg.Error = ""
		if err := q.dead.DeleteDeadLetter(ctx, id); err != nil {
			return err
		}
		q.Send(msg)
		return nil
	}
	return fmt.Errorf("dead letter %s not found on queue %s", id, q.name)
}
