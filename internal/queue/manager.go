// -----------------------------------------------------------------------
// Queue Manager - Persistent message queue on BadgerDB
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/ternarybob/visum/internal/interfaces"
	"github.com/ternarybob/visum/internal/models"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = models.ErrNoMessage

// envelope is the internal structure stored in Badger.
// Message data lives at queue:{name}:msg:{id}; a zero-padded
// visibility-time index at queue:{name}:index:{ts}:{id} keeps ready
// messages scannable in order.
type envelope struct {
	ID           string              `json:"id"`
	Body         models.QueueMessage `json:"body"`
	EnqueuedAt   time.Time           `json:"enqueued_at"`
	VisibleAt    time.Time           `json:"visible_at"`
	ReceiveCount int                 `json:"receive_count"`
}

// Manager implements a persistent queue using BadgerDB with visibility
// timeouts and at-least-once delivery semantics.
type Manager struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int

	mu          sync.RWMutex
	dropHandler func(models.QueueMessage)
}

var _ interfaces.QueueManager = (*Manager)(nil)

// NewManager creates a new Badger-backed queue manager
func NewManager(db *badger.DB, queueName string, visibilityTimeout time.Duration, maxReceive int) (*Manager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 10 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &Manager{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
	}, nil
}

// SetDropHandler registers a callback invoked with the body of every
// message dropped for exceeding the max receive count, so the owning job
// does not sit pending forever.
func (m *Manager) SetDropHandler(fn func(models.QueueMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropHandler = fn
}

func (m *Manager) notifyDropped(dropped []models.QueueMessage) {
	if len(dropped) == 0 {
		return
	}
	m.mu.RLock()
	fn := m.dropHandler
	m.mu.RUnlock()
	if fn == nil {
		return
	}
	for _, msg := range dropped {
		fn(msg)
	}
}

// Enqueue adds a message to the queue
func (m *Manager) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	id := uuid.New().String()

	env := envelope{
		ID:         id,
		Body:       msg,
		EnqueuedAt: time.Now(),
		VisibleAt:  time.Now(), // Immediately visible
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	return m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(m.msgKey(id), data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(env.VisibleAt, id), []byte{})
	})
}

// Receive pulls the next visible message from the queue.
// Claiming a message bumps its receive count and pushes its visibility
// out by the configured timeout so a crashed worker's message is
// eventually redelivered. Messages over the max receive count are
// dropped to prevent poison-pill loops.
func (m *Manager) Receive(ctx context.Context) (*models.QueueMessage, string, func() error, error) {
	var env envelope
	var msgID string
	var oldIndexKey []byte
	var dropped []models.QueueMessage
	found := false

	err := m.db.Update(func(txn *badger.Txn) error {
		dropped = dropped[:0]
		found = false
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)

			ts, id, err := m.parseIndexKey(key)
			if err != nil {
				continue // Skip invalid keys
			}

			if ts.After(now) {
				// Keys are sorted by timestamp - nothing further is ready
				break
			}

			msgItem, err := txn.Get(m.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Dangling index entry, clean it up
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			if err := msgItem.Value(func(val []byte) error {
				return json.Unmarshal(val, &env)
			}); err != nil {
				return err
			}

			if env.ReceiveCount >= m.maxReceive {
				// Poison message - drop it and report after commit
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(m.msgKey(id)); err != nil {
					return err
				}
				dropped = append(dropped, env.Body)
				continue
			}

			found = true
			msgID = id
			oldIndexKey = key
			break
		}

		if !found {
			// Commit so any poison deletions above stick
			return nil
		}

		env.ReceiveCount++
		env.VisibleAt = time.Now().Add(m.visibilityTimeout)

		newData, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(msgID), newData); err != nil {
			return err
		}

		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(m.indexKey(env.VisibleAt, msgID), []byte{})
	})

	if err == nil {
		m.notifyDropped(dropped)
	}
	if err != nil {
		return nil, "", nil, err
	}
	if !found {
		return nil, "", nil, ErrNoMessage
	}

	deleteFn := func() error {
		return m.delete(msgID)
	}

	return &env.Body, msgID, deleteFn, nil
}

// Extend pushes out the visibility timeout for a long-running job.
// Workers call this periodically so a video that takes longer than the
// visibility timeout is not redelivered mid-processing.
func (m *Manager) Extend(ctx context.Context, messageID string, duration time.Duration) error {
	return m.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(m.msgKey(messageID))
		if err != nil {
			return err
		}

		var env envelope
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		}); err != nil {
			return err
		}

		oldVisibleAt := env.VisibleAt
		env.VisibleAt = time.Now().Add(duration)

		newData, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(messageID), newData); err != nil {
			return err
		}

		if err := txn.Delete(m.indexKey(oldVisibleAt, messageID)); err != nil {
			if err != badger.ErrKeyNotFound {
				return err
			}
		}
		return txn.Set(m.indexKey(env.VisibleAt, messageID), []byte{})
	})
}

// Close closes the queue manager (the DB is managed externally)
func (m *Manager) Close() error {
	return nil
}

// delete removes a message and its index entry
func (m *Manager) delete(messageID string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(m.msgKey(messageID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil // Already deleted
			}
			return err
		}

		var env envelope
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		}); err != nil {
			return err
		}

		if err := txn.Delete(m.indexKey(env.VisibleAt, messageID)); err != nil {
			if err != badger.ErrKeyNotFound {
				return err
			}
		}
		return txn.Delete(m.msgKey(messageID))
	})
}

// Helpers

func (m *Manager) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, id))
}

func (m *Manager) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so string sorting matches numeric sorting
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", m.queueName, visibleAt.UnixNano(), id))
}

func (m *Manager) parseIndexKey(key []byte) (time.Time, string, error) {
	prefixStr := fmt.Sprintf("queue:%s:index:", m.queueName)
	if len(key) <= len(prefixStr) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	suffix := string(key[len(prefixStr):])
	// Suffix is "{20-digit-ts}:{id}"
	if len(suffix) < 22 {
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	tsStr := suffix[:20]
	id := suffix[21:]

	var ts int64
	if _, err := fmt.Sscanf(tsStr, "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), id, nil
}
