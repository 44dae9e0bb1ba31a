package memory

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"certgen-cloud/internal/certificates/application"
	certificates "certgen-cloud/internal/certificates/domain"
)

// ObjectStore keeps objects in a map.
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	now     func() time.Time
}

// NewObjectStore constructs an empty object store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string][]byte), now: time.Now}
}

// Put stores body under key.
func (o *ObjectStore) Put(_ context.Context, key string, body []byte, _ string) error {
	if key == "" {
		return certificates.Validation("object key required")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = append([]byte(nil), body...)
	return nil
}

// Get returns the object at key.
func (o *ObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	body, ok := o.objects[key]
	if !ok {
		return nil, certificates.NotFound("object %s not found", key)
	}
	return append([]byte(nil), body...), nil
}

// Delete removes keys; missing keys are ignored.
func (o *ObjectStore) Delete(_ context.Context, keys ...string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, key := range keys {
		delete(o.objects, key)
	}
	return nil
}

// DeletePrefix removes every key under prefix.
func (o *ObjectStore) DeletePrefix(_ context.Context, prefix string) error {
	if prefix == "" {
		return certificates.Validation("object prefix required")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for key := range o.objects {
		if strings.HasPrefix(key, prefix) {
			delete(o.objects, key)
		}
	}
	return nil
}

// SignedURL returns a memory:// URL carrying the expiry.
func (o *ObjectStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	o.mu.RLock()
	_, ok := o.objects[key]
	o.mu.RUnlock()
	if !ok {
		return "", certificates.NotFound("object %s not found", key)
	}
	expires := o.now().Add(ttl).Unix()
	return fmt.Sprintf("memory://%s?expires=%d", url.PathEscape(key), expires), nil
}

// Keys lists stored keys in order.
func (o *ObjectStore) Keys() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	keys := make([]string, 0, len(o.objects))
	for key := range o.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Queue records tasks instead of sending them.
type Queue struct {
	mu          sync.Mutex
	generations []application.GenerationTask
	emails      []application.EmailTask
}

// EnqueueGeneration records a generation task.
func (q *Queue) EnqueueGeneration(_ context.Context, task application.GenerationTask) error {
	q.mu.Lock()
	q.generations = append(q.generations, task)
	q.mu.Unlock()
	return nil
}

// EnqueueEmail records an email task.
func (q *Queue) EnqueueEmail(_ context.Context, task application.EmailTask) error {
	q.mu.Lock()
	q.emails = append(q.emails, task)
	q.mu.Unlock()
	return nil
}

// Generations returns the recorded generation tasks.
func (q *Queue) Generations() []application.GenerationTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]application.GenerationTask(nil), q.generations...)
}

// Emails returns the recorded email tasks.
func (q *Queue) Emails() []application.EmailTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]application.EmailTask(nil), q.emails...)
}
