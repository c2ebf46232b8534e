package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/cache"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/clients"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/notify"
)

// PlacesClient is a mock implementation of clients.PlacesClient.
// Unset funcs return nothing found.
type PlacesClient struct {
	mu sync.Mutex

	SearchFunc  func(ctx context.Context, req clients.TextSearchRequest) (*models.PlaceSnapshot, error)
	DetailsFunc func(ctx context.Context, placeID string) (*models.PlaceSnapshot, error)
	PhotoFunc   func(ctx context.Context, photoName string, maxWidth int) (string, error)

	Queries      []string
	DetailsCalls int
	PhotoCalls   int
}

func (m *PlacesClient) SearchText(ctx context.Context, req clients.TextSearchRequest) (*models.PlaceSnapshot, error) {
	m.mu.Lock()
	m.Queries = append(m.Queries, req.Query)
	fn := m.SearchFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, req)
}

func (m *PlacesClient) GetPlace(ctx context.Context, placeID string) (*models.PlaceSnapshot, error) {
	m.mu.Lock()
	m.DetailsCalls++
	fn := m.DetailsFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, errors.New("place not found")
	}
	return fn(ctx, placeID)
}

func (m *PlacesClient) ResolvePhoto(ctx context.Context, photoName string, maxWidth int) (string, error) {
	m.mu.Lock()
	m.PhotoCalls++
	fn := m.PhotoFunc
	m.mu.Unlock()
	if fn == nil {
		return "", nil
	}
	return fn(ctx, photoName, maxWidth)
}

// NetworkCalls is the total number of provider calls made.
func (m *PlacesClient) NetworkCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Queries) + m.DetailsCalls + m.PhotoCalls
}

// CacheRepository is a mock implementation of repository.CacheRepository.
type CacheRepository struct {
	mu      sync.Mutex
	Values  map[string]string
	Floats  map[string]float64
	Err     error
	Expires map[string]time.Duration
}

func NewCacheRepository() *CacheRepository {
	return &CacheRepository{
		Values:  make(map[string]string),
		Floats:  make(map[string]float64),
		Expires: make(map[string]time.Duration),
	}
}

func (m *CacheRepository) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Values[key], m.Err
}

func (m *CacheRepository) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Values, key)
	delete(m.Floats, key)
	return m.Err
}

func (m *CacheRepository) GetJSON(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	raw, ok := m.Values[key]
	if !ok {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

func (m *CacheRepository) SetJSON(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.Values[key] = string(raw)
	m.Expires[key] = expiration
	return nil
}

func (m *CacheRepository) IncrementFloat(_ context.Context, key string, by float64, expiration time.Duration) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	m.Floats[key] += by
	m.Expires[key] = expiration
	return m.Floats[key], nil
}

func (m *CacheRepository) GetFloat(_ context.Context, key string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Floats[key], m.Err
}

// Notifier records every alert it is handed.
type Notifier struct {
	mu     sync.Mutex
	Alerts []notify.Alert
	Err    error
}

func (m *Notifier) Notify(_ context.Context, alert notify.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, alert)
	return m.Err
}

// Kinds lists the kinds of the recorded alerts in order.
func (m *Notifier) Kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]string, 0, len(m.Alerts))
	for _, a := range m.Alerts {
		kinds = append(kinds, a.Kind())
	}
	return kinds
}

// Publisher is a mock implementation of notify.Publisher.
type Publisher struct {
	mu       sync.Mutex
	Messages map[string][][]byte
	Err      error
}

func NewPublisher() *Publisher {
	return &Publisher{Messages: make(map[string][][]byte)}
}

func (m *Publisher) Publish(_ context.Context, queueName string, message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Messages[queueName] = append(m.Messages[queueName], message)
	return nil
}

func (m *Publisher) Close() error {
	return nil
}

// Locker is an in-process cache.EntityLocker.
type Locker struct {
	mu   sync.Mutex
	Held map[string]bool
	Err  error
}

func NewLocker() *Locker {
	return &Locker{Held: make(map[string]bool)}
}

func (m *Locker) Acquire(_ context.Context, key string, _ time.Duration) (cache.ReleaseFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Held[key] {
		return nil, cache.ErrLockHeld
	}
	m.Held[key] = true
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.Held, key)
		return nil
	}, nil
}

// Uploader records uploads in memory.
type Uploader struct {
	mu      sync.Mutex
	Objects map[string][]byte
	Err     error
}

func NewUploader() *Uploader {
	return &Uploader{Objects: make(map[string][]byte)}
}

func (m *Uploader) Upload(_ context.Context, name, _ string, body []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Objects[name] = append([]byte(nil), body...)
	return "mem://" + name, nil
}
