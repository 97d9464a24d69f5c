// Package contextmgr owns the in-memory authoritative view of user, session
// and device records, write-through to the persistence port.
package contextmgr

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"servis/internal/domain"
	"servis/internal/errors"
	"servis/internal/logging"
	"servis/internal/observability"
	"servis/internal/persistence"
)

const readCacheSize = 512

// Config tunes session lifetime and history bounds.
type Config struct {
	SessionTTL      time.Duration
	HistoryLimit    int
	CleanupSlice    time.Duration
	CleanupInterval time.Duration
}

// Manager is the context subsystem. Per-entity locks are held only for the
// duration of a single operation; session reads hand out clones.
type Manager struct {
	port    persistence.Port
	config  Config
	retry   errors.RetryConfig
	logger  *logging.Logger
	metrics *observability.MetricsCollector

	userMu sync.Mutex
	users  *lru.Cache[string, *domain.UserRecord]

	sessionMu sync.Mutex
	sessions  map[string]*domain.SessionRecord

	deviceMu sync.Mutex
	devices  *lru.Cache[string, *domain.DeviceRecord]
}

// NewManager creates the context manager.
func NewManager(port persistence.Port, config Config, logger *logging.Logger, metrics *observability.MetricsCollector) (*Manager, error) {
	if config.SessionTTL <= 0 {
		config.SessionTTL = 30 * time.Minute
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 50
	}
	if config.CleanupSlice <= 0 {
		config.CleanupSlice = 10 * time.Millisecond
	}

	users, err := lru.New[string, *domain.UserRecord](readCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create user cache: %w", err)
	}
	devices, err := lru.New[string, *domain.DeviceRecord](readCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create device cache: %w", err)
	}

	return &Manager{
		port:     port,
		config:   config,
		retry:    errors.DefaultRetryConfig(),
		logger:   logging.OrNop(logger),
		metrics:  metrics,
		users:    users,
		sessions: make(map[string]*domain.SessionRecord),
		devices:  devices,
	}, nil
}

// persist saves a record with bounded retry on transient failures.
// Permanent failures surface immediately.
func (m *Manager) persist(ctx context.Context, kind persistence.Kind, id string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.NewPermanent(err, fmt.Sprintf("encode %s/%s", kind, id))
	}
	return errors.Retry(ctx, m.retry, func(ctx context.Context) error {
		return m.port.Save(ctx, kind, id, data)
	})
}

// CreateUser stores a new user record. Returns errors.ErrAlreadyExists when
// the id is taken.
func (m *Manager) CreateUser(ctx context.Context, record *domain.UserRecord) error {
	if record == nil || record.ID == "" {
		return errors.NewPermanent(fmt.Errorf("user record requires an id"), "")
	}
	m.userMu.Lock()
	defer m.userMu.Unlock()

	if _, ok := m.users.Get(record.ID); ok {
		return fmt.Errorf("user %s: %w", record.ID, errors.ErrAlreadyExists)
	}
	if _, err := m.port.Load(ctx, persistence.KindUser, record.ID); err == nil {
		return fmt.Errorf("user %s: %w", record.ID, errors.ErrAlreadyExists)
	} else if !stderrors.Is(err, errors.ErrNotFound) {
		return fmt.Errorf("check user %s: %w", record.ID, err)
	}

	if record.LastActivity.IsZero() {
		record.LastActivity = time.Now()
	}
	if err := m.persist(ctx, persistence.KindUser, record.ID, record); err != nil {
		return err
	}
	m.users.Add(record.ID, record)
	return nil
}

// UpdateUser replaces the full user record. Callers read-modify-write.
func (m *Manager) UpdateUser(ctx context.Context, record *domain.UserRecord) error {
	if record == nil || record.ID == "" {
		return errors.NewPermanent(fmt.Errorf("user record requires an id"), "")
	}
	m.userMu.Lock()
	defer m.userMu.Unlock()

	if _, ok := m.users.Get(record.ID); !ok {
		if _, err := m.port.Load(ctx, persistence.KindUser, record.ID); err != nil {
			if stderrors.Is(err, errors.ErrNotFound) {
				return fmt.Errorf("user %s: %w", record.ID, errors.ErrNotFound)
			}
			return fmt.Errorf("check user %s: %w", record.ID, err)
		}
	}

	record.LastActivity = time.Now()
	if err := m.persist(ctx, persistence.KindUser, record.ID, record); err != nil {
		return err
	}
	m.users.Add(record.ID, record)
	return nil
}

// GetUserContext returns the user record, loading it on a cache miss.
// The cache is never populated from a failed load.
func (m *Manager) GetUserContext(ctx context.Context, id string) (*domain.UserRecord, error) {
	m.userMu.Lock()
	defer m.userMu.Unlock()

	if record, ok := m.users.Get(id); ok {
		return record, nil
	}
	data, err := m.port.Load(ctx, persistence.KindUser, id)
	if err != nil {
		return nil, err
	}
	var record domain.UserRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.NewPermanent(err, fmt.Sprintf("decode user %s", id))
	}
	m.users.Add(id, &record)
	return &record, nil
}

// DeleteUser removes the user. The second delete of the same id reports
// errors.ErrNotFound, not a failure.
func (m *Manager) DeleteUser(ctx context.Context, id string) error {
	m.userMu.Lock()
	defer m.userMu.Unlock()

	_, cached := m.users.Get(id)
	if !cached {
		if _, err := m.port.Load(ctx, persistence.KindUser, id); err != nil {
			if stderrors.Is(err, errors.ErrNotFound) {
				return fmt.Errorf("user %s: %w", id, errors.ErrNotFound)
			}
			return fmt.Errorf("check user %s: %w", id, err)
		}
	}
	if err := errors.Retry(ctx, m.retry, func(ctx context.Context) error {
		return m.port.Delete(ctx, persistence.KindUser, id)
	}); err != nil {
		return err
	}
	m.users.Remove(id)
	return nil
}

// RegisterDevice stores or replaces a device record.
func (m *Manager) RegisterDevice(ctx context.Context, record *domain.DeviceRecord) error {
	if record == nil || record.ID == "" {
		return errors.NewPermanent(fmt.Errorf("device record requires an id"), "")
	}
	m.deviceMu.Lock()
	defer m.deviceMu.Unlock()

	record.UpdatedAt = time.Now()
	if err := m.persist(ctx, persistence.KindDevice, record.ID, record); err != nil {
		return err
	}
	m.devices.Add(record.ID, record)
	return nil
}

// GetDeviceContext returns the device record.
func (m *Manager) GetDeviceContext(ctx context.Context, id string) (*domain.DeviceRecord, error) {
	m.deviceMu.Lock()
	defer m.deviceMu.Unlock()

	if record, ok := m.devices.Get(id); ok {
		return record, nil
	}
	data, err := m.port.Load(ctx, persistence.KindDevice, id)
	if err != nil {
		return nil, err
	}
	var record domain.DeviceRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.NewPermanent(err, fmt.Sprintf("decode device %s", id))
	}
	m.devices.Add(id, &record)
	return &record, nil
}

// DeleteDevice removes the device record.
func (m *Manager) DeleteDevice(ctx context.Context, id string) error {
	m.deviceMu.Lock()
	defer m.deviceMu.Unlock()

	_, cached := m.devices.Get(id)
	if !cached {
		if _, err := m.port.Load(ctx, persistence.KindDevice, id); err != nil {
			if stderrors.Is(err, errors.ErrNotFound) {
				return fmt.Errorf("device %s: %w", id, errors.ErrNotFound)
			}
			return fmt.Errorf("check device %s: %w", id, err)
		}
	}
	if err := errors.Retry(ctx, m.retry, func(ctx context.Context) error {
		return m.port.Delete(ctx, persistence.KindDevice, id)
	}); err != nil {
		return err
	}
	m.devices.Remove(id)
	return nil
}
