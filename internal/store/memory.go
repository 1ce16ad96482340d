package store

import (
	"context"
	"sync"
	"time"

	"codesync/pkg/interfaces"
)

// Memory implements interfaces.Store and interfaces.Bus in process memory.
// It backs single-process deployments and every test; the semantics match
// the Redis implementation including lazy TTL expiry and the empty-set ⇒
// absent-key equivalence.
type Memory struct {
	mu      sync.RWMutex
	values  map[string]memValue
	sets    map[string]map[string]struct{}
	lists   map[string]*memList
	hashes  map[string]map[string]string
	expiry  map[string]time.Time
	subs    map[string]map[*memSubscription]struct{}
	subsMu  sync.RWMutex
	nowFunc func() time.Time
}

type memValue struct {
	data string
}

type memList struct {
	items []string // newest first
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		values:  make(map[string]memValue),
		sets:    make(map[string]map[string]struct{}),
		lists:   make(map[string]*memList),
		hashes:  make(map[string]map[string]string),
		expiry:  make(map[string]time.Time),
		subs:    make(map[string]map[*memSubscription]struct{}),
		nowFunc: time.Now,
	}
}

// SetClock overrides the store's clock. Tests use this to drive TTL expiry
// without sleeping.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.nowFunc = now
	m.mu.Unlock()
}

// expired reports and reaps a dead key. Callers hold the write lock.
func (m *Memory) expired(key string) bool {
	deadline, ok := m.expiry[key]
	if !ok || m.nowFunc().Before(deadline) {
		return false
	}
	delete(m.values, key)
	delete(m.sets, key)
	delete(m.lists, key)
	delete(m.hashes, key)
	delete(m.expiry, key)
	return true
}

func (m *Memory) setTTL(key string, ttl time.Duration) {
	if ttl > 0 {
		m.expiry[key] = m.nowFunc().Add(ttl)
	} else {
		delete(m.expiry, key)
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return "", false, nil
	}
	v, ok := m.values[key]
	return v.data, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = memValue{data: value}
	m.setTTL(key, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.sets, key)
	delete(m.lists, key)
	delete(m.hashes, key)
	delete(m.expiry, key)
	return nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil
	}
	_, hasVal := m.values[key]
	_, hasSet := m.sets[key]
	_, hasList := m.lists[key]
	_, hasHash := m.hashes[key]
	if hasVal || hasSet || hasList || hasHash {
		m.setTTL(key, ttl)
	}
	return nil
}

func (m *Memory) SetAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired(key)
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

func (m *Memory) SetRemove(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil
	}
	set, ok := m.sets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(set, member)
	}
	if len(set) == 0 {
		delete(m.sets, key)
		delete(m.expiry, key)
	}
	return nil
}

func (m *Memory) SetMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil, nil
	}
	set := m.sets[key]
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	return members, nil
}

func (m *Memory) SetContains(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return false, nil
	}
	set, ok := m.sets[key]
	if !ok {
		return false, nil
	}
	_, present := set[member]
	return present, nil
}

func (m *Memory) ListPush(_ context.Context, key, value string, maxLen int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired(key)
	list, ok := m.lists[key]
	if !ok {
		list = &memList{}
		m.lists[key] = list
	}
	list.items = append([]string{value}, list.items...)
	if maxLen > 0 && int64(len(list.items)) > maxLen {
		list.items = list.items[:maxLen]
	}
	if ttl > 0 {
		m.setTTL(key, ttl)
	}
	return nil
}

func (m *Memory) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil, nil
	}
	list, ok := m.lists[key]
	if !ok {
		return nil, nil
	}
	n := int64(len(list.items))
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list.items[start:stop+1])
	return out, nil
}

func (m *Memory) ListSetIfEqual(_ context.Context, key string, index int64, expected, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return false, nil
	}
	list, ok := m.lists[key]
	if !ok || index < 0 || index >= int64(len(list.items)) {
		return false, nil
	}
	if list.items[index] != expected {
		return false, nil
	}
	list.items[index] = value
	return true, nil
}

func (m *Memory) HashSet(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired(key)
	hash, ok := m.hashes[key]
	if !ok {
		hash = make(map[string]string)
		m.hashes[key] = hash
	}
	hash[field] = value
	return nil
}

func (m *Memory) HashGet(_ context.Context, key, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return "", false, nil
	}
	hash, ok := m.hashes[key]
	if !ok {
		return "", false, nil
	}
	val, present := hash[field]
	return val, present, nil
}

func (m *Memory) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return map[string]string{}, nil
	}
	hash := m.hashes[key]
	out := make(map[string]string, len(hash))
	for field, val := range hash {
		out[field] = val
	}
	return out, nil
}

func (m *Memory) HashDelete(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil
	}
	hash, ok := m.hashes[key]
	if !ok {
		return nil
	}
	for _, field := range fields {
		delete(hash, field)
	}
	if len(hash) == 0 {
		delete(m.hashes, key)
	}
	return nil
}

type memSubscription struct {
	bus      *Memory
	channels []string
	out      chan interfaces.BusMessage
	once     sync.Once
}

func (s *memSubscription) Messages() <-chan interfaces.BusMessage {
	return s.out
}

func (s *memSubscription) Close() error {
	s.once.Do(func() {
		s.bus.subsMu.Lock()
		for _, ch := range s.channels {
			if set, ok := s.bus.subs[ch]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(s.bus.subs, ch)
				}
			}
		}
		s.bus.subsMu.Unlock()
		close(s.out)
	})
	return nil
}

func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()
	for sub := range m.subs[channel] {
		select {
		case sub.out <- interfaces.BusMessage{Channel: channel, Payload: payload}:
		default:
			// Best-effort, as with the Redis bus.
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, channels ...string) (interfaces.Subscription, error) {
	sub := &memSubscription{
		bus:      m,
		channels: channels,
		out:      make(chan interfaces.BusMessage, 256),
	}
	m.subsMu.Lock()
	for _, ch := range channels {
		set, ok := m.subs[ch]
		if !ok {
			set = make(map[*memSubscription]struct{})
			m.subs[ch] = set
		}
		set[sub] = struct{}{}
	}
	m.subsMu.Unlock()
	return sub, nil
}
