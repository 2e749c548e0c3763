package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"vibin_video/models"

	"github.com/google/uuid"
)

var _ Store = (*MemoryStore)(nil)

// fullPruneEvery is how many appends pass between prunes of every inbox. Appends always prune
// their own inbox.
const fullPruneEvery = 256

// MemoryStore is an in-process Store. Every operation holds a single lock, which gives each
// call the effect of a serializable transaction.
type MemoryStore struct {
	mu sync.Mutex

	pools     map[string]models.Pool
	poolKeys  map[string]string
	queue     map[string]models.QueueEntry
	sessions  map[string]models.Session
	active    map[string]string
	signals   map[string][]models.Signal
	retention time.Duration
	// appended counts signal appends since the last full prune
	appended int
}

// NewMemoryStore creates an empty store. Signals older than retention are pruned on append.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = models.DefaultSignalRetention
	}
	return &MemoryStore{
		pools:     make(map[string]models.Pool),
		poolKeys:  make(map[string]string),
		queue:     make(map[string]models.QueueEntry),
		sessions:  make(map[string]models.Session),
		active:    make(map[string]string),
		signals:   make(map[string][]models.Signal),
		retention: retention,
	}
}

func (m *MemoryStore) EnsurePool(_ context.Context, pool models.Pool) (models.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.poolKeys[pool.Key]; ok {
		existing := m.pools[id]
		existing.Active = true
		existing.UpdatedAt = pool.UpdatedAt
		m.pools[id] = existing
		return existing, nil
	}
	m.poolKeys[pool.Key] = pool.ID
	m.pools[pool.ID] = pool
	return pool, nil
}

func (m *MemoryStore) CreatePool(_ context.Context, pool models.Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.poolKeys[pool.Key]; ok {
		return models.ErrKeyTaken
	}
	m.poolKeys[pool.Key] = pool.ID
	m.pools[pool.ID] = pool
	return nil
}

func (m *MemoryStore) GetPool(_ context.Context, poolID string) (models.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[poolID]
	if !ok {
		return models.Pool{}, models.ErrPoolNotFound
	}
	return pool, nil
}

func (m *MemoryStore) SavePool(_ context.Context, pool models.Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pools[pool.ID]; !ok {
		return models.ErrPoolNotFound
	}
	m.pools[pool.ID] = pool
	return nil
}

func (m *MemoryStore) ListActivePools(_ context.Context) ([]models.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pools := make([]models.Pool, 0, len(m.pools))
	for _, pool := range m.pools {
		if pool.Active {
			pools = append(pools, pool)
		}
	}
	return pools, nil
}

func (m *MemoryStore) CountWaiting(_ context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int)
	for _, entry := range m.queue {
		counts[entry.PoolID]++
	}
	return counts, nil
}

func (m *MemoryStore) CountActiveSessions(_ context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int)
	for _, session := range m.sessions {
		if session.IsActive() {
			counts[session.PoolID]++
		}
	}
	return counts, nil
}

func (m *MemoryStore) SweepStale(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for participantID, entry := range m.queue {
		if entry.HeartbeatAt.Before(cutoff) {
			delete(m.queue, participantID)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) UpsertWaiting(_ context.Context, participantID, poolID string, now time.Time) (models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.active[participantID]; busy {
		return models.QueueEntry{}, ErrParticipantBusy
	}
	entry, ok := m.queue[participantID]
	if ok && entry.PoolID == poolID {
		entry.HeartbeatAt = now
	} else {
		entry = models.QueueEntry{
			EntryID:       uuid.NewString(),
			ParticipantID: participantID,
			PoolID:        poolID,
			EnqueuedAt:    now,
			HeartbeatAt:   now,
		}
	}
	m.queue[participantID] = entry
	return entry, nil
}

func (m *MemoryStore) GetWaiting(_ context.Context, participantID string) (*models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.queue[participantID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *MemoryStore) RemoveWaiting(_ context.Context, participantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.queue, participantID)
	return nil
}

func (m *MemoryStore) RemoveWaitingEntry(_ context.Context, entry models.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.queue[entry.ParticipantID]
	if ok && current.EntryID == entry.EntryID && current.PoolID == entry.PoolID {
		delete(m.queue, entry.ParticipantID)
	}
	return nil
}

func (m *MemoryStore) OldestOther(_ context.Context, poolID, excludeParticipantID string) (*models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *models.QueueEntry
	for _, entry := range m.queue {
		if entry.PoolID != poolID || entry.ParticipantID == excludeParticipantID {
			continue
		}
		if oldest == nil || queuedBefore(entry, *oldest) {
			candidate := entry
			oldest = &candidate
		}
	}
	return oldest, nil
}

func queuedBefore(a, b models.QueueEntry) bool {
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.EntryID < b.EntryID
}

func (m *MemoryStore) ActiveSessionFor(_ context.Context, participantID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessionID, ok := m.active[participantID]
	if !ok {
		return nil, nil
	}
	session := m.sessions[sessionID]
	return &session, nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return models.Session{}, models.ErrSessionNotActive
	}
	return session, nil
}

func (m *MemoryStore) ClaimAndCreateSession(_ context.Context, claim Claim) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.queue[claim.Candidate.ParticipantID]
	if !ok || current.EntryID != claim.Candidate.EntryID || current.PoolID != claim.Candidate.PoolID {
		return models.Session{}, models.ErrClaimConflict
	}
	session := claim.Session
	if _, taken := m.active[session.ParticipantA]; taken {
		return models.Session{}, models.ErrClaimConflict
	}
	if _, taken := m.active[session.ParticipantB]; taken {
		return models.Session{}, models.ErrClaimConflict
	}
	if _, exists := m.sessions[session.ID]; exists {
		return models.Session{}, models.ErrClaimConflict
	}

	delete(m.queue, claim.Candidate.ParticipantID)
	delete(m.queue, claim.CallerID)
	m.sessions[session.ID] = session
	m.active[session.ParticipantA] = session.ID
	m.active[session.ParticipantB] = session.ID
	return session, nil
}

func (m *MemoryStore) EndSession(_ context.Context, end SessionEnd) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[end.Session.ID]
	if !ok || !session.IsActive() {
		return models.Session{}, models.ErrAlreadyEnded
	}
	if session.SignalSeq != end.Session.SignalSeq {
		return models.Session{}, ErrSequenceConflict
	}

	endedAt := end.At
	session.Status = models.SessionStatusEnded
	session.EndedAt = &endedAt
	session.EndedReason = end.Reason
	session.UpdatedAt = end.At
	session.SignalSeq++
	m.sessions[session.ID] = session

	for _, participantID := range []string{session.ParticipantA, session.ParticipantB} {
		if m.active[participantID] == session.ID {
			delete(m.active, participantID)
		}
	}

	signal := end.PeerLeft
	signal.ID = session.SignalSeq
	m.appendLocked(signal)
	return session, nil
}

func (m *MemoryStore) AppendSignal(_ context.Context, expected models.Session, signal models.Signal) (models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[expected.ID]
	if !ok || !session.IsActive() {
		return models.Signal{}, models.ErrSessionNotActive
	}
	if session.SignalSeq != expected.SignalSeq {
		return models.Signal{}, ErrSequenceConflict
	}

	session.SignalSeq++
	session.UpdatedAt = signal.CreatedAt
	m.sessions[session.ID] = session

	signal.ID = session.SignalSeq
	return m.appendLocked(signal), nil
}

// appendLocked stores signal and returns it as stored.
func (m *MemoryStore) appendLocked(signal models.Signal) models.Signal {
	if signal.ExpiresAt.IsZero() {
		signal.ExpiresAt = signal.CreatedAt.Add(m.retention)
	}
	inbox := inboxKey(signal.SessionID, signal.To)
	m.signals[inbox] = append(m.signals[inbox], signal)
	m.pruneInboxLocked(inbox, signal.CreatedAt)

	m.appended++
	if m.appended >= fullPruneEvery {
		m.appended = 0
		for other := range m.signals {
			m.pruneInboxLocked(other, signal.CreatedAt)
		}
	}
	return signal
}

func (m *MemoryStore) pruneInboxLocked(inbox string, now time.Time) {
	signals := m.signals[inbox]
	keep := signals[:0]
	for _, signal := range signals {
		if signal.ExpiresAt.After(now) {
			keep = append(keep, signal)
		}
	}
	if len(keep) == 0 {
		delete(m.signals, inbox)
		return
	}
	m.signals[inbox] = keep
}

func (m *MemoryStore) ListSignals(_ context.Context, sessionID, toParticipantID string, afterID int64, now time.Time, limit int) ([]models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inbox := m.signals[inboxKey(sessionID, toParticipantID)]
	start := sort.Search(len(inbox), func(i int) bool { return inbox[i].ID > afterID })

	result := make([]models.Signal, 0)
	for _, signal := range inbox[start:] {
		if len(result) >= limit {
			break
		}
		if !signal.ExpiresAt.After(now) {
			continue
		}
		result = append(result, signal)
	}
	return result, nil
}

func inboxKey(sessionID, participantID string) string {
	return sessionID + "#" + participantID
}
