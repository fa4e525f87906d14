package catalog

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/google/uuid"
)

type projectState struct {
	entries map[string]*models.CodeEntry
	merges  map[string]*models.MergeOperation
	history []*models.HistoryEntry
	freeze  *models.FreezeRecord
}

func newProjectState() *projectState {
	return &projectState{
		entries: map[string]*models.CodeEntry{},
		merges:  map[string]*models.MergeOperation{},
	}
}

// clone copies the entries and merges a transaction may rewrite. History is
// append-only, so the slice is shared up to its current length.
func (p *projectState) clone() *projectState {
	c := &projectState{
		entries: make(map[string]*models.CodeEntry, len(p.entries)),
		merges:  make(map[string]*models.MergeOperation, len(p.merges)),
		history: p.history[:len(p.history):len(p.history)],
	}
	for k, v := range p.entries {
		c.entries[k] = v.Clone()
	}
	for k, v := range p.merges {
		op := *v
		c.merges[k] = &op
	}
	if p.freeze != nil {
		c.freeze = p.freeze.Clone()
	}
	return c
}

// MemoryStore keeps the catalog in process. Each project has its own writer
// semaphore; transactions work on a cloned project state swapped in on commit.
type MemoryStore struct {
	mu         sync.RWMutex
	projects   map[string]*projectState
	locksMu    sync.Mutex
	locks      map[string]chan struct{}
	stableSeq  atomic.Int64
	historySeq atomic.Int64
	txTimeout  time.Duration
}

type MemoryOption func(*MemoryStore)

// WithTxTimeout bounds lock wait plus transaction time.
func WithTxTimeout(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.txTimeout = d
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		projects:  map[string]*projectState{},
		locks:     map[string]chan struct{}{},
		txTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) projectLock(projectID string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[projectID]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[projectID] = l
	}
	return l
}

func (s *MemoryStore) WithProjectLock(ctx context.Context, projectID string, fn func(ctx context.Context, tx Tx) error) error {
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	lock := s.projectLock(projectID)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return errors.Transient(ctx.Err(), "timed out waiting for project %s lock", projectID)
	}
	defer func() { <-lock }()

	s.mu.RLock()
	state, ok := s.projects[projectID]
	if ok {
		state = state.clone()
	} else {
		state = newProjectState()
	}
	s.mu.RUnlock()

	tx := &memoryTx{store: s, projectID: projectID, state: state}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Transient(err, "transaction on project %s timed out and was rolled back", projectID)
	}

	s.mu.Lock()
	s.projects[projectID] = tx.state
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetEntry(_ context.Context, projectID string, stableID int64) (*models.CodeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEntry(s.projectOrEmpty(projectID), projectID, stableID)
}

func (s *MemoryStore) GetEntryByRowID(_ context.Context, projectID string, id string) (*models.CodeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEntryByRowID(s.projectOrEmpty(projectID), projectID, id)
}

func (s *MemoryStore) FindByNormalizedLabel(_ context.Context, projectID string, normalized string) ([]*models.CodeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByNormalizedLabel(s.projectOrEmpty(projectID), normalized), nil
}

func (s *MemoryStore) ListEntries(_ context.Context, projectID string, filter models.EntryFilter) ([]*models.CodeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEntries(s.projectOrEmpty(projectID), filter), nil
}

func (s *MemoryStore) GetFreeze(_ context.Context, projectID string) (*models.FreezeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getFreeze(s.projectOrEmpty(projectID)), nil
}

func (s *MemoryStore) GetMergeOperation(_ context.Context, projectID string, key string) (*models.MergeOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getMergeOperation(s.projectOrEmpty(projectID), key), nil
}

func (s *MemoryStore) ListHistory(_ context.Context, projectID string, stableID *int64) ([]*models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listHistory(s.projectOrEmpty(projectID), stableID), nil
}

func (s *MemoryStore) ListProjects(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.projects))
	for id, p := range s.projects {
		if len(p.entries) > 0 || p.freeze != nil {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// projectOrEmpty must be called with s.mu held.
func (s *MemoryStore) projectOrEmpty(projectID string) *projectState {
	if p, ok := s.projects[projectID]; ok {
		return p
	}
	return newProjectState()
}

type memoryTx struct {
	store     *MemoryStore
	projectID string
	state     *projectState
}

func (tx *memoryTx) scoped(projectID string) error {
	if projectID != tx.projectID {
		return errors.Conflict("project_scope", "transaction on project %s cannot touch project %s", tx.projectID, projectID)
	}
	return nil
}

func (tx *memoryTx) GetEntry(_ context.Context, projectID string, stableID int64) (*models.CodeEntry, error) {
	if err := tx.scoped(projectID); err != nil {
		return nil, err
	}
	return getEntry(tx.state, projectID, stableID)
}

func (tx *memoryTx) GetEntryByRowID(_ context.Context, projectID string, id string) (*models.CodeEntry, error) {
	if err := tx.scoped(projectID); err != nil {
		return nil, err
	}
	return getEntryByRowID(tx.state, projectID, id)
}

func (tx *memoryTx) FindByNormalizedLabel(_ context.Context, projectID string, normalized string) ([]*models.CodeEntry, error) {
	if err := tx.scoped(projectID); err != nil {
		return nil, err
	}
	return findByNormalizedLabel(tx.state, normalized), nil
}

func (tx *memoryTx) ListEntries(_ context.Context, projectID string, filter models.EntryFilter) ([]*models.CodeEntry, error) {
	if err := tx.scoped(projectID); err != nil {
		return nil, err
	}
	return listEntries(tx.state, filter), nil
}

func (tx *memoryTx) GetFreeze(_ context.Context, projectID string) (*models.FreezeRecord, error) {
	if err := tx.scoped(projectID); err != nil {
		return nil, err
	}
	return getFreeze(tx.state), nil
}

func (tx *memoryTx) GetMergeOperation(_ context.Context, projectID string, key string) (*models.MergeOperation, error) {
	if err := tx.scoped(projectID); err != nil {
		return nil, err
	}
	return getMergeOperation(tx.state, key), nil
}

func (tx *memoryTx) ListHistory(_ context.Context, projectID string, stableID *int64) ([]*models.HistoryEntry, error) {
	if err := tx.scoped(projectID); err != nil {
		return nil, err
	}
	return listHistory(tx.state, stableID), nil
}

func (tx *memoryTx) ListProjects(ctx context.Context) ([]string, error) {
	return tx.store.ListProjects(ctx)
}

// advanceStableSeq keeps the sequence ahead of explicitly inserted ids.
func (s *MemoryStore) advanceStableSeq(id int64) {
	for {
		cur := s.stableSeq.Load()
		if id <= cur || s.stableSeq.CompareAndSwap(cur, id) {
			return
		}
	}
}

func (tx *memoryTx) NextStableID(context.Context) (int64, error) {
	return tx.store.stableSeq.Add(1), nil
}

func (tx *memoryTx) InsertEntry(_ context.Context, entry *models.CodeEntry) error {
	if err := tx.scoped(entry.ProjectID); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if _, exists := tx.state.entries[entry.ID]; exists {
		return errors.Conflict("entry_id_unique", "code entry %s already exists", entry.ID)
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	entry.Version = 1
	if err := tx.checkConstraints(entry); err != nil {
		return err
	}
	if entry.StableID != nil {
		tx.store.advanceStableSeq(*entry.StableID)
	}
	tx.state.entries[entry.ID] = entry.Clone()
	return nil
}

func (tx *memoryTx) UpdateEntry(_ context.Context, entry *models.CodeEntry) error {
	if err := tx.scoped(entry.ProjectID); err != nil {
		return err
	}
	current, ok := tx.state.entries[entry.ID]
	if !ok {
		return errors.NotFound("code entry %s not found", entry.ID)
	}
	if current.StableID != nil && (entry.StableID == nil || *entry.StableID != *current.StableID) {
		return errors.Conflict(InvariantStableIDImmutable, "stable id %d of entry %s cannot change", *current.StableID, entry.ID)
	}
	if current.Version != entry.Version {
		e := errors.Conflict(InvariantOptimisticLock, "code entry %s was modified concurrently", entry.ID)
		e.Retryable = true
		return e
	}
	if err := tx.checkConstraints(entry); err != nil {
		return err
	}
	entry.Version++
	entry.UpdatedAt = time.Now().UTC()
	tx.state.entries[entry.ID] = entry.Clone()
	return nil
}

// checkConstraints mirrors the table constraints of code_entries.
func (tx *memoryTx) checkConstraints(entry *models.CodeEntry) error {
	if entry.Status.Absorbed() && entry.CanonicalIDPointer == nil {
		return errors.Conflict(InvariantMergedRequiresPtr, "%s code %q must point at a canonical code", entry.Status, entry.Label)
	}
	if entry.CanonicalIDPointer != nil {
		if _, err := getEntry(tx.state, tx.projectID, *entry.CanonicalIDPointer); err != nil {
			return errors.Conflict(InvariantPointerTarget, "canonical id %d does not exist in project %s", *entry.CanonicalIDPointer, tx.projectID)
		}
	}
	for id, other := range tx.state.entries {
		if id == entry.ID {
			continue
		}
		if entry.StableID != nil && other.StableID != nil && *other.StableID == *entry.StableID {
			return errors.Conflict(InvariantStableIDUnique, "stable id %d is already assigned", *entry.StableID)
		}
		if entry.Status == models.CodeStatusValidated && entry.CanonicalIDPointer == nil &&
			other.Status == models.CodeStatusValidated && other.CanonicalIDPointer == nil &&
			other.NormalizedLabel == entry.NormalizedLabel {
			e := errors.Conflict(InvariantCanonicalUniqueness, "label %q already has a validated canonical code", entry.NormalizedLabel)
			if other.StableID != nil {
				e.StableIDs = []int64{*other.StableID}
			}
			return e
		}
	}
	return nil
}

func (tx *memoryTx) InsertMergeOperation(_ context.Context, op *models.MergeOperation) error {
	if err := tx.scoped(op.ProjectID); err != nil {
		return err
	}
	if _, exists := tx.state.merges[op.IdempotencyKey]; exists {
		return errors.Conflict(InvariantIdempotencyKeyUnique, "merge with idempotency key %q already recorded", op.IdempotencyKey)
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	stored := *op
	stored.SourceIDs = append([]int64(nil), op.SourceIDs...)
	tx.state.merges[op.IdempotencyKey] = &stored
	return nil
}

func (tx *memoryTx) UpsertFreeze(_ context.Context, record *models.FreezeRecord) error {
	if err := tx.scoped(record.ProjectID); err != nil {
		return err
	}
	record.UpdatedAt = time.Now().UTC()
	tx.state.freeze = record.Clone()
	return nil
}

func (tx *memoryTx) AppendHistory(_ context.Context, entry *models.HistoryEntry) error {
	if err := tx.scoped(entry.ProjectID); err != nil {
		return err
	}
	if entry.ID != 0 {
		return errors.Conflict(InvariantHistoryAppendOnly, "history entry %d is already recorded", entry.ID)
	}
	entry.ID = tx.store.historySeq.Add(1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	stored := *entry
	stored.SubjectIDs = append([]int64(nil), entry.SubjectIDs...)
	tx.state.history = append(tx.state.history, &stored)
	return nil
}

func getEntry(p *projectState, projectID string, stableID int64) (*models.CodeEntry, error) {
	for _, e := range p.entries {
		if e.StableID != nil && *e.StableID == stableID {
			return e.Clone(), nil
		}
	}
	return nil, errors.NotFound("code %d not found in project %s", stableID, projectID)
}

func getEntryByRowID(p *projectState, projectID string, id string) (*models.CodeEntry, error) {
	e, ok := p.entries[id]
	if !ok {
		return nil, errors.NotFound("code entry %s not found in project %s", id, projectID)
	}
	return e.Clone(), nil
}

func findByNormalizedLabel(p *projectState, normalized string) []*models.CodeEntry {
	var out []*models.CodeEntry
	for _, e := range p.entries {
		if e.NormalizedLabel == normalized {
			out = append(out, e.Clone())
		}
	}
	SortEntries(out)
	return out
}

func listEntries(p *projectState, filter models.EntryFilter) []*models.CodeEntry {
	out := make([]*models.CodeEntry, 0, len(p.entries))
	for _, e := range p.entries {
		if Matches(e, filter) {
			out = append(out, e.Clone())
		}
	}
	SortEntries(out)
	return Page(out, filter)
}

func getFreeze(p *projectState) *models.FreezeRecord {
	if p.freeze == nil {
		return nil
	}
	return p.freeze.Clone()
}

func getMergeOperation(p *projectState, key string) *models.MergeOperation {
	op, ok := p.merges[key]
	if !ok {
		return nil
	}
	c := *op
	c.SourceIDs = append([]int64(nil), op.SourceIDs...)
	return &c
}

func listHistory(p *projectState, stableID *int64) []*models.HistoryEntry {
	out := make([]*models.HistoryEntry, 0, len(p.history))
	for _, h := range p.history {
		if stableID != nil && !h.Concerns(*stableID) {
			continue
		}
		c := *h
		c.SubjectIDs = append([]int64(nil), h.SubjectIDs...)
		out = append(out, &c)
	}
	return out
}
