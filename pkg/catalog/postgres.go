package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/codeentry"
	"github.com/Ramsey-B/fern/internal/repositories/freeze"
	"github.com/Ramsey-B/fern/internal/repositories/history"
	"github.com/Ramsey-B/fern/internal/repositories/mergeoperation"
	"github.com/Ramsey-B/fern/internal/repositories/pgerror"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type PostgresConfig struct {
	// TxTimeout bounds the whole transaction including the lock wait.
	TxTimeout   time.Duration
	LockTimeout time.Duration
}

// PostgresStore serializes writers with a transaction-scoped advisory lock keyed by project.
type PostgresStore struct {
	db        database.DB
	logger    ectologger.Logger
	config    PostgresConfig
	entries   *codeentry.Repository
	merges    *mergeoperation.Repository
	history   *history.Repository
	freezes   *freeze.Repository
	txOptions *sql.TxOptions
}

func NewPostgresStore(db database.DB, logger ectologger.Logger, config PostgresConfig) *PostgresStore {
	return &PostgresStore{
		db:        db,
		logger:    logger,
		config:    config,
		entries:   codeentry.NewRepository(db, logger),
		merges:    mergeoperation.NewRepository(db, logger),
		history:   history.NewRepository(db, logger),
		freezes:   freeze.NewRepository(db, logger),
		txOptions: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) WithProjectLock(ctx context.Context, projectID string, fn func(ctx context.Context, tx Tx) error) error {
	ctx, span := tracing.StartSpan(ctx, "catalog.PostgresStore.WithProjectLock")
	defer span.End()
	tracing.SetProject(span, projectID)

	if s.config.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.TxTimeout)
		defer cancel()
	}

	ctxTx, tx, err := s.db.GetTx(ctx, s.txOptions)
	if err != nil {
		return pgerror.Classify(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctxTx)

	if err := database.SetLocalTimeouts(ctxTx, tx, s.config.TxTimeout, s.config.LockTimeout); err != nil {
		return pgerror.Classify(err, "failed to set transaction timeouts")
	}

	start := time.Now()
	if err := database.AdvisoryXactLock(ctxTx, tx, "fern:project:"+projectID); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Warn("Failed to acquire project lock")
		return pgerror.Classify(err, "failed to acquire project lock")
	}
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": projectID,
		"lock_wait":  time.Since(start),
	}).Debug("Acquired project lock")

	if err := fn(ctxTx, &postgresTx{PostgresStore: s}); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	if err := tx.Commit(ctxTx); err != nil {
		tracing.RecordError(span, err)
		return pgerror.Classify(err, "failed to commit transaction")
	}
	return nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, projectID string, stableID int64) (*models.CodeEntry, error) {
	return s.entries.GetByStableID(ctx, projectID, stableID)
}

func (s *PostgresStore) GetEntryByRowID(ctx context.Context, projectID string, id string) (*models.CodeEntry, error) {
	return s.entries.GetByID(ctx, projectID, id)
}

func (s *PostgresStore) FindByNormalizedLabel(ctx context.Context, projectID string, normalized string) ([]*models.CodeEntry, error) {
	return s.entries.FindByNormalizedLabel(ctx, projectID, normalized)
}

func (s *PostgresStore) ListEntries(ctx context.Context, projectID string, filter models.EntryFilter) ([]*models.CodeEntry, error) {
	return s.entries.List(ctx, projectID, filter)
}

func (s *PostgresStore) GetFreeze(ctx context.Context, projectID string) (*models.FreezeRecord, error) {
	return s.freezes.Get(ctx, projectID)
}

func (s *PostgresStore) GetMergeOperation(ctx context.Context, projectID string, key string) (*models.MergeOperation, error) {
	return s.merges.GetByKey(ctx, projectID, key)
}

func (s *PostgresStore) ListHistory(ctx context.Context, projectID string, stableID *int64) ([]*models.HistoryEntry, error) {
	return s.history.List(ctx, projectID, stableID)
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]string, error) {
	return s.entries.ListProjects(ctx)
}

// postgresTx runs through the same repositories; they pick the open
// transaction out of the context they are given.
type postgresTx struct {
	*PostgresStore
}

func (tx *postgresTx) InsertEntry(ctx context.Context, entry *models.CodeEntry) error {
	return tx.entries.Insert(ctx, entry)
}

func (tx *postgresTx) UpdateEntry(ctx context.Context, entry *models.CodeEntry) error {
	return tx.entries.Update(ctx, entry)
}

func (tx *postgresTx) NextStableID(ctx context.Context) (int64, error) {
	return tx.entries.NextStableID(ctx)
}

func (tx *postgresTx) InsertMergeOperation(ctx context.Context, op *models.MergeOperation) error {
	return tx.merges.Insert(ctx, op)
}

func (tx *postgresTx) UpsertFreeze(ctx context.Context, record *models.FreezeRecord) error {
	return tx.freezes.Upsert(ctx, record)
}

func (tx *postgresTx) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	if entry.ID != 0 {
		return errors.Conflict(InvariantHistoryAppendOnly, "history entry %d is already recorded", entry.ID)
	}
	return tx.history.Append(ctx, entry)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*postgresTx)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*memoryTx)(nil)
)
