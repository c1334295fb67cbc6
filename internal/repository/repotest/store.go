// Package repotest provides in-memory implementations of the repository
// contracts for package tests. Specifications are interpreted by type.
package repotest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/repository/contract"
	"knowledge-agent-be/internal/repository/specification"
	"knowledge-agent-be/internal/repository/unitofwork"

	"github.com/google/uuid"
)

// Store is the shared backing state of every fake repository.
type Store struct {
	mu sync.Mutex

	Files       map[uuid.UUID]*entity.WorkspaceFile
	Chunks      []*entity.DocumentChunk
	Embeddings  map[uuid.UUID][]float32
	Sessions    map[uuid.UUID]*entity.ChatSession
	Messages    []*entity.ChatMessage
	Compactions []*entity.ConversationCompaction
	TaskStates  map[uuid.UUID]*entity.SessionTaskState
	Proposals   []*entity.EditProposal

	// SearchErr makes SearchNearest fail, forcing lexical fallback paths.
	SearchErr error
	// Distances overrides the distance reported per chunk id.
	Distances map[uuid.UUID]float64
	// DuplicateOnce makes the next compaction insert fail with ErrDuplicate.
	DuplicateOnce bool
	// ProposalErr makes edit proposal inserts fail.
	ProposalErr error
	// AbortOnError mimics Postgres: after a failed statement inside a
	// transaction every further statement fails with ErrTxAborted until the
	// enclosing savepoint or transaction is rolled back.
	AbortOnError bool

	Commits   int
	Rollbacks int
}

func NewStore() *Store {
	return &Store{
		Files:      map[uuid.UUID]*entity.WorkspaceFile{},
		Embeddings: map[uuid.UUID][]float32{},
		Sessions:   map[uuid.UUID]*entity.ChatSession{},
		TaskStates: map[uuid.UUID]*entity.SessionTaskState{},
		Distances:  map[uuid.UUID]float64{},
	}
}

func (s *Store) AddFile(f *entity.WorkspaceFile) *entity.WorkspaceFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Id == uuid.Nil {
		f.Id = uuid.New()
	}
	s.Files[f.Id] = f
	return f
}

func (s *Store) AddChunk(c *entity.DocumentChunk) *entity.DocumentChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Id == uuid.Nil {
		c.Id = uuid.New()
	}
	s.Chunks = append(s.Chunks, c)
	return c
}

func (s *Store) AddSession(sess *entity.ChatSession) *entity.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.Id == uuid.Nil {
		sess.Id = uuid.New()
	}
	if sess.Permissions == nil {
		sess.Permissions = map[string]string{}
	}
	s.Sessions[sess.Id] = sess
	return sess
}

// Factory returns a RepositoryFactory whose units all share this store.
func (s *Store) Factory() unitofwork.RepositoryFactory {
	return &factory{store: s}
}

func (s *Store) UnitOfWork() unitofwork.UnitOfWork {
	return &unitOfWork{store: s, tx: &txState{}}
}

type factory struct {
	store *Store
}

func (f *factory) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork {
	return f.store.UnitOfWork()
}

func (f *factory) Transaction(ctx context.Context, fn func(uow unitofwork.UnitOfWork) error) error {
	return unitofwork.RunTransaction(ctx, f.store.UnitOfWork(), fn)
}

// ErrTxAborted is what Postgres reports as SQLSTATE 25P02.
var ErrTxAborted = errors.New("current transaction is aborted, commands ignored until end of transaction block")

type txState struct {
	mu      sync.Mutex
	open    bool
	aborted bool
}

func (t *txState) isAborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted
}

// base is embedded by every fake repository.
type base struct {
	store *Store
	tx    *txState
}

func (b base) enter() error {
	if b.tx.isAborted() {
		return ErrTxAborted
	}
	return nil
}

func (b base) fail(err error) error {
	if b.store.AbortOnError {
		b.tx.mu.Lock()
		if b.tx.open {
			b.tx.aborted = true
		}
		b.tx.mu.Unlock()
	}
	return err
}

// unitOfWork applies writes immediately; Commit and Rollback only count calls
// and clear the aborted flag.
type unitOfWork struct {
	store *Store
	tx    *txState
}

func (u *unitOfWork) Begin(ctx context.Context) error {
	u.tx.mu.Lock()
	u.tx.open = true
	u.tx.mu.Unlock()
	return nil
}

func (u *unitOfWork) Commit() error {
	u.store.mu.Lock()
	u.store.Commits++
	u.store.mu.Unlock()

	u.tx.mu.Lock()
	defer u.tx.mu.Unlock()
	aborted := u.tx.aborted
	u.tx.open, u.tx.aborted = false, false
	if aborted {
		return ErrTxAborted
	}
	return nil
}

func (u *unitOfWork) Rollback() error {
	u.store.mu.Lock()
	u.store.Rollbacks++
	u.store.mu.Unlock()

	u.tx.mu.Lock()
	u.tx.open, u.tx.aborted = false, false
	u.tx.mu.Unlock()
	return nil
}

func (u *unitOfWork) Savepoint(ctx context.Context, fn func(uow unitofwork.UnitOfWork) error) error {
	u.tx.mu.Lock()
	open, aborted := u.tx.open, u.tx.aborted
	u.tx.mu.Unlock()
	if !open {
		return fn(u)
	}
	if aborted {
		return ErrTxAborted
	}

	inner := &txState{open: true}
	err := fn(&unitOfWork{store: u.store, tx: inner})
	if err == nil && inner.isAborted() {
		// RELEASE SAVEPOINT leaves the outer transaction aborted too
		u.tx.mu.Lock()
		u.tx.aborted = true
		u.tx.mu.Unlock()
	}
	return err
}

func (u *unitOfWork) WorkspaceFileRepository() contract.WorkspaceFileRepository {
	return &fileRepo{base{store: u.store, tx: u.tx}}
}

func (u *unitOfWork) DocumentChunkRepository() contract.DocumentChunkRepository {
	return &chunkRepo{base{store: u.store, tx: u.tx}}
}

func (u *unitOfWork) ChatSessionRepository() contract.ChatSessionRepository {
	return &sessionRepo{base{store: u.store, tx: u.tx}}
}

func (u *unitOfWork) ChatMessageRepository() contract.ChatMessageRepository {
	return &messageRepo{base{store: u.store, tx: u.tx}}
}

func (u *unitOfWork) ConversationCompactionRepository() contract.ConversationCompactionRepository {
	return &compactionRepo{base{store: u.store, tx: u.tx}}
}

func (u *unitOfWork) SessionTaskStateRepository() contract.SessionTaskStateRepository {
	return &taskStateRepo{base{store: u.store, tx: u.tx}}
}

func (u *unitOfWork) EditProposalRepository() contract.EditProposalRepository {
	return &proposalRepo{base{store: u.store, tx: u.tx}}
}

// query is the subset of specifications the fakes understand.
type query struct {
	ids         map[uuid.UUID]bool
	sessionID   *uuid.UUID
	fileID      *uuid.UUID
	page        *int
	pageStart   int
	pageEnd     int
	roles       map[string]bool
	taskID      string
	excludeType string
	chunkOrder  bool
	orderField  string
	orderDesc   bool
	limit       int
	offset      int
}

func parse(specs []specification.Specification) query {
	var q query
	for _, spec := range specs {
		switch s := spec.(type) {
		case specification.ByID:
			q.ids = map[uuid.UUID]bool{s.ID: true}
		case specification.ByIDs:
			q.ids = map[uuid.UUID]bool{}
			for _, id := range s.IDs {
				q.ids[id] = true
			}
		case specification.ByChatSessionID:
			id := s.ChatSessionID
			q.sessionID = &id
		case specification.ByFileID:
			id := s.FileID
			q.fileID = &id
		case specification.ByPage:
			p := s.Page
			q.page = &p
		case specification.PageRange:
			q.pageStart, q.pageEnd = s.Start, s.End
		case specification.ByRoles:
			q.roles = map[string]bool{}
			for _, r := range s.Roles {
				q.roles[r] = true
			}
		case specification.ByTaskID:
			q.taskID = s.TaskID
		case specification.ExcludeFileType:
			q.excludeType = s.FileType
		case specification.ChunkOrder:
			q.chunkOrder = true
		case specification.OrderBy:
			q.orderField, q.orderDesc = s.Field, s.Desc
		case specification.Pagination:
			q.limit, q.offset = s.Limit, s.Offset
		}
	}
	return q
}

func page[T any](items []T, q query) []T {
	if q.offset > 0 {
		if q.offset >= len(items) {
			return []T{}
		}
		items = items[q.offset:]
	}
	if q.limit > 0 && len(items) > q.limit {
		items = items[:q.limit]
	}
	return items
}

func sortByTime[T any](items []T, at func(T) time.Time, desc bool) {
	sort.SliceStable(items, func(i, j int) bool {
		if desc {
			return at(items[i]).After(at(items[j]))
		}
		return at(items[i]).Before(at(items[j]))
	})
}
