package repotest

import (
	"context"
	"errors"
	"sort"
	"time"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/repository/contract"
	"knowledge-agent-be/internal/repository/specification"

	"github.com/google/uuid"
)

type fileRepo struct{ base }

func (r *fileRepo) match(q query, f *entity.WorkspaceFile) bool {
	if q.ids != nil && !q.ids[f.Id] {
		return false
	}
	if q.excludeType != "" && f.FileType == q.excludeType {
		return false
	}
	return true
}

func (r *fileRepo) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.WorkspaceFile, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	all, _ := r.FindAll(ctx, specs...)
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

func (r *fileRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.WorkspaceFile, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	q := parse(specs)
	var out []*entity.WorkspaceFile
	for _, f := range r.store.Files {
		if r.match(q, f) {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, q), nil
}

func (r *fileRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	if err := r.enter(); err != nil {
		return 0, err
	}
	all, _ := r.FindAll(ctx, specs...)
	return int64(len(all)), nil
}

type chunkRepo struct{ base }

func (r *chunkRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.DocumentChunk, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	q := parse(specs)
	var out []*entity.DocumentChunk
	for _, c := range r.store.Chunks {
		if q.fileID != nil && c.FileId != *q.fileID {
			continue
		}
		if q.page != nil && c.Page != *q.page {
			continue
		}
		if q.pageStart > 0 && c.Page < q.pageStart {
			continue
		}
		if q.pageEnd > 0 && c.Page > q.pageEnd {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	if q.chunkOrder {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Page != out[j].Page {
				return out[i].Page < out[j].Page
			}
			return out[i].ChunkIndex < out[j].ChunkIndex
		})
	}
	return page(out, q), nil
}

// SearchNearest reports Distances[chunk] when set, else 0.5, for chunks that have an embedding.
func (r *chunkRepo) SearchNearest(ctx context.Context, fileID uuid.UUID, embedding []float32, limit int) ([]entity.ChunkMatch, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.SearchErr != nil {
		return nil, r.fail(r.store.SearchErr)
	}
	var out []entity.ChunkMatch
	for _, c := range r.store.Chunks {
		if c.FileId != fileID {
			continue
		}
		if _, ok := r.store.Embeddings[c.Id]; !ok {
			continue
		}
		d, ok := r.store.Distances[c.Id]
		if !ok {
			d = 0.5
		}
		out = append(out, entity.ChunkMatch{Chunk: *c, Distance: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type sessionRepo struct{ base }

func (r *sessionRepo) Create(ctx context.Context, session *entity.ChatSession) error {
	if err := r.enter(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if session.Id == uuid.Nil {
		session.Id = uuid.New()
	}
	if _, exists := r.store.Sessions[session.Id]; exists {
		return r.fail(contract.ErrDuplicate)
	}
	session.CreatedAt = time.Now()
	cp := *session
	cp.Permissions = copyStrings(session.Permissions)
	r.store.Sessions[session.Id] = &cp
	return nil
}

func (r *sessionRepo) ReplacePermissions(ctx context.Context, id uuid.UUID, permissions map[string]string) error {
	if err := r.enter(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	sess, ok := r.store.Sessions[id]
	if !ok {
		return contract.ErrNotFound
	}
	now := time.Now()
	sess.UpdatedAt = &now
	sess.Permissions = copyStrings(permissions)
	return nil
}

func (r *sessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.enter(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.Sessions, id)
	return nil
}

func (r *sessionRepo) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ChatSession, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	q := parse(specs)
	for _, s := range r.store.Sessions {
		if q.ids != nil && !q.ids[s.Id] {
			continue
		}
		cp := *s
		cp.Permissions = copyStrings(s.Permissions)
		return &cp, nil
	}
	return nil, nil
}

type messageRepo struct{ base }

func (r *messageRepo) Create(ctx context.Context, message *entity.ChatMessage) error {
	if err := r.enter(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if message.Id == uuid.Nil {
		message.Id = uuid.New()
	}
	// Keep creation order strictly increasing for ordering assertions.
	message.CreatedAt = time.Now().Add(time.Duration(len(r.store.Messages)) * time.Millisecond)
	cp := *message
	r.store.Messages = append(r.store.Messages, &cp)
	return nil
}

func (r *messageRepo) filter(q query) []*entity.ChatMessage {
	var out []*entity.ChatMessage
	for _, m := range r.store.Messages {
		if q.sessionID != nil && m.ChatSessionId != *q.sessionID {
			continue
		}
		if q.roles != nil && !q.roles[m.Role] {
			continue
		}
		if q.taskID != "" && m.TaskId != q.taskID {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out
}

func (r *messageRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ChatMessage, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	q := parse(specs)
	out := r.filter(q)
	sortByTime(out, func(m *entity.ChatMessage) time.Time { return m.CreatedAt }, q.orderField != "" && q.orderDesc)
	return page(out, q), nil
}

func (r *messageRepo) FindRecent(ctx context.Context, sessionID uuid.UUID, roles []string, limit int) ([]*entity.ChatMessage, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	q := query{sessionID: &sessionID, roles: map[string]bool{}}
	for _, role := range roles {
		q.roles[role] = true
	}
	out := r.filter(q)
	sortByTime(out, func(m *entity.ChatMessage) time.Time { return m.CreatedAt }, false)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *messageRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	if err := r.enter(); err != nil {
		return 0, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return int64(len(r.filter(parse(specs)))), nil
}

func (r *messageRepo) DeleteByChatSessionID(ctx context.Context, sessionID uuid.UUID) error {
	if err := r.enter(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	kept := r.store.Messages[:0]
	for _, m := range r.store.Messages {
		if m.ChatSessionId != sessionID {
			kept = append(kept, m)
		}
	}
	r.store.Messages = kept
	return nil
}

type compactionRepo struct{ base }

func (r *compactionRepo) Create(ctx context.Context, c *entity.ConversationCompaction) error {
	if err := r.enter(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.DuplicateOnce {
		r.store.DuplicateOnce = false
		return contract.ErrDuplicate
	}
	for _, existing := range r.store.Compactions {
		if existing.ChatSessionId == c.ChatSessionId && existing.Sequence == c.Sequence {
			return contract.ErrDuplicate
		}
	}
	if c.Id == uuid.Nil {
		c.Id = uuid.New()
	}
	c.CreatedAt = time.Now()
	cp := *c
	r.store.Compactions = append(r.store.Compactions, &cp)
	return nil
}

func (r *compactionRepo) FindLatest(ctx context.Context, sessionID uuid.UUID) (*entity.ConversationCompaction, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var latest *entity.ConversationCompaction
	for _, c := range r.store.Compactions {
		if c.ChatSessionId != sessionID {
			continue
		}
		if latest == nil || c.Sequence > latest.Sequence {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *compactionRepo) MaxSequence(ctx context.Context, sessionID uuid.UUID) (int, error) {
	if err := r.enter(); err != nil {
		return 0, err
	}
	latest, _ := r.FindLatest(ctx, sessionID)
	if latest == nil {
		return 0, nil
	}
	return latest.Sequence, nil
}

func (r *compactionRepo) DeleteByChatSessionID(ctx context.Context, sessionID uuid.UUID) error {
	if err := r.enter(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	kept := r.store.Compactions[:0]
	for _, c := range r.store.Compactions {
		if c.ChatSessionId != sessionID {
			kept = append(kept, c)
		}
	}
	r.store.Compactions = kept
	return nil
}

type taskStateRepo struct{ base }

func (r *taskStateRepo) Upsert(ctx context.Context, state *entity.SessionTaskState) error {
	if err := r.enter(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if state.ChatSessionId == uuid.Nil {
		return r.fail(errors.New("task state requires a session id"))
	}
	now := time.Now()
	state.UpdatedAt = &now
	cp := *state
	r.store.TaskStates[state.ChatSessionId] = &cp
	return nil
}

func (r *taskStateRepo) FindByChatSessionID(ctx context.Context, sessionID uuid.UUID) (*entity.SessionTaskState, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.TaskStates[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *taskStateRepo) DeleteByChatSessionID(ctx context.Context, sessionID uuid.UUID) error {
	if err := r.enter(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.TaskStates, sessionID)
	return nil
}

type proposalRepo struct{ base }

func (r *proposalRepo) Create(ctx context.Context, p *entity.EditProposal) error {
	if err := r.enter(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.ProposalErr != nil {
		return r.fail(r.store.ProposalErr)
	}
	if p.Id == uuid.Nil {
		p.Id = uuid.New()
	}
	p.CreatedAt = time.Now()
	cp := *p
	r.store.Proposals = append(r.store.Proposals, &cp)
	return nil
}

func (r *proposalRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.EditProposal, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	q := parse(specs)
	var out []*entity.EditProposal
	for _, p := range r.store.Proposals {
		if q.sessionID != nil && p.ChatSessionId != *q.sessionID {
			continue
		}
		if q.fileID != nil && p.FileId != *q.fileID {
			continue
		}
		if q.taskID != "" && p.TaskId != q.taskID {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	if q.orderDesc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return page(out, q), nil
}

func copyStrings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
