// Package memory holds in-process implementations of the domain stores for
// tests and single-node development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"figureworks/internal/domain"
)

type FigureStore struct {
	mu      sync.Mutex
	figures map[string]domain.Figure
	now     func() time.Time
}

func NewFigureStore() *FigureStore {
	return &FigureStore{
		figures: make(map[string]domain.Figure),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *FigureStore) Create(_ context.Context, in domain.NewFigure) (*domain.Figure, error) {
	now := s.now()
	fig := domain.Figure{
		ID:        uuid.NewString(),
		OwnerID:   in.OwnerID,
		Params:    cloneParams(in.Params),
		Meta:      in.Meta,
		Status:    domain.FigureStatusQueued,
		CostCents: in.CostCents,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.figures[fig.ID] = fig
	s.mu.Unlock()
	out := fig
	return &out, nil
}

func (s *FigureStore) Get(_ context.Context, id string) (*domain.Figure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fig, ok := s.figures[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	fig.Params = cloneParams(fig.Params)
	return &fig, nil
}

func (s *FigureStore) ListByOwner(_ context.Context, ownerID string, limit int) ([]domain.Figure, error) {
	s.mu.Lock()
	var out []domain.Figure
	for _, fig := range s.figures {
		if fig.OwnerID == ownerID {
			out = append(out, fig)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *FigureStore) MergeMeta(_ context.Context, id string, meta domain.FigureMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fig, ok := s.figures[id]
	if !ok {
		return domain.ErrNotFound
	}
	fig.Meta = mergeMeta(fig.Meta, meta)
	fig.UpdatedAt = s.now()
	s.figures[id] = fig
	return nil
}

func (s *FigureStore) MarkDone(_ context.Context, id, resultRef string, completedAt time.Time) error {
	return s.transition(id, func(fig *domain.Figure) {
		fig.Status = domain.FigureStatusDone
		fig.ResultImageRef = resultRef
		at := completedAt.UTC()
		fig.Meta.ProcessingCompletedAt = &at
	})
}

func (s *FigureStore) MarkError(_ context.Context, id, detail string, failedAt time.Time) error {
	return s.transition(id, func(fig *domain.Figure) {
		fig.Status = domain.FigureStatusError
		fig.ErrorDetail = detail
		at := failedAt.UTC()
		fig.FailedAt = &at
		fig.Meta.ProcessingCompletedAt = &at
	})
}

func (s *FigureStore) transition(id string, apply func(*domain.Figure)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fig, ok := s.figures[id]
	if !ok {
		return domain.ErrNotFound
	}
	if fig.Status != domain.FigureStatusQueued {
		return domain.ErrAlreadyTerminal
	}
	apply(&fig)
	fig.UpdatedAt = s.now()
	s.figures[id] = fig
	return nil
}

func mergeMeta(dst, src domain.FigureMeta) domain.FigureMeta {
	if src.QueueMessageID != "" {
		dst.QueueMessageID = src.QueueMessageID
	}
	if src.Country != "" {
		dst.Country = src.Country
	}
	if src.EnqueuedAt != nil {
		dst.EnqueuedAt = src.EnqueuedAt
	}
	if src.ProcessingStartedAt != nil {
		dst.ProcessingStartedAt = src.ProcessingStartedAt
	}
	if src.ProcessingCompletedAt != nil {
		dst.ProcessingCompletedAt = src.ProcessingCompletedAt
	}
	return dst
}

func cloneParams(p domain.FigureParams) domain.FigureParams {
	if p.Accessories != nil {
		p.Accessories = append([]string(nil), p.Accessories...)
	}
	return p
}

var _ domain.FigureRepository = (*FigureStore)(nil)
