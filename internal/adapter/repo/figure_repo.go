package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"figureworks/internal/domain"
	"figureworks/internal/infra"
	"figureworks/internal/sqlinline"
)

const maxListLimit = 100

// FigureRepositoryPG implements domain.FigureRepository.
type FigureRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewFigureRepository creates a figure repository backed by PostgreSQL.
func NewFigureRepository(sql infra.SQLExecutor) *FigureRepositoryPG {
	return &FigureRepositoryPG{sql: sql}
}

// Create inserts a queued figure with a fresh id.
func (r *FigureRepositoryPG) Create(ctx context.Context, in domain.NewFigure) (*domain.Figure, error) {
	params, err := json.Marshal(in.Params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	meta, err := json.Marshal(in.Meta)
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	fig := &domain.Figure{
		ID:        uuid.NewString(),
		OwnerID:   in.OwnerID,
		Params:    in.Params,
		Meta:      in.Meta,
		Status:    domain.FigureStatusQueued,
		CostCents: in.CostCents,
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertFigure, fig.ID, fig.OwnerID, params, meta, fig.CostCents)
	if err := row.Scan(&fig.CreatedAt, &fig.UpdatedAt); err != nil {
		return nil, fmt.Errorf("%w: insert figure: %w", domain.ErrStoreUnavailable, err)
	}
	return fig, nil
}

// Get fetches a figure by id. Malformed ids are reported as not found.
func (r *FigureRepositoryPG) Get(ctx context.Context, id string) (*domain.Figure, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	fig, err := scanFigure(r.sql.QueryRow(ctx, sqlinline.QSelectFigure, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: load figure: %w", domain.ErrStoreUnavailable, err)
	}
	return fig, nil
}

// ListByOwner returns the owner's figures, newest first.
func (r *FigureRepositoryPG) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Figure, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListFiguresByOwner, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list figures: %w", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	var out []domain.Figure
	for rows.Next() {
		fig, err := scanFigure(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan figure: %w", domain.ErrStoreUnavailable, err)
		}
		out = append(out, *fig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list figures: %w", domain.ErrStoreUnavailable, err)
	}
	return out, nil
}

// MergeMeta merges the non-empty fields of meta into the stored bookkeeping.
func (r *FigureRepositoryPG) MergeMeta(ctx context.Context, id string, meta domain.FigureMeta) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QMergeFigureMeta, id, raw)
	if err != nil {
		return fmt.Errorf("%w: merge meta: %w", domain.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkDone moves a queued figure to done.
func (r *FigureRepositoryPG) MarkDone(ctx context.Context, id, resultRef string, completedAt time.Time) error {
	return r.transition(ctx, sqlinline.QMarkFigureDone, id, resultRef, completedAt.UTC())
}

// MarkError moves a queued figure to error.
func (r *FigureRepositoryPG) MarkError(ctx context.Context, id, detail string, failedAt time.Time) error {
	return r.transition(ctx, sqlinline.QMarkFigureError, id, detail, failedAt.UTC())
}

func (r *FigureRepositoryPG) transition(ctx context.Context, query, id, value string, at time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	tag, err := r.sql.Exec(ctx, query, id, value, at)
	if err != nil {
		return fmt.Errorf("%w: update figure: %w", domain.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// Nothing matched: either the id is unknown or another writer got there first.
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return domain.ErrAlreadyTerminal
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFigure(row rowScanner) (*domain.Figure, error) {
	var (
		fig    domain.Figure
		params []byte
		meta   []byte
		status string
	)
	if err := row.Scan(
		&fig.ID,
		&fig.OwnerID,
		&params,
		&meta,
		&status,
		&fig.ResultImageRef,
		&fig.ErrorDetail,
		&fig.FailedAt,
		&fig.CostCents,
		&fig.CreatedAt,
		&fig.UpdatedAt,
	); err != nil {
		return nil, err
	}
	fig.Status = domain.FigureStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &fig.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &fig.Meta); err != nil {
			return nil, fmt.Errorf("decode meta: %w", err)
		}
	}
	return &fig, nil
}

var _ domain.FigureRepository = (*FigureRepositoryPG)(nil)
