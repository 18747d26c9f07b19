package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"guild-server/internal/apperr"
)

// DB is the query builder scopes operate on.
type DB = gorm.DB

// Scope narrows a query. Scopes compose and are applied lazily, when a
// terminal method runs.
type Scope = func(*gorm.DB) *gorm.DB

// Where returns a scope adding a single condition.
func Where(query any, args ...any) Scope {
	return func(db *gorm.DB) *gorm.DB { return db.Where(query, args...) }
}

func OrderBy(order string) Scope {
	return func(db *gorm.DB) *gorm.DB { return db.Order(order) }
}

// Page skips offset rows and returns at most limit.
func Page(offset, limit int) Scope {
	return func(db *gorm.DB) *gorm.DB {
		if offset > 0 {
			db = db.Offset(offset)
		}
		if limit > 0 {
			db = db.Limit(limit)
		}
		return db
	}
}

// Repository gives typed access to one table.
type Repository[T any] struct {
	db *gorm.DB
}

func NewRepository[T any](db *gorm.DB) *Repository[T] {
	return &Repository[T]{db: db}
}

// Query returns an unexecuted query with scopes applied, for callers that
// need joins or projections the helpers do not cover.
func (r *Repository[T]) Query(ctx context.Context, scopes ...Scope) *gorm.DB {
	var zero T
	return r.db.WithContext(ctx).Model(&zero).Scopes(scopes...)
}

func (r *Repository[T]) Find(ctx context.Context, scopes ...Scope) ([]T, error) {
	var out []T
	if err := r.Query(ctx, scopes...).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// First returns the first matching row or an error wrapping apperr.ErrNotFound.
func (r *Repository[T]) First(ctx context.Context, scopes ...Scope) (*T, error) {
	var out T
	err := r.Query(ctx, scopes...).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%T: %w", out, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Get loads the row with the given primary key.
func (r *Repository[T]) Get(ctx context.Context, id int64) (*T, error) {
	return r.First(ctx, Where("id = ?", id))
}

func (r *Repository[T]) Exists(ctx context.Context, scopes ...Scope) (bool, error) {
	n, err := r.Count(ctx, scopes...)
	return n > 0, err
}

func (r *Repository[T]) Count(ctx context.Context, scopes ...Scope) (int64, error) {
	var n int64
	err := r.Query(ctx, scopes...).Count(&n).Error
	return n, err
}

func (r *Repository[T]) Create(ctx context.Context, v *T) error {
	return r.db.WithContext(ctx).Create(v).Error
}

// Update writes every column of v.
func (r *Repository[T]) Update(ctx context.Context, v *T) error {
	return r.db.WithContext(ctx).Save(v).Error
}

func (r *Repository[T]) Delete(ctx context.Context, v *T) error {
	return r.db.WithContext(ctx).Delete(v).Error
}

// DeleteWhere removes every row matching the scopes and returns how many
// were removed. At least one scope is required.
func (r *Repository[T]) DeleteWhere(ctx context.Context, scopes ...Scope) (int64, error) {
	if len(scopes) == 0 {
		return 0, errors.New("store: DeleteWhere without a condition")
	}
	var zero T
	res := r.db.WithContext(ctx).Scopes(scopes...).Delete(&zero)
	return res.RowsAffected, res.Error
}
