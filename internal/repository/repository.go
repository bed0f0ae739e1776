// Package repository is the typed client for collection storage. Every
// backend (SQL, PostgREST, in-memory) exposes the same operations and the
// same error taxonomy.
package repository

import (
	"context"
	"errors"
	"fmt"

	"portfolio-cms/internal/schema"
)

// Row is one record keyed by column name.
type Row = map[string]any

type Order = schema.Order

type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpIn  Op = "in"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, v any) Filter  { return Filter{Field: field, Op: OpEq, Value: v} }
func Neq(field string, v any) Filter { return Filter{Field: field, Op: OpNeq, Value: v} }

func In(field string, values []string) Filter {
	return Filter{Field: field, Op: OpIn, Value: values}
}

// Query narrows FetchMany. An empty Order falls back to the collection's
// default ordering.
type Query struct {
	Filters []Filter
	Order   []Order
	Limit   int
}

type Repository interface {
	// FetchOne returns the single row matching filters. Zero rows yields a
	// NotFoundError; more than one is a BackendError.
	FetchOne(ctx context.Context, collection string, filters ...Filter) (Row, error)
	FetchMany(ctx context.Context, collection string, q Query) ([]Row, error)
	// Insert stores row and returns it with id and timestamps assigned.
	Insert(ctx context.Context, collection string, row Row) (Row, error)
	Update(ctx context.Context, collection, id string, patch Row) error
	// UpdateMany applies patch to every row matching filters and reports
	// how many rows changed.
	UpdateMany(ctx context.Context, collection string, patch Row, filters ...Filter) (int64, error)
	// Upsert updates the row carrying row["id"] or creates it.
	Upsert(ctx context.Context, collection string, row Row) (Row, error)
	DeleteOne(ctx context.Context, collection, id string) error
	// DeleteMany removes every id in one backend call. It either removes all
	// of them or none.
	DeleteMany(ctx context.Context, collection string, ids []string) error
	Count(ctx context.Context, collection string) (int, error)
}

var (
	ErrNotFound          = errors.New("not found")
	ErrUnknownCollection = errors.New("unknown collection")
)

type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: no rows", e.Collection)
	}
	return fmt.Sprintf("%s: row %s not found", e.Collection, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

type ErrorKind string

const (
	KindNetwork    ErrorKind = "network"
	KindAuth       ErrorKind = "auth"
	KindConstraint ErrorKind = "constraint"
	KindUnknown    ErrorKind = "unknown"
)

// BackendError wraps any failure reported by the storage backend. Callers
// surface it and never retry automatically.
type BackendError struct {
	Op         string
	Collection string
	Kind       ErrorKind
	Err        error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %s error: %v", e.Op, e.Collection, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsConstraint reports whether err is a constraint violation from the backend.
func IsConstraint(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == KindConstraint
}

// KindOf returns the BackendError kind of err, or "" when err is not one.
func KindOf(err error) ErrorKind {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

func unknownCollection(name string) error {
	return fmt.Errorf("%w: %s", ErrUnknownCollection, name)
}
