// Package store is the shared mutable document store the game core runs on.
//
// Documents are JSON objects addressed by (collection, id). Every mutation that
// depends on what it read goes through RunTransaction: reads made inside the
// transaction (document gets and collection queries) form its read set, and the
// commit fails with ErrConflict when any of them changed in the meantime. The
// transaction function is then re-run against fresh data, a bounded number of
// times, before ErrConflict is returned to the caller.
//
// Three backends implement Store: Memory (tests, single process), Postgres (gorm)
// and Dynamo (DynamoDB). Watch turns commits into a stream of snapshots.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by Get when the document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict means a concurrent commit invalidated the transaction's reads.
	ErrConflict = errors.New("transaction conflict")
	// ErrClosed is returned once the store has been closed.
	ErrClosed = errors.New("store closed")
)

// Document is one snapshot of a stored document.
type Document struct {
	Collection string
	ID         string
	Version    int64
	Exists     bool
	Data       []byte
}

// DataTo decodes the document body into v.
func (d Document) DataTo(v any) error {
	if !d.Exists {
		return fmt.Errorf("%s/%s: %w", d.Collection, d.ID, ErrNotFound)
	}
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// Op is a filter comparison.
type Op string

const (
	OpEqual         Op = "=="
	OpNotEqual      Op = "!="
	OpArrayContains Op = "array-contains"
)

// Filter compares a (dot separated) field path of the document with Value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where builds a Filter.
func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Query selects documents of one collection. OrderBy names an RFC 3339
// timestamp field; results are ascending unless Descending is set.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Reader is the read half shared by Store and Tx.
type Reader interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
}

// Tx is the view a transaction function gets. Writes are only visible to other
// readers after a successful commit; reads inside the transaction see its own writes.
type Tx interface {
	Reader
	Set(collection, id string, doc any) error
	Delete(collection, id string) error
}

// TxFunc is run, possibly several times, inside a transaction. It must not have
// side effects outside tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the document store contract.
type Store interface {
	Reader
	Set(ctx context.Context, collection, id string, doc any) error
	Delete(ctx context.Context, collection, id string) error
	RunTransaction(ctx context.Context, fn TxFunc) error
	// Watch streams snapshots of one document: the current state first, then
	// one snapshot per committed change.
	Watch(ctx context.Context, collection, id string) (*Watch, error)
	Close() error
}

// Notifier fans out "document changed" signals between writers and watchers.
type Notifier interface {
	Publish(collection, id string)
	Subscribe(collection, id string) (<-chan struct{}, func(), error)
}

// Options tune transaction retries and change detection, shared by all backends.
type Options struct {
	MaxAttempts  int           // transaction attempts before ErrConflict surfaces
	BaseBackoff  time.Duration // first retry delay, doubled per attempt with jitter
	PollInterval time.Duration // watch re-read interval when no notifier signal arrives
	Notifier     Notifier
}

// DefaultOptions returns the options used when a backend gets a zero value.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:  25,
		BaseBackoff:  2 * time.Millisecond,
		PollInterval: 2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = def.BaseBackoff
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	return o
}

func key(collection, id string) string {
	return collection + "/" + id
}

func encode(collection, id string, doc any) ([]byte, error) {
	if collection == "" || id == "" {
		return nil, fmt.Errorf("collection and id are required")
	}
	if raw, ok := doc.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	return data, nil
}
