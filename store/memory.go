package store

import (
	"context"
	"fmt"
	"sync"
)

type memDoc struct {
	version int64
	data    []byte
}

// Memory is an in-process Store. Versions come from one store-wide sequence so a
// deleted and re-created document never repeats a version.
type Memory struct {
	mu     sync.RWMutex
	seq    int64
	docs   map[string]memDoc
	colls  map[string]int64
	closed bool
	opts   Options
}

// NewMemory returns an empty store. Without a Notifier in opts it uses its own Hub.
func NewMemory(opts Options) *Memory {
	opts = opts.withDefaults()
	if opts.Notifier == nil {
		opts.Notifier = NewHub()
	}
	return &Memory{
		docs:  make(map[string]memDoc),
		colls: make(map[string]int64),
		opts:  opts,
	}
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Document{}, ErrClosed
	}
	return m.getLocked(collection, id)
}

func (m *Memory) getLocked(collection, id string) (Document, error) {
	d, ok := m.docs[key(collection, id)]
	if !ok {
		return Document{Collection: collection, ID: id}, fmt.Errorf("%s: %w", key(collection, id), ErrNotFound)
	}
	return Document{
		Collection: collection,
		ID:         id,
		Version:    d.version,
		Exists:     true,
		Data:       append([]byte(nil), d.data...),
	}, nil
}

func (m *Memory) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	docs := m.collectionLocked(q.Collection)
	m.mu.RUnlock()
	return applyQuery(docs, q)
}

func (m *Memory) collectionLocked(collection string) []Document {
	prefix := collection + "/"
	var docs []Document
	for k, d := range m.docs {
		if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		docs = append(docs, Document{
			Collection: collection,
			ID:         k[len(prefix):],
			Version:    d.version,
			Exists:     true,
			Data:       append([]byte(nil), d.data...),
		})
	}
	return docs
}

func (m *Memory) Set(ctx context.Context, collection, id string, doc any) error {
	return m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Set(collection, id, doc)
	})
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	return m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Delete(collection, id)
	})
}

func (m *Memory) RunTransaction(ctx context.Context, fn TxFunc) error {
	return runWithRetry(ctx, m.opts, func() error {
		tx := &memTx{
			m:      m,
			reads:  make(map[string]int64),
			colls:  make(map[string]int64),
			writes: make(map[string]*memWrite),
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return m.commit(tx)
	})
}

func (m *Memory) commit(tx *memTx) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	for k, seen := range tx.reads {
		if m.docs[k].version != seen {
			m.mu.Unlock()
			return fmt.Errorf("%s changed: %w", k, ErrConflict)
		}
	}
	for c, seen := range tx.colls {
		if m.colls[c] != seen {
			m.mu.Unlock()
			return fmt.Errorf("collection %s changed: %w", c, ErrConflict)
		}
	}
	for _, k := range tx.order {
		w := tx.writes[k]
		m.seq++
		if w.deleted {
			delete(m.docs, k)
		} else {
			m.docs[k] = memDoc{version: m.seq, data: w.data}
		}
		m.colls[w.collection] = m.seq
	}
	m.mu.Unlock()

	for _, k := range tx.order {
		w := tx.writes[k]
		m.opts.Notifier.Publish(w.collection, w.id)
	}
	return nil
}

func (m *Memory) Watch(ctx context.Context, collection, id string) (*Watch, error) {
	get := func(ctx context.Context) (Document, error) {
		return m.Get(ctx, collection, id)
	}
	return startWatch(ctx, get, m.opts.Notifier, m.opts.PollInterval, collection, id)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memWrite struct {
	collection string
	id         string
	data       []byte
	deleted    bool
}

type memTx struct {
	m      *Memory
	reads  map[string]int64
	colls  map[string]int64
	writes map[string]*memWrite
	order  []string
}

func (t *memTx) Get(ctx context.Context, collection, id string) (Document, error) {
	k := key(collection, id)
	if w, ok := t.writes[k]; ok {
		if w.deleted {
			return Document{Collection: collection, ID: id}, fmt.Errorf("%s: %w", k, ErrNotFound)
		}
		return Document{Collection: collection, ID: id, Exists: true, Data: append([]byte(nil), w.data...)}, nil
	}

	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	if t.m.closed {
		return Document{}, ErrClosed
	}
	doc, err := t.m.getLocked(collection, id)
	if _, seen := t.reads[k]; !seen {
		t.reads[k] = doc.Version
	}
	return doc, err
}

func (t *memTx) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	t.m.mu.RLock()
	if t.m.closed {
		t.m.mu.RUnlock()
		return nil, ErrClosed
	}
	if _, seen := t.colls[q.Collection]; !seen {
		t.colls[q.Collection] = t.m.colls[q.Collection]
	}
	committed := t.m.collectionLocked(q.Collection)
	t.m.mu.RUnlock()

	docs := committed[:0]
	for _, d := range committed {
		if _, overwritten := t.writes[key(d.Collection, d.ID)]; !overwritten {
			docs = append(docs, d)
		}
	}
	for _, k := range t.order {
		w := t.writes[k]
		if w.collection == q.Collection && !w.deleted {
			docs = append(docs, Document{Collection: w.collection, ID: w.id, Exists: true, Data: w.data})
		}
	}
	return applyQuery(docs, q)
}

func (t *memTx) Set(collection, id string, doc any) error {
	data, err := encode(collection, id, doc)
	if err != nil {
		return err
	}
	t.record(&memWrite{collection: collection, id: id, data: data})
	return nil
}

func (t *memTx) Delete(collection, id string) error {
	if collection == "" || id == "" {
		return fmt.Errorf("collection and id are required")
	}
	t.record(&memWrite{collection: collection, id: id, deleted: true})
	return nil
}

func (t *memTx) record(w *memWrite) {
	k := key(w.collection, w.id)
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	t.writes[k] = w
}
