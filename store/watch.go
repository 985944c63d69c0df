package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

type getFunc func(ctx context.Context) (Document, error)

// Watch is a live stream of snapshots of one document. C only ever holds the
// latest snapshot: a slow reader skips intermediate versions but never misses
// the most recent one.
type Watch struct {
	ch     chan Document
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// C returns the snapshot channel. It is closed once the watch stops.
func (w *Watch) C() <-chan Document {
	return w.ch
}

// Stop ends the watch and waits for its goroutine to exit. Safe to call more than once.
func (w *Watch) Stop() {
	w.once.Do(w.cancel)
	<-w.done
}

// startWatch reads the document once synchronously, then re-reads it whenever
// the notifier signals a change or pollInterval elapses.
func startWatch(ctx context.Context, get getFunc, notifier Notifier, pollInterval time.Duration, collection, id string) (*Watch, error) {
	var (
		signals     <-chan struct{}
		unsubscribe = func() {}
	)
	if notifier != nil {
		ch, cancel, err := notifier.Subscribe(collection, id)
		if err != nil {
			log.Warnf("[Watch] subscribe %s failed, falling back to polling: %v", key(collection, id), err)
		} else {
			signals, unsubscribe = ch, cancel
		}
	}

	first, err := snapshot(ctx, get, collection, id)
	if err != nil {
		unsubscribe()
		return nil, err
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &Watch{
		ch:     make(chan Document, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	w.ch <- first

	go func() {
		defer close(w.done)
		defer close(w.ch)
		defer unsubscribe()

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		last := first
		for {
			select {
			case <-wctx.Done():
				return
			case <-signals:
			case <-ticker.C:
			}

			doc, err := snapshot(wctx, get, collection, id)
			if err != nil {
				if wctx.Err() != nil {
					return
				}
				log.Warnf("[Watch] read %s failed: %v", key(collection, id), err)
				continue
			}
			if doc.Exists == last.Exists && doc.Version == last.Version {
				continue
			}
			last = doc
			w.offer(doc)
		}
	}()
	return w, nil
}

// offer replaces any undelivered snapshot with doc. Only the watch goroutine sends.
func (w *Watch) offer(doc Document) {
	select {
	case w.ch <- doc:
		return
	default:
	}
	select {
	case <-w.ch:
	default:
	}
	w.ch <- doc
}

func snapshot(ctx context.Context, get getFunc, collection, id string) (Document, error) {
	doc, err := get(ctx)
	if errors.Is(err, ErrNotFound) {
		return Document{Collection: collection, ID: id}, nil
	}
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}
