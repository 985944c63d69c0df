// Package pubsub carries "document changed" signals between service instances over NATS.
package pubsub

import (
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/nats-io/nats.go"
)

// Connect dials NATS. An empty url falls back to NATS_URL, then the local default.
func Connect(url, name string) (*nats.Conn, error) {
	if url == "" {
		url = os.Getenv("NATS_URL")
	}
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("[NATS] disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("[NATS] reconnected to %s", nc.ConnectedUrl())
		}),
	}
	return nats.Connect(url, opts...)
}

// Notifier implements store.Notifier on top of a NATS connection. Messages carry
// no payload; watchers re-read the document when signalled.
type Notifier struct {
	nc     *nats.Conn
	prefix string
}

func NewNotifier(nc *nats.Conn, prefix string) *Notifier {
	if prefix == "" {
		prefix = "trickbattle"
	}
	return &Notifier{nc: nc, prefix: prefix}
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

// Subject returns the subject signals for one document travel on.
func (n *Notifier) Subject(collection, id string) string {
	return n.prefix + "." + tokenReplacer.Replace(collection) + "." + tokenReplacer.Replace(id)
}

func (n *Notifier) Publish(collection, id string) {
	if err := n.nc.Publish(n.Subject(collection, id), nil); err != nil {
		log.Warnf("[NATS] publish %s/%s failed: %v", collection, id, err)
	}
}

func (n *Notifier) Subscribe(collection, id string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)
	sub, err := n.nc.Subscribe(n.Subject(collection, id), func(*nats.Msg) {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, nil, err
	}
	cancel := func() {
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
			log.Warnf("[NATS] unsubscribe %s failed: %v", sub.Subject, err)
		}
	}
	return ch, cancel, nil
}
