package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubject(t *testing.T) {
	n := NewNotifier(nil, "")
	assert.Equal(t, "trickbattle.matches.abc-123", n.Subject("matches", "abc-123"))

	n = NewNotifier(nil, "prod")
	assert.Equal(t, "prod.matchmakingQueue.a_b_c_", n.Subject("matchmakingQueue", "a.b*c>"))
}
