package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishRequiresPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "digest-events", map[string]string{"event": "batch.flushed"})
	require.ErrorContains(t, err, "not configured")
}

func TestDialValidatesArguments(t *testing.T) {
	t.Parallel()

	_, _, err := Dial(context.Background(), "", "topic")
	require.Error(t, err)
	_, _, err = Dial(context.Background(), "project", "")
	require.Error(t, err)
}
