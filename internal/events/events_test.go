package events

import (
	"context"
	"testing"

	"github.com/gcottom/track-dl/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "process.SUCCESS", RoutingKey(model.StatusSuccess))
	assert.Equal(t, "process.IN_PROGRESS", RoutingKey(model.StatusInProgress))
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), model.ProcessEvent{ProcessID: 1}))
}
