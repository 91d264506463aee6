package busmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/sporket-dev/sporket/pkg/bus"
)

func TestCollectorSatisfiesBusMetrics(t *testing.T) {
	var _ bus.Metrics = New(WithRegistry(prometheus.NewRegistry()))
}

func TestCollectorCountersDoNotPanic(t *testing.T) {
	c := New(WithRegistry(prometheus.NewRegistry()), WithNamespace("test"))

	assert.NotPanics(t, func() {
		c.ConnectionOpened()
		c.ConnectionClosed()
		c.AuthSucceeded()
		c.AuthFailed()
		c.MessageReceived()
		c.MessageBroadcast(3)
		c.InvalidSignature()
	})
}
