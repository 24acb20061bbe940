package pluginbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishInvokesSubscribers(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe(EventFlowNew, "recorder", func(_ context.Context, event string, payload any) {
		got = append(got, payload.(string))
	})

	b.Publish(context.Background(), EventFlowNew, "flow-a")
	b.Publish(context.Background(), EventFlowNew, "flow-b")

	assert.Equal(t, []string{"flow-a", "flow-b"}, got)
}

func TestSubscribeDuplicateNamePanics(t *testing.T) {
	b := New()
	b.Subscribe(EventFlowExpire, "watcher", func(context.Context, string, any) {})
	assert.Panics(t, func() {
		b.Subscribe(EventFlowExpire, "watcher", func(context.Context, string, any) {})
	})
}

func TestUnsubscribeRemovesHandler(t *testing.T) {
	b := New()
	called := false
	b.Subscribe(EventReload, "watcher", func(context.Context, string, any) { called = true })
	b.Unsubscribe(EventReload, "watcher")
	b.Publish(context.Background(), EventReload, nil)
	assert.False(t, called)
}

func TestPublishSurvivesHandlerPanic(t *testing.T) {
	b := New()
	var secondCalled bool
	b.Subscribe(EventStatusUpdate, "bad", func(context.Context, string, any) { panic("boom") })
	b.Subscribe(EventStatusUpdate, "good", func(context.Context, string, any) { secondCalled = true })

	require.NotPanics(t, func() {
		b.Publish(context.Background(), EventStatusUpdate, nil)
	})
	assert.True(t, secondCalled)
}

func TestPublishOrderedRespectsFixedSequence(t *testing.T) {
	b := New()
	var order []string
	record := func(event string) Handler {
		return func(_ context.Context, e string, _ any) { order = append(order, e) }
	}
	b.Subscribe(EventFlowExpire, "r1", record(EventFlowExpire))
	b.Subscribe(EventUpdateInit, "r2", record(EventUpdateInit))
	b.Subscribe(EventUpdateComplete, "r3", record(EventUpdateComplete))

	b.PublishOrdered(context.Background(), map[string]any{
		EventFlowExpire:     struct{}{},
		EventUpdateInit:     struct{}{},
		EventUpdateComplete: struct{}{},
	})

	assert.Equal(t, []string{EventUpdateInit, EventFlowExpire, EventUpdateComplete}, order)
}

func TestSubscribersSortedByName(t *testing.T) {
	b := New()
	b.Subscribe(EventFlowNew, "zeta", func(context.Context, string, any) {})
	b.Subscribe(EventFlowNew, "alpha", func(context.Context, string, any) {})
	assert.Equal(t, []string{"alpha", "zeta"}, b.Subscribers(EventFlowNew))
}
