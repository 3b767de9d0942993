package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "daemon.abc.pipeline.completed", Subject("abc", TypeCompleted))
	assert.Equal(t, "daemon.a_b_c.pipeline.failed", Subject("a.b*c", TypeFailed))
	assert.Equal(t, "daemon._.pipeline.*", WildcardSubject(""))
}

func TestNATSPublisher_Publish(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := Connect(server.ClientURL(), nil)
	require.NoError(t, err)
	defer nc.Close()

	msgs := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe(WildcardSubject("abc"), msgs)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, nc.Flush())

	p := NewNATSPublisher(nc, nil)
	require.NoError(t, p.Publish(context.Background(), Event{
		Type:           TypeCompleted,
		TurnID:         "turn-1",
		DaemonPubkey:   "abc",
		PostProcessLog: []string{"entry"},
	}))
	require.NoError(t, p.Publish(context.Background(), Event{Type: TypeCompleted, DaemonPubkey: "other"}))

	select {
	case msg := <-msgs:
		assert.Equal(t, "daemon.abc.pipeline.completed", msg.Subject)
		var got Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "turn-1", got.TurnID)
		assert.Equal(t, []string{"entry"}, got.PostProcessLog)
		assert.False(t, got.Time.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case msg := <-msgs:
		t.Fatalf("unexpected event on %s", msg.Subject)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNATSPublisher_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewNATSPublisher(nil, nil)
	assert.ErrorIs(t, p.Publish(ctx, Event{Type: TypeFailed}), context.Canceled)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}
