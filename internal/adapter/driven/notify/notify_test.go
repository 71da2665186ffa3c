package notify_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/keyfetch/internal/adapter/driven/notify"
	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

func testEvent() model.Event {
	return model.Event{
		Kind:       model.EventJobCompleted,
		OwnerID:    "user-1",
		SubjectID:  "job-1",
		OccurredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Attributes: map[string]string{"status": "completed"},
	}
}

func TestLog_Send(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewLog(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, n.Send(context.Background(), testEvent()))

	out := buf.String()
	assert.Contains(t, out, "kind=job.completed")
	assert.Contains(t, out, "subject_id=job-1")
	assert.Contains(t, out, "status=completed")
}

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) Send(_ context.Context, _ model.Event) error {
	s.calls++
	return s.err
}

func TestMulti_DeliversToAllMembers(t *testing.T) {
	boom := errors.New("broker down")
	failing := &stubNotifier{err: boom}
	ok := &stubNotifier{}

	m := notify.NewMulti(slog.New(slog.NewTextHandler(io.Discard, nil)), failing, nil, ok)
	err := m.Send(context.Background(), testEvent())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)
	assert.NoError(t, m.Close())
}

// closedAddr returns a loopback address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestAMQP_UnreachableBroker(t *testing.T) {
	n := notify.NewAMQP("amqp://guest:guest@"+closedAddr(t)+"/", "")
	t.Cleanup(func() { _ = n.Close() })

	err := n.Send(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amqp: dial")
}

func TestRedis_UnreachableServer(t *testing.T) {
	n := notify.NewRedis(closedAddr(t), "", "")
	t.Cleanup(func() { _ = n.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := n.Send(ctx, testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), notify.DefaultChannel)
}
