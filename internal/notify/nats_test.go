package notify

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	subjects []string
	bodies   [][]byte
	err      error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, data)
	return nil
}

func TestNATSSink_PublishesEnvelopePerKind(t *testing.T) {
	conn := &fakeConn{}
	sink := newNATSSink(conn, "", nil)
	sink.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	sink.Deliver(Event{Seq: 7, Kind: KindNotFound, RunID: "r1", Key: "123"})
	sink.Deliver(Done("r1", "completed", "ok"))

	require.Len(t, conn.subjects, 2)
	assert.Equal(t, "nfefetch.events.not_found", conn.subjects[0])
	assert.Equal(t, "nfefetch.events.done", conn.subjects[1])

	var env Envelope
	require.NoError(t, json.Unmarshal(conn.bodies[0], &env))
	assert.Equal(t, "nfefetch", env.Source)
	assert.Equal(t, int64(7), env.Event.Seq)
	assert.Equal(t, "123", env.Event.Key)
	assert.Equal(t, 2024, env.SentAt.Year())
}

func TestNATSSink_CustomSubjectAndFailuresSwallowed(t *testing.T) {
	conn := &fakeConn{err: errors.New("disconnected")}
	sink := newNATSSink(conn, "fiscal.nfe", nil)

	assert.Equal(t, "fiscal.nfe.progress", sink.Subject(KindProgress))
	assert.NotPanics(t, func() { sink.Deliver(Progress("r", 1, 2)) })
	assert.NoError(t, sink.Close())
}
