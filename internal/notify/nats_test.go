package notify

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/x360make/internal/config"
	"git.home.luguber.info/inful/x360make/internal/pipeline"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu      sync.Mutex
	msgs    []message
	fail    error
	drained bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.msgs = append(f.msgs, message{subject, data})
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestPublisherObserver(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "", slog.Default())

	p.OnStateChange(pipeline.Transition{JobID: "j1", Source: "./src", From: pipeline.StateIdle, To: pipeline.StateCompiling, At: time.Now()})
	p.OnBuildComplete(&pipeline.Result{JobID: "j1", Source: "./src", State: pipeline.StateFailed, Duration: 3 * time.Second, Err: errors.New("link failed")})

	require.Len(t, fc.msgs, 2)
	require.Equal(t, config.DefaultNATSSubject+".state_changed", fc.msgs[0].subject)
	require.Equal(t, config.DefaultNATSSubject+".build_completed", fc.msgs[1].subject)

	var ev BuildEvent
	require.NoError(t, json.Unmarshal(fc.msgs[1].data, &ev))
	require.Equal(t, "failed", ev.State)
	require.Equal(t, int64(3000), ev.DurationMS)
	require.Equal(t, "link failed", ev.Error)
	require.False(t, ev.Timestamp.IsZero())

	require.NoError(t, p.Close())
	require.True(t, fc.drained)
}

func TestPublisherSwallowsFailures(t *testing.T) {
	fc := &fakeConn{fail: errors.New("no responders")}
	p := newPublisher(fc, "builds", slog.Default())
	require.Error(t, p.Publish(BuildEvent{Type: EventStateChanged}))
	p.OnBuildComplete(&pipeline.Result{JobID: "x"})
}

func TestNewPublisherRequiresURL(t *testing.T) {
	_, err := NewPublisher(config.NotifyConfig{}, nil)
	require.Error(t, err)
}
