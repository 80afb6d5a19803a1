package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeListener stands in for the live Postgres LISTEN connection so the
// hub's fan-out logic can be exercised without a real database.
type fakeListener struct {
	mu          sync.Mutex
	subscribed  map[string]bool
	unsubscribed []string
}

func newFakeListener() *fakeListener {
	return &fakeListener{subscribed: make(map[string]bool)}
}

func (f *fakeListener) Subscribe(_ context.Context, ch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[ch] = true
	return nil
}

func (f *fakeListener) Unsubscribe(_ context.Context, ch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribed, ch)
	f.unsubscribed = append(f.unsubscribed, ch)
	return nil
}

// fakeStore is an in-memory stand-in for Store, keyed by job_id.
type fakeStore struct {
	mu      sync.Mutex
	records map[string][]Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string][]Record)}
}

func (f *fakeStore) add(jobID string, kind Kind, payload map[string]any) Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := len(f.records[jobID]) + 1
	r := Record{ID: int64(seq), JobID: jobID, Seq: seq, Kind: kind, Payload: payload, CreatedAt: time.Now()}
	f.records[jobID] = append(f.records[jobID], r)
	return r
}

func (f *fakeStore) Since(_ context.Context, jobID string, sinceSeq int) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, r := range f.records[jobID] {
		if r.Seq > sinceSeq {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) BySeq(_ context.Context, jobID string, seq int) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records[jobID] {
		if r.Seq == seq {
			return r, nil
		}
	}
	return Record{}, errNotFoundForTest
}

var errNotFoundForTest = &testError{"record not found"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func newTestHub(store *fakeStore, listener *fakeListener) *Hub {
	return &Hub{
		store:             store,
		listener:          listener,
		heartbeatInterval: time.Hour,
		logger:            discardLogger(),
		subs:              make(map[string][]*subscription),
	}
}

func notifyEnvelope(jobID string, seq int) []byte {
	b, _ := json.Marshal(map[string]any{"job_id": jobID, "seq": seq})
	return b
}

func TestHub_SubscribeReplaysBacklogThenCloses(t *testing.T) {
	store := newFakeStore()
	store.add("job-1", KindProgress, map[string]any{"current": 1.0, "total": 5.0})
	store.add("job-1", KindCompleted, map[string]any{"result": "ok"})

	h := newTestHub(store, newFakeListener())
	ch, cancel, err := h.Subscribe(context.Background(), "job-1", 0)
	require.NoError(t, err)
	defer cancel()

	first := <-ch
	require.Equal(t, KindProgress, first.Record.Kind)

	second := <-ch
	require.Equal(t, KindCompleted, second.Record.Kind)

	_, open := <-ch
	require.False(t, open, "channel must close once a terminal event is replayed")
}

func TestHub_SubscribeWithNoBacklogStaysOpenForLiveEvents(t *testing.T) {
	store := newFakeStore()
	listener := newFakeListener()
	h := newTestHub(store, listener)

	ch, cancel, err := h.Subscribe(context.Background(), "job-2", 0)
	require.NoError(t, err)
	defer cancel()

	require.True(t, listener.subscribed["job_events:job-2"])

	r := store.add("job-2", KindProgress, map[string]any{"current": 1.0, "total": 5.0})
	h.onNotify("", notifyEnvelope("job-2", r.Seq))

	ev := <-ch
	require.Equal(t, KindProgress, ev.Record.Kind)
}

func TestHub_LiveTerminalEventClosesStreamAndUnlistens(t *testing.T) {
	store := newFakeStore()
	listener := newFakeListener()
	h := newTestHub(store, listener)

	ch, cancel, err := h.Subscribe(context.Background(), "job-3", 0)
	require.NoError(t, err)
	defer cancel()

	r := store.add("job-3", KindFailed, map[string]any{"error": "boom"})
	h.onNotify("", notifyEnvelope("job-3", r.Seq))

	ev := <-ch
	require.Equal(t, KindFailed, ev.Record.Kind)

	_, open := <-ch
	require.False(t, open)

	require.Contains(t, listener.unsubscribed, "job_events:job-3")
}

func TestHub_CancelUnsubscribesWithoutTerminalEvent(t *testing.T) {
	store := newFakeStore()
	listener := newFakeListener()
	h := newTestHub(store, listener)

	_, cancel, err := h.Subscribe(context.Background(), "job-4", 0)
	require.NoError(t, err)
	require.True(t, listener.subscribed["job_events:job-4"])

	cancel()

	require.False(t, listener.subscribed["job_events:job-4"])
}

func TestHub_LateSubscriberResumesFromLastSeq(t *testing.T) {
	store := newFakeStore()
	store.add("job-5", KindProgress, map[string]any{"current": 1.0, "total": 3.0})
	store.add("job-5", KindProgress, map[string]any{"current": 2.0, "total": 3.0})
	store.add("job-5", KindCompleted, map[string]any{"result": "ok"})

	h := newTestHub(store, newFakeListener())
	ch, cancel, err := h.Subscribe(context.Background(), "job-5", 1)
	require.NoError(t, err)
	defer cancel()

	first := <-ch
	require.Equal(t, 2, first.Record.Seq)
	second := <-ch
	require.Equal(t, KindCompleted, second.Record.Kind)
}
