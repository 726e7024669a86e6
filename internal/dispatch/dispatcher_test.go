package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/apysky/broadcast-scheduler/internal/bridge"
	"github.com/apysky/broadcast-scheduler/internal/model"
	"github.com/apysky/broadcast-scheduler/pkg/redis"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) totalSlept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total time.Duration
	for _, d := range c.sleeps {
		total += d
	}
	return total
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduledMessage, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ScheduledMessage), args.Error(1)
}

func (m *MockStore) Get(ctx context.Context, id string) (*model.ScheduledMessage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScheduledMessage), args.Error(1)
}

func (m *MockStore) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	args := m.Called(ctx, id, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) SaveProgress(ctx context.Context, id string, attempts map[string]int, results map[string]model.RecipientResult, now time.Time) error {
	args := m.Called(ctx, id, attempts, results, now)
	return args.Error(0)
}

func (m *MockStore) Finalize(ctx context.Context, id string, status model.ScheduleStatus, attempts map[string]int, results map[string]model.RecipientResult, now time.Time) error {
	args := m.Called(ctx, id, status, attempts, results, now)
	return args.Error(0)
}

// fakeSender replays a scripted sequence of results per recipient.
type fakeSender struct {
	mu       sync.Mutex
	ready    bool
	scripts  map[string][]*bridge.SendResult
	calls    map[string]int
	requests []*bridge.SendRequest
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		ready:   true,
		scripts: make(map[string][]*bridge.SendResult),
		calls:   make(map[string]int),
	}
}

func (s *fakeSender) script(recipient string, results ...*bridge.SendResult) {
	s.scripts[recipient] = results
}

func (s *fakeSender) Ready(ctx context.Context) bool { return s.ready }

func (s *fakeSender) Send(ctx context.Context, req *bridge.SendRequest) (*bridge.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.calls[req.Recipient]
	s.calls[req.Recipient] = n + 1
	s.requests = append(s.requests, req)
	script := s.scripts[req.Recipient]
	if n < len(script) {
		return script[n], nil
	}
	return &bridge.SendResult{Success: true}, nil
}

type fakeEvents struct {
	mu        sync.Mutex
	finalized []*model.ScheduledMessage
	failed    []string
}

func (e *fakeEvents) PublishFinalized(m *model.ScheduledMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finalized = append(e.finalized, m)
}

func (e *fakeEvents) PublishRecipientFailed(scheduleID, recipient, reason string, attempts int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = append(e.failed, recipient)
}

func setupTestLocker(t *testing.T) (*Locker, redis.Adapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return NewLocker(adapter, time.Minute), adapter
}

func transient(reason string) *bridge.SendResult {
	return &bridge.SendResult{ErrorKind: bridge.ErrorKindTransient, Reason: reason}
}

func permanent(reason string) *bridge.SendResult {
	return &bridge.SendResult{ErrorKind: bridge.ErrorKindPermanent, Reason: reason}
}

func dueSchedule(recipients []string, delaySeconds int) *model.ScheduledMessage {
	return &model.ScheduledMessage{
		ID:           "sched-" + recipients[0],
		Recipients:   recipients,
		Body:         "hello",
		DelaySeconds: delaySeconds,
		Status:       model.ScheduleStatusPending,
	}
}

func TestDispatcher_PacingBetweenRecipients(t *testing.T) {
	locker, _ := setupTestLocker(t)
	store := new(MockStore)
	sender := newFakeSender()
	events := &fakeEvents{}
	clock := newFakeClock()

	d := NewDispatcher(store, sender, locker, events, clock, Config{
		MaxAttempts:  3,
		RetryBackoff: time.Second,
	})

	m := dueSchedule([]string{"+1111111111", "+2222222222", "+3333333333"}, 2)
	store.On("Claim", mock.Anything, m.ID, mock.Anything).Return(true, nil)
	store.On("Get", mock.Anything, m.ID).Return(m, nil)
	store.On("Finalize", mock.Anything, m.ID, model.ScheduleStatusCompleted, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	d.Process(context.Background(), m)

	// 3 recipients, all first-attempt successes: exactly 2 pacing gaps.
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.sleeps)
	assert.Equal(t, 4*time.Second, clock.totalSlept())
	// No failures, so nothing is persisted before finalize.
	store.AssertNotCalled(t, "SaveProgress", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}

func TestDispatcher_RetryBoundAndBackoff(t *testing.T) {
	locker, _ := setupTestLocker(t)
	store := new(MockStore)
	sender := newFakeSender()
	events := &fakeEvents{}
	clock := newFakeClock()

	d := NewDispatcher(store, sender, locker, events, clock, Config{
		MaxAttempts:  3,
		RetryBackoff: time.Second,
	})

	m := dueSchedule([]string{"+1111111111"}, 5)
	sender.script("+1111111111", transient("busy"), transient("busy"), transient("busy"), transient("busy"))

	store.On("Claim", mock.Anything, m.ID, mock.Anything).Return(true, nil)
	store.On("Get", mock.Anything, m.ID).Return(m, nil)
	store.On("SaveProgress", mock.Anything, m.ID, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store.On("Finalize", mock.Anything, m.ID, model.ScheduleStatusFailed, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	d.Process(context.Background(), m)

	// Exactly MaxAttempts sends, with a fixed backoff before each retry.
	assert.Equal(t, 3, sender.calls["+1111111111"])
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.sleeps)
	assert.Equal(t, []string{"+1111111111"}, events.failed)
	require.Len(t, events.finalized, 1)
	assert.Equal(t, model.ScheduleStatusFailed, events.finalized[0].Status)
	store.AssertExpectations(t)
}

func TestDispatcher_PermanentFailureDoesNotRetry(t *testing.T) {
	locker, _ := setupTestLocker(t)
	store := new(MockStore)
	sender := newFakeSender()
	events := &fakeEvents{}
	clock := newFakeClock()

	d := NewDispatcher(store, sender, locker, events, clock, DefaultConfig())

	m := dueSchedule([]string{"+1111111111"}, 5)
	sender.script("+1111111111", permanent("recipient_unknown"))

	store.On("Claim", mock.Anything, m.ID, mock.Anything).Return(true, nil)
	store.On("Get", mock.Anything, m.ID).Return(m, nil)
	store.On("SaveProgress", mock.Anything, m.ID, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store.On("Finalize", mock.Anything, m.ID, model.ScheduleStatusFailed, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	d.Process(context.Background(), m)

	assert.Equal(t, 1, sender.calls["+1111111111"])
	assert.Empty(t, clock.sleeps)
	store.AssertExpectations(t)
}

func TestDispatcher_PartialSuccessCompletes(t *testing.T) {
	locker, _ := setupTestLocker(t)
	store := new(MockStore)
	sender := newFakeSender()
	events := &fakeEvents{}
	clock := newFakeClock()

	d := NewDispatcher(store, sender, locker, events, clock, Config{
		MaxAttempts:  2,
		RetryBackoff: time.Second,
	})

	m := dueSchedule([]string{"+1111111111", "+2222222222"}, 1)
	sender.script("+1111111111", transient("busy"), transient("busy"))

	store.On("Claim", mock.Anything, m.ID, mock.Anything).Return(true, nil)
	store.On("Get", mock.Anything, m.ID).Return(m, nil)
	store.On("SaveProgress", mock.Anything, m.ID, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	var finalAttempts map[string]int
	var finalResults map[string]model.RecipientResult
	store.On("Finalize", mock.Anything, m.ID, model.ScheduleStatusCompleted, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			finalAttempts = args.Get(3).(map[string]int)
			finalResults = args.Get(4).(map[string]model.RecipientResult)
		}).
		Return(nil)

	d.Process(context.Background(), m)

	require.NotNil(t, finalResults)
	assert.False(t, finalResults["+1111111111"].Success)
	assert.Equal(t, "busy", finalResults["+1111111111"].Error)
	assert.True(t, finalResults["+2222222222"].Success)
	assert.Equal(t, 2, finalAttempts["+1111111111"])
	assert.Equal(t, 1, finalAttempts["+2222222222"])
	// Only the failed recipient triggers a mid-batch write.
	store.AssertNumberOfCalls(t, "SaveProgress", 1)
	store.AssertExpectations(t)
}

func TestDispatcher_DispatchesReloadedRecordAfterClaim(t *testing.T) {
	locker, _ := setupTestLocker(t)
	store := new(MockStore)
	sender := newFakeSender()
	events := &fakeEvents{}
	clock := newFakeClock()

	d := NewDispatcher(store, sender, locker, events, clock, DefaultConfig())

	// The due scan handed out a snapshot, then an edit landed while the
	// record was still pending. The claimed row is what must be sent.
	snapshot := dueSchedule([]string{"+1111111111", "+2222222222"}, 5)
	current := *snapshot
	current.Body = "second draft"
	current.DelaySeconds = 1
	current.Status = model.ScheduleStatusInProgress

	store.On("Claim", mock.Anything, snapshot.ID, mock.Anything).Return(true, nil)
	store.On("Get", mock.Anything, snapshot.ID).Return(&current, nil)
	store.On("Finalize", mock.Anything, snapshot.ID, model.ScheduleStatusCompleted, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	d.Process(context.Background(), snapshot)

	require.Len(t, sender.requests, 2)
	assert.Equal(t, "second draft", sender.requests[0].Body)
	assert.Equal(t, "second draft", sender.requests[1].Body)
	// Pacing follows the reloaded delay, not the snapshot's.
	assert.Equal(t, []time.Duration{time.Second}, clock.sleeps)
	store.AssertExpectations(t)
}

func TestDispatcher_ReloadFailureFallsBackToSnapshot(t *testing.T) {
	locker, _ := setupTestLocker(t)
	store := new(MockStore)
	sender := newFakeSender()
	events := &fakeEvents{}
	clock := newFakeClock()

	d := NewDispatcher(store, sender, locker, events, clock, DefaultConfig())

	m := dueSchedule([]string{"+1111111111"}, 5)
	store.On("Claim", mock.Anything, m.ID, mock.Anything).Return(true, nil)
	store.On("Get", mock.Anything, m.ID).Return(nil, assert.AnError)
	store.On("Finalize", mock.Anything, m.ID, model.ScheduleStatusCompleted, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	d.Process(context.Background(), m)

	require.Len(t, sender.requests, 1)
	assert.Equal(t, "hello", sender.requests[0].Body)
	store.AssertExpectations(t)
}

func TestDispatcher_ClaimRejectedSendsNothing(t *testing.T) {
	locker, _ := setupTestLocker(t)
	store := new(MockStore)
	sender := newFakeSender()
	events := &fakeEvents{}
	clock := newFakeClock()

	d := NewDispatcher(store, sender, locker, events, clock, DefaultConfig())

	m := dueSchedule([]string{"+1111111111"}, 5)
	store.On("Claim", mock.Anything, m.ID, mock.Anything).Return(false, nil)

	d.Process(context.Background(), m)

	assert.Zero(t, sender.calls["+1111111111"])
	assert.Empty(t, events.finalized)
	store.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_LockHeldSkipsRecord(t *testing.T) {
	locker, adapter := setupTestLocker(t)
	store := new(MockStore)
	sender := newFakeSender()
	events := &fakeEvents{}
	clock := newFakeClock()

	d := NewDispatcher(store, sender, locker, events, clock, DefaultConfig())

	m := dueSchedule([]string{"+1111111111"}, 5)
	_, err := adapter.SetNX(lockKeyPrefix+m.ID, []byte("held"), time.Minute)
	require.NoError(t, err)

	d.Process(context.Background(), m)

	assert.Zero(t, sender.calls["+1111111111"])
	store.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_BridgeNotReadySkipsTick(t *testing.T) {
	locker, _ := setupTestLocker(t)
	store := new(MockStore)
	sender := newFakeSender()
	sender.ready = false
	events := &fakeEvents{}
	clock := newFakeClock()

	d := NewDispatcher(store, sender, locker, events, clock, DefaultConfig())

	d.Tick(context.Background())

	store.AssertNotCalled(t, "ListDue", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, int64(1), d.Stats().SkippedTicks.Load())
}

func TestDispatcher_TickProcessesDueInline(t *testing.T) {
	locker, _ := setupTestLocker(t)
	store := new(MockStore)
	sender := newFakeSender()
	events := &fakeEvents{}
	clock := newFakeClock()

	d := NewDispatcher(store, sender, locker, events, clock, DefaultConfig())

	m := dueSchedule([]string{"+1111111111"}, 1)
	store.On("ListDue", mock.Anything, mock.Anything, 50).Return([]*model.ScheduledMessage{m}, nil)
	store.On("Claim", mock.Anything, m.ID, mock.Anything).Return(true, nil)
	store.On("Get", mock.Anything, m.ID).Return(m, nil)
	store.On("Finalize", mock.Anything, m.ID, model.ScheduleStatusCompleted, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	d.Tick(context.Background())

	assert.Equal(t, 1, sender.calls["+1111111111"])
	require.Len(t, events.finalized, 1)
	assert.Equal(t, model.ScheduleStatusCompleted, events.finalized[0].Status)
	store.AssertExpectations(t)
}
