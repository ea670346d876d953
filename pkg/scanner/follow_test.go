package scanner

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/supporttools/restime/pkg/classifier"
	"github.com/supporttools/restime/pkg/logtime"
	"github.com/supporttools/restime/pkg/types"
)

// mockOpener serves a different log body on each open.
type mockOpener struct {
	mu     sync.Mutex
	bodies []string
	opens  int
	err    error
}

func (m *mockOpener) open(path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.err != nil {
		return nil, m.err
	}
	body := m.bodies[len(m.bodies)-1]
	if m.opens <= len(m.bodies) {
		body = m.bodies[m.opens-1]
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m *mockOpener) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

type mockWaiter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (w *mockWaiter) Wait(ctx context.Context, limit time.Duration) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	return true, w.err
}

const beforeKickoff = `May 29 17:00:00 db1 recond: #Force a TPA restart.
May 29 17:00:01 db1 tpa: Restart reason is: warm restart
May 29 17:02:00 db1 tpa: Logons are enabled
`

const afterKickoffPartial = beforeKickoff + `May 29 18:00:05 db1 recond: #Force a TPA restart.
May 29 18:00:06 db1 tpa: Restart reason is: force restart
`

const afterKickoffComplete = afterKickoffPartial + `May 29 18:00:30 db1 recond: #RESET START: "recond -L"
May 29 18:03:00 db1 tpa: Logons are enabled
`

var kickoff = time.Date(2016, time.May, 29, 18, 0, 0, 0, time.UTC)

func newTestFollower(opener *mockOpener, waiter Waiter) *Follower {
	return &Follower{
		Path:       "/var/log/messages",
		Options:    Options{Parser: &logtime.Parser{Year: 2016, Location: time.UTC}},
		RetryDelay: time.Millisecond,
		Waiter:     waiter,
		Open:       opener.open,
	}
}

func TestLocateFirstAttempt(t *testing.T) {
	opener := &mockOpener{bodies: []string{afterKickoffComplete}}
	waiter := &mockWaiter{}
	f := newTestFollower(opener, waiter)

	rec, err := f.Locate(context.Background(), kickoff)
	if err != nil {
		t.Fatalf("Locate() error: %v", err)
	}
	if rec.Kind != types.Forced || rec.Elapsed != 2*time.Minute+55*time.Second {
		t.Errorf("record = %+v", rec)
	}
	if opener.count() != 1 || waiter.calls != 0 {
		t.Errorf("opens = %d, waits = %d; want 1, 0", opener.count(), waiter.calls)
	}
}

func TestLocateIgnoresRestartsBeforeKickoff(t *testing.T) {
	opener := &mockOpener{bodies: []string{beforeKickoff, beforeKickoff}}
	f := newTestFollower(opener, &mockWaiter{})

	_, err := f.Locate(context.Background(), kickoff)
	if !errors.Is(err, ErrLogLag) || !errors.Is(err, ErrRestartNotFound) {
		t.Fatalf("error = %v, want ErrLogLag wrapping ErrRestartNotFound", err)
	}
}

// TestLocateRetriesOnce covers the log lagging behind the restart: the first
// read sees only part of the restart, the retry sees all of it.
func TestLocateRetriesOnce(t *testing.T) {
	opener := &mockOpener{bodies: []string{afterKickoffPartial, afterKickoffComplete}}
	waiter := &mockWaiter{}
	f := newTestFollower(opener, waiter)

	rec, err := f.Locate(context.Background(), kickoff)
	if err != nil {
		t.Fatalf("Locate() error: %v", err)
	}
	if rec.Kind != types.Forced {
		t.Errorf("kind = %v, want forced", rec.Kind)
	}
	if opener.count() != 2 || waiter.calls != 1 {
		t.Errorf("opens = %d, waits = %d; want 2, 1", opener.count(), waiter.calls)
	}
}

func TestLocateGivesUpAfterOneRetry(t *testing.T) {
	opener := &mockOpener{bodies: []string{afterKickoffPartial, afterKickoffPartial, afterKickoffComplete}}
	f := newTestFollower(opener, &mockWaiter{})

	_, err := f.Locate(context.Background(), kickoff)
	if !errors.Is(err, ErrLogLag) {
		t.Fatalf("error = %v, want ErrLogLag", err)
	}
	if !errors.Is(err, classifier.ErrCompletionNotFound) {
		t.Errorf("error = %v, want it to wrap ErrCompletionNotFound", err)
	}
	if opener.count() != 2 {
		t.Errorf("opens = %d, want exactly 2", opener.count())
	}
}

func TestLocateMalformedLineIsFatal(t *testing.T) {
	body := afterKickoffPartial + "garbage without a timestamp\n"
	opener := &mockOpener{bodies: []string{body, afterKickoffComplete}}
	waiter := &mockWaiter{}
	f := newTestFollower(opener, waiter)

	_, err := f.Locate(context.Background(), kickoff)
	if !errors.Is(err, logtime.ErrMalformedTimestamp) {
		t.Fatalf("error = %v, want ErrMalformedTimestamp", err)
	}
	if errors.Is(err, ErrLogLag) {
		t.Error("malformed timestamp should not be reported as log lag")
	}
	if opener.count() != 1 || waiter.calls != 0 {
		t.Errorf("opens = %d, waits = %d; want 1, 0", opener.count(), waiter.calls)
	}
}

func TestLocateSkipsLinesWithoutTimestampBeforeKickoff(t *testing.T) {
	body := strings.Replace(afterKickoffComplete,
		"May 29 17:00:01 db1",
		"    continued from the previous line\nMay 29 17:00:01 db1", 1)
	opener := &mockOpener{bodies: []string{body}}
	waiter := &mockWaiter{}
	f := newTestFollower(opener, waiter)

	rec, err := f.Locate(context.Background(), kickoff)
	if err != nil {
		t.Fatalf("Locate() error: %v", err)
	}
	if rec.Kind != types.Forced {
		t.Errorf("kind = %v, want forced", rec.Kind)
	}
	if opener.count() != 1 || waiter.calls != 0 {
		t.Errorf("opens = %d, waits = %d; want 1, 0", opener.count(), waiter.calls)
	}
}

// An unterminated last line is still being written: the follower waits and
// rereads instead of failing on it.
func TestLocateUnflushedLastLineIsRetried(t *testing.T) {
	body := afterKickoffPartial + "May 29 18:0"
	opener := &mockOpener{bodies: []string{body, afterKickoffComplete}}
	waiter := &mockWaiter{}
	f := newTestFollower(opener, waiter)

	rec, err := f.Locate(context.Background(), kickoff)
	if err != nil {
		t.Fatalf("Locate() error: %v", err)
	}
	if rec.Kind != types.Forced {
		t.Errorf("kind = %v, want forced", rec.Kind)
	}
	if opener.count() != 2 || waiter.calls != 1 {
		t.Errorf("opens = %d, waits = %d; want 2, 1", opener.count(), waiter.calls)
	}
}

func TestLocateOpenError(t *testing.T) {
	opener := &mockOpener{err: os.ErrNotExist}
	f := newTestFollower(opener, &mockWaiter{})

	_, err := f.Locate(context.Background(), kickoff)
	if !errors.Is(err, os.ErrNotExist) || !errors.Is(err, ErrLogLag) {
		t.Fatalf("error = %v", err)
	}
	if opener.count() != 2 {
		t.Errorf("opens = %d, want 2", opener.count())
	}
}

func TestLocateWaiterFailureFallsBackToSleep(t *testing.T) {
	opener := &mockOpener{bodies: []string{afterKickoffPartial, afterKickoffComplete}}
	waiter := &mockWaiter{err: errors.New("inotify limit reached")}
	f := newTestFollower(opener, waiter)

	if _, err := f.Locate(context.Background(), kickoff); err != nil {
		t.Fatalf("Locate() error: %v", err)
	}
}

func TestLocateHonorsContext(t *testing.T) {
	opener := &mockOpener{bodies: []string{afterKickoffPartial, afterKickoffComplete}}
	f := newTestFollower(opener, nil)
	f.RetryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Locate(ctx, kickoff)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestLocateReadsRealFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages")
	if err := os.WriteFile(path, []byte(afterKickoffComplete), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := NewFollower(path, Options{Parser: &logtime.Parser{Year: 2016, Location: time.UTC}}, time.Millisecond)
	if err != nil {
		t.Fatalf("NewFollower() error: %v", err)
	}
	rec, err := f.Locate(context.Background(), kickoff)
	if err != nil {
		t.Fatalf("Locate() error: %v", err)
	}
	if rec.Kind != types.Forced {
		t.Errorf("kind = %v, want forced", rec.Kind)
	}
}
