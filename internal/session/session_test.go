package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	starts   int
	pauses   int
	resumes  int
	ends     []EndReason
	timeouts []EndReason
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnStart:  func(Session) { r.mu.Lock(); r.starts++; r.mu.Unlock() },
		OnPause:  func(Session) { r.mu.Lock(); r.pauses++; r.mu.Unlock() },
		OnResume: func(Session) { r.mu.Lock(); r.resumes++; r.mu.Unlock() },
		OnEnd: func(_ Session, reason EndReason) {
			r.mu.Lock()
			r.ends = append(r.ends, reason)
			r.mu.Unlock()
		},
		OnTimeout: func(_ Session, reason EndReason) {
			r.mu.Lock()
			r.timeouts = append(r.timeouts, reason)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) endReasons() []EndReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EndReason(nil), r.ends...)
}

func newTestManager(cfg Config, rec *recorder) *Manager {
	m := NewManager(zerolog.Nop(), cfg, rec.hooks())
	return m
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(zerolog.Nop(), Config{}, Hooks{})
	assert.Equal(t, DefaultConfig(), m.cfg)
	_, ok := m.Current()
	assert.False(t, ok)
}

func TestStartSession_Idempotent(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(Config{}, rec)
	defer m.Close()

	first := m.StartSession()
	second := m.StartSession()

	assert.NotEmpty(t, first.ID)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, StatusActive, second.Status)
	assert.Equal(t, 1, rec.starts)
	assert.Len(t, m.History(), 1)
}

func TestEndSession_Idempotent(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(Config{}, rec)
	defer m.Close()

	m.StartSession()
	m.EndSession(ReasonUserEnded)
	ended, ok := m.Current()
	require.True(t, ok)

	m.EndSession(ReasonUserEnded)
	again, ok := m.Current()
	require.True(t, ok)

	assert.Equal(t, ended, again)
	assert.Equal(t, StatusEnded, again.Status)
	assert.False(t, again.EndTime.IsZero())
	assert.Equal(t, []EndReason{ReasonUserEnded}, rec.endReasons())
	assert.Empty(t, rec.timeouts)
}

func TestEndSession_WithoutSession(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(Config{}, rec)
	m.EndSession(ReasonUserEnded)
	assert.Empty(t, rec.endReasons())
}

func TestIdleTimeout(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(Config{IdleTimeout: 30 * time.Millisecond}, rec)
	defer m.Close()

	m.StartSession()
	require.Eventually(t, func() bool {
		return len(rec.endReasons()) == 1
	}, time.Second, 5*time.Millisecond)

	s, _ := m.Current()
	assert.Equal(t, StatusEnded, s.Status)
	assert.Equal(t, ReasonTimeout, s.EndReason)
	assert.Equal(t, []EndReason{ReasonTimeout}, rec.timeouts)
}

func TestUpdateActivity_PreventsTimeout(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(Config{IdleTimeout: 80 * time.Millisecond}, rec)
	defer m.Close()

	m.StartSession()
	for i := 0; i < 5; i++ {
		time.Sleep(50 * time.Millisecond)
		m.UpdateActivity()
	}
	assert.True(t, m.Active())
	assert.Empty(t, rec.endReasons())

	s, _ := m.Current()
	assert.Equal(t, 5, s.MessageCount)
}

func TestUpdateActivity_IgnoredWhenNotActive(t *testing.T) {
	m := newTestManager(Config{}, &recorder{})
	defer m.Close()

	m.UpdateActivity()
	m.StartSession()
	m.PauseSession()
	m.UpdateActivity()

	s, _ := m.Current()
	assert.Equal(t, 0, s.MessageCount)
}

func TestMaxDuration(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(Config{MaxDuration: 40 * time.Millisecond}, rec)
	defer m.Close()

	m.StartSession()
	require.Eventually(t, func() bool {
		return len(rec.endReasons()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []EndReason{ReasonMaxDuration}, rec.endReasons())
}

func TestPauseResume(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(Config{IdleTimeout: 40 * time.Millisecond}, rec)
	defer m.Close()

	m.StartSession()
	m.PauseSession()

	s, _ := m.Current()
	assert.Equal(t, StatusPaused, s.Status)
	assert.False(t, s.PauseTime.IsZero())

	// Timers are cancelled while paused.
	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, rec.endReasons())

	m.ResumeSession()
	s, _ = m.Current()
	assert.Equal(t, StatusActive, s.Status)
	assert.True(t, s.PauseTime.IsZero())
	assert.Equal(t, 1, rec.pauses)
	assert.Equal(t, 1, rec.resumes)

	// The idle timer is armed again after resume.
	require.Eventually(t, func() bool {
		return len(rec.endReasons()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestResume_ArmsIdleAndMaxTogether(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(Config{IdleTimeout: time.Minute, MaxDuration: 150 * time.Millisecond}, rec)
	defer m.Close()

	m.StartSession()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.PauseSession()
				m.ResumeSession()
			}
		}()
	}
	wg.Wait()

	m.mu.Lock()
	active := m.sess.Status == StatusActive
	armed := m.idleTimer != nil && m.maxTimer != nil
	m.mu.Unlock()
	if active {
		assert.True(t, armed, "active session must hold both timers")
	} else {
		m.ResumeSession()
	}

	require.Eventually(t, func() bool {
		return len(rec.endReasons()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []EndReason{ReasonMaxDuration}, rec.endReasons())
}

func TestResume_ExhaustedBudgetEnds(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(Config{IdleTimeout: time.Minute, MaxDuration: time.Minute}, rec)
	defer m.Close()

	m.StartSession()
	m.mu.Lock()
	m.activeAccum = m.cfg.MaxDuration
	m.mu.Unlock()
	m.PauseSession()
	m.ResumeSession()

	s, _ := m.Current()
	assert.Equal(t, StatusEnded, s.Status)
	assert.Equal(t, []EndReason{ReasonMaxDuration}, rec.endReasons())
	assert.Equal(t, 0, rec.resumes)
}

func TestPauseResume_InvalidStatesAreNoops(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(Config{}, rec)
	defer m.Close()

	m.ResumeSession()
	m.PauseSession()
	m.StartSession()
	m.ResumeSession()
	m.PauseSession()
	m.PauseSession()

	assert.Equal(t, 1, rec.pauses)
	assert.Equal(t, 0, rec.resumes)
}

func TestTotalDurationExcludesPause(t *testing.T) {
	m := newTestManager(Config{}, &recorder{})
	defer m.Close()

	m.StartSession()
	time.Sleep(20 * time.Millisecond)
	m.PauseSession()
	time.Sleep(100 * time.Millisecond)
	m.ResumeSession()
	m.EndSession(ReasonUserEnded)

	s, _ := m.Current()
	assert.GreaterOrEqual(t, s.TotalDuration, 20*time.Millisecond)
	assert.Less(t, s.TotalDuration, 100*time.Millisecond)
}

func TestCleanupReleasesSession(t *testing.T) {
	m := newTestManager(Config{CleanupDelay: 20 * time.Millisecond}, &recorder{})
	defer m.Close()

	m.StartSession()
	m.EndSession(ReasonUserEnded)
	_, ok := m.Current()
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := m.Current()
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestStartAfterEndCreatesNewSession(t *testing.T) {
	m := newTestManager(Config{CleanupDelay: 30 * time.Millisecond}, &recorder{})
	defer m.Close()

	first := m.StartSession()
	m.EndSession(ReasonUserEnded)
	second := m.StartSession()
	assert.NotEqual(t, first.ID, second.ID)

	// The first session's cleanup must not release the new one.
	time.Sleep(60 * time.Millisecond)
	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, second.ID, cur.ID)
}

func TestHistoryCapped(t *testing.T) {
	m := newTestManager(Config{HistorySize: 3}, &recorder{})
	defer m.Close()

	m.StartSession()
	for i := 0; i < 4; i++ {
		m.PauseSession()
		m.ResumeSession()
	}
	hist := m.History()
	require.Len(t, hist, 3)
	assert.Equal(t, StatusActive, hist[2].To)
}

func TestConcurrentEndFiresOnce(t *testing.T) {
	var ends atomic.Int32
	m := NewManager(zerolog.Nop(), Config{}, Hooks{
		OnEnd: func(Session, EndReason) { ends.Add(1) },
	})
	defer m.Close()
	m.StartSession()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.EndSession(ReasonUserEnded)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ends.Load())
}
