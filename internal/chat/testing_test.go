package chat

import (
	"context"
	"strings"
	"sync"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/cyberguard/internal/ai"
	"github.com/suPer8Hu/cyberguard/internal/report"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, NewRepo(db).AutoMigrate())
	return db
}

// fakeProvider streams a fixed script and remembers the last prompt.
type fakeProvider struct {
	mu        sync.Mutex
	fragments []string
	err       error
	block     bool
	calls     int
	last      []ai.Message
}

func (p *fakeProvider) record(msgs []ai.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = append([]ai.Message(nil), msgs...)
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) Last() []ai.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *fakeProvider) Chat(ctx context.Context, msgs []ai.Message) (string, error) {
	p.record(msgs)
	if p.err != nil {
		return "", p.err
	}
	return strings.Join(p.fragments, ""), nil
}

func (p *fakeProvider) StreamChat(ctx context.Context, msgs []ai.Message) <-chan ai.StreamEvent {
	p.record(msgs)
	out := make(chan ai.StreamEvent)
	send := func(ev ai.StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(out)
		for _, f := range p.fragments {
			if !send(ai.StreamEvent{Text: f}) {
				return
			}
		}
		if p.block {
			<-ctx.Done()
			return
		}
		if p.err != nil {
			send(ai.StreamEvent{Err: p.err})
			return
		}
		send(ai.StreamEvent{Done: true})
	}()
	return out
}

func newGateway(p ai.Provider) *ai.Gateway {
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		return p, nil
	})
	return ai.NewGateway(reg, ai.GatewayConfig{DefaultProvider: "fake", DefaultModel: "m1"})
}

type recordingSink struct {
	mu        sync.Mutex
	fragments []FragmentEvent
	completes []CompleteEvent
	notices   []ScamNoticeEvent
	errors    []ErrorEvent
	onFrag    func(FragmentEvent)
}

func (s *recordingSink) Fragment(ev FragmentEvent) {
	s.mu.Lock()
	s.fragments = append(s.fragments, ev)
	cb := s.onFrag
	s.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (s *recordingSink) Complete(ev CompleteEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completes = append(s.completes, ev)
}

func (s *recordingSink) ScamNotice(ev ScamNoticeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, ev)
}

func (s *recordingSink) Error(ev ErrorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, ev)
}

type countingReporter struct {
	mu      sync.Mutex
	reports []report.ScamReport
}

func (r *countingReporter) Report(_ context.Context, rep report.ScamReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return nil
}

func (r *countingReporter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}
