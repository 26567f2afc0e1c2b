package modmail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gatekeeper/audit"
	"gatekeeper/model"
	"gatekeeper/utils/database/dbtest"
	"gatekeeper/utils/logger"

	"github.com/jmoiron/sqlx"
)

var fixedNow = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

type fakeChannel struct {
	ref     string
	factory *fakeFactory
}

func (c *fakeChannel) Ref() string { return c.ref }

func (c *fakeChannel) Send(_ context.Context, content string) error {
	c.factory.mu.Lock()
	defer c.factory.mu.Unlock()
	if c.factory.sendErr != nil {
		return c.factory.sendErr
	}
	c.factory.sent[c.ref] = append(c.factory.sent[c.ref], content)
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	created int
	delay   time.Duration
	failErr error
	sendErr error
	sent    map[string][]string
	deleted []string
	// afterCreate runs once the channel exists, before the open binds it.
	afterCreate func()
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{sent: map[string][]string{}}
}

func (f *fakeFactory) CreateChannel(_ context.Context, guildID string, _ []string) (model.Channel, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.created++
	ch := &fakeChannel{ref: fmt.Sprintf("%s-thread-%d", guildID, f.created), factory: f}
	if f.afterCreate != nil {
		f.afterCreate()
	}
	return ch, nil
}

func (f *fakeFactory) DeleteChannel(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeFactory) Channel(ref string) model.Channel {
	return &fakeChannel{ref: ref, factory: f}
}

func (f *fakeFactory) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type fakeDM struct {
	mu   sync.Mutex
	err  error
	sent map[string][]string
}

func (d *fakeDM) SendDirectMessage(_ context.Context, userID, content string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if d.sent == nil {
		d.sent = map[string][]string{}
	}
	d.sent[userID] = append(d.sent[userID], content)
	return nil
}

type fakeSink struct {
	mu   sync.Mutex
	err  error
	docs map[int64]string
}

func (s *fakeSink) WriteTranscript(_ context.Context, ticket model.Ticket, document string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.docs == nil {
		s.docs = map[int64]string{}
	}
	s.docs[ticket.ID] = document
	return nil
}

func (s *fakeSink) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

var errSinkDown = errors.New("log channel unavailable")

type harness struct {
	db        *sqlx.DB
	manager   *Manager
	index     *OpenTicketIndex
	buffer    *Buffer
	factory   *fakeFactory
	dm        *fakeDM
	sink      *fakeSink
	auditLogs *audit.Writer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.Open(t)
	clock := func() time.Time { return fixedNow }

	w := audit.NewWriter(db).WithClock(clock)
	sink := &fakeSink{}
	buf := NewBuffer(db, sink, w).WithClock(clock).WithLogger(logger.Discard())
	idx := NewOpenTicketIndex()
	factory := newFakeFactory()
	dm := &fakeDM{}
	m := NewManager(db, idx, factory, dm, buf, w).WithClock(clock).WithLogger(logger.Discard())
	return &harness{db: db, manager: m, index: idx, buffer: buf, factory: factory, dm: dm, sink: sink, auditLogs: w}
}

func (h *harness) actions(t *testing.T, action string) []model.ActionLogEntry {
	t.Helper()
	entries, err := h.auditLogs.List(context.Background(), audit.Filter{Action: action})
	if err != nil {
		t.Fatalf("list action log: %v", err)
	}
	return entries
}
