package handler

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/alem-hub/study-buddy/internal/application/timer"
)

// MockContext stands in for a telebot update in a private chat.
type MockContext struct {
	tele.Context
	ChatID     int64
	MsgText    string
	PayloadVal string

	mu   sync.Mutex
	Sent []string
}

func newContext(chatID int64, text string) *MockContext {
	_, payload, _ := strings.Cut(text, " ")
	return &MockContext{ChatID: chatID, MsgText: text, PayloadVal: payload}
}

func (m *MockContext) Message() *tele.Message {
	return &tele.Message{Text: m.MsgText, Payload: m.PayloadVal, Chat: m.Chat(), Sender: m.Sender()}
}

func (m *MockContext) Chat() *tele.Chat {
	return &tele.Chat{ID: m.ChatID, Type: tele.ChatPrivate}
}

func (m *MockContext) Sender() *tele.User {
	return &tele.User{ID: m.ChatID}
}

func (m *MockContext) Send(what interface{}, opts ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, fmt.Sprint(what))
	return nil
}

func (m *MockContext) LastSent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return ""
	}
	return m.Sent[len(m.Sent)-1]
}

// fakeMessenger records sends and edits. Messages get increasing IDs.
type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	sent    []string
	edits   map[int][]string
	editErr error
	calls   int

	// onSend runs after a send is recorded, outside the lock.
	onSend func(text string)
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{edits: make(map[int][]string)}
}

func (f *fakeMessenger) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	f.nextID++
	f.sent = append(f.sent, fmt.Sprint(what))
	msg := &tele.Message{ID: f.nextID, Text: fmt.Sprint(what)}
	msg.Chat, _ = to.(*tele.Chat)
	onSend := f.onSend
	f.mu.Unlock()

	if onSend != nil {
		onSend(msg.Text)
	}
	return msg, nil
}

func (f *fakeMessenger) Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.editErr != nil {
		return nil, f.editErr
	}
	m := msg.(*tele.Message)
	f.edits[m.ID] = append(f.edits[m.ID], fmt.Sprint(what))
	return m, nil
}

func (f *fakeMessenger) setEditErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editErr = err
}

func (f *fakeMessenger) EditCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeMessenger) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeMessenger) Edits(id int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.edits[id]...)
}

func (f *fakeMessenger) LastEdit(id int) string {
	edits := f.Edits(id)
	if len(edits) == 0 {
		return ""
	}
	return edits[len(edits)-1]
}

// ══════════════════════════════════════════════════════════════════════════════
// CLOCK AND TICKERS
// ══════════════════════════════════════════════════════════════════════════════

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type manualTicker struct {
	c    chan time.Time
	once sync.Once
	done chan struct{}
}

func (t *manualTicker) C() <-chan time.Time { return t.c }

func (t *manualTicker) Stop() { t.once.Do(func() { close(t.done) }) }

type tickerFactory struct {
	created chan *manualTicker
}

func (f *tickerFactory) New(time.Duration) timer.Ticker {
	t := &manualTicker{c: make(chan time.Time), done: make(chan struct{})}
	f.created <- t
	return t
}

// tick delivers one tick unless the loop already exited.
func (t *manualTicker) tick(now time.Time) {
	select {
	case t.c <- now:
	case <-t.done:
	}
}
