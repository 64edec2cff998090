package collab

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTitleDelay is how long the title must sit unchanged before it
	// is written back.
	DefaultTitleDelay = 1500 * time.Millisecond
	// DefaultContentDelay is the same window for document content. Content
	// changes arrive on every keystroke, so it gets a longer one.
	DefaultContentDelay = 2000 * time.Millisecond
)

// DocumentSaver persists partial document updates.
type DocumentSaver interface {
	UpdateDocument(ctx context.Context, docID string, patch DocumentPatch) error
}

type saveState int

const (
	stateIdle saveState = iota
	statePending
	stateInFlight
	stateInFlightQueued
)

type fieldRunner struct {
	delay time.Duration
	state saveState
	timer *time.Timer
}

// Autosave debounces title and content edits and writes each back as its own
// partial update. Each field has at most one save in flight; edits that land
// while a save is running are queued and flushed as a single follow-up with
// whatever value is latest when the timer next fires.
type Autosave struct {
	saver DocumentSaver
	docID string

	// CanWrite gates every save. When it reports false the pending edit is
	// dropped silently; a viewer's stray keystrokes never hit the API.
	canWrite func() bool

	// onResult, when set, observes the outcome of each completed save.
	onResult func(field string, err error)

	mu      sync.Mutex
	closed  bool
	title   fieldRunner
	content fieldRunner

	latestTitle   string
	lastSaved     string
	latestContent json.RawMessage

	wg sync.WaitGroup
}

type AutosaveOption func(*Autosave)

// WithDelays overrides the debounce windows, mainly for tests.
func WithDelays(title, content time.Duration) AutosaveOption {
	return func(a *Autosave) {
		a.title.delay = title
		a.content.delay = content
	}
}

// WithResultHook registers a callback invoked after every save attempt.
func WithResultHook(fn func(field string, err error)) AutosaveOption {
	return func(a *Autosave) { a.onResult = fn }
}

func NewAutosave(saver DocumentSaver, docID string, canWrite func() bool, opts ...AutosaveOption) *Autosave {
	if canWrite == nil {
		canWrite = func() bool { return true }
	}
	a := &Autosave{
		saver:    saver,
		docID:    docID,
		canWrite: canWrite,
		title:    fieldRunner{delay: DefaultTitleDelay},
		content:  fieldRunner{delay: DefaultContentDelay},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetTitle records a title edit and restarts the title debounce window.
func (a *Autosave) SetTitle(title string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.latestTitle = title
	a.schedule(&a.title, a.fireTitle)
}

// SetContent records a content edit and restarts the content debounce window.
func (a *Autosave) SetContent(content json.RawMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.latestContent = content
	a.schedule(&a.content, a.fireContent)
}

// schedule is called with a.mu held. A pending timer is pushed back; a save
// already in flight is marked so a follow-up fires when it completes.
func (a *Autosave) schedule(f *fieldRunner, fire func()) {
	switch f.state {
	case stateIdle:
		f.state = statePending
		f.timer = time.AfterFunc(f.delay, fire)
	case statePending:
		f.timer.Reset(f.delay)
	case stateInFlight:
		f.state = stateInFlightQueued
	case stateInFlightQueued:
		// Already queued; the latest value is picked up when it fires.
	}
}

func (a *Autosave) fireTitle() {
	a.mu.Lock()
	if a.closed || a.title.state != statePending {
		a.mu.Unlock()
		return
	}
	title := a.latestTitle
	trimmed := strings.TrimSpace(title)
	if !a.canWrite() || trimmed == "" || trimmed == a.lastSaved {
		a.title.state = stateIdle
		a.mu.Unlock()
		return
	}
	a.title.state = stateInFlight
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := a.saver.UpdateDocument(context.Background(), a.docID, DocumentPatch{Title: &trimmed})

		a.mu.Lock()
		if err == nil {
			a.lastSaved = trimmed
		}
		closed := a.closed
		a.finish(&a.title, a.fireTitle)
		a.mu.Unlock()

		if a.onResult != nil && !closed {
			a.onResult("title", err)
		}
	}()
}

func (a *Autosave) fireContent() {
	a.mu.Lock()
	if a.closed || a.content.state != statePending {
		a.mu.Unlock()
		return
	}
	content := a.latestContent
	if !a.canWrite() || content == nil {
		a.content.state = stateIdle
		a.mu.Unlock()
		return
	}
	a.content.state = stateInFlight
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := a.saver.UpdateDocument(context.Background(), a.docID, DocumentPatch{Content: content})

		a.mu.Lock()
		closed := a.closed
		a.finish(&a.content, a.fireContent)
		a.mu.Unlock()

		if a.onResult != nil && !closed {
			a.onResult("content", err)
		}
	}()
}

// finish is called with a.mu held once a save returns. An edit queued behind
// the save restarts the debounce window instead of saving immediately.
func (a *Autosave) finish(f *fieldRunner, fire func()) {
	if a.closed {
		f.state = stateIdle
		return
	}
	if f.state == stateInFlightQueued {
		f.state = statePending
		f.timer = time.AfterFunc(f.delay, fire)
		return
	}
	f.state = stateIdle
}

// Flush waits for any in-flight saves to return. Timers that have not fired
// yet are not forced; call it after Close in teardown paths.
func (a *Autosave) Flush() {
	a.wg.Wait()
}

// Close cancels pending timers and stops accepting edits. A save already in
// flight runs to completion but its result is discarded.
func (a *Autosave) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	if a.title.timer != nil {
		a.title.timer.Stop()
	}
	if a.content.timer != nil {
		a.content.timer.Stop()
	}
}
