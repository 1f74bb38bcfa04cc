package core

import (
	"context"
	"sync"
	"time"

	"pkt.systems/eclkernel/schema"
)

// ReplyCallback receives the answer to a stdin prompt, or the reason it was dropped.
type ReplyCallback func(value string, err error)

type replyEntry struct {
	callback ReplyCallback
	expires  time.Time
}

// ReplyTable correlates outstanding stdin prompts with their callbacks.
type ReplyTable struct {
	mu         sync.Mutex
	entries    map[string]replyEntry
	lastActive string
	ttl        time.Duration
	now        func() time.Time
	// sending counts prompts whose input_request is still being written.
	// Replies for unknown ids arriving meanwhile are parked in early.
	sending int
	early   map[string]string
}

// NewReplyTable constructs a table whose entries expire after ttl.
func NewReplyTable(ttl time.Duration) *ReplyTable {
	if ttl <= 0 {
		ttl = schema.DefaultReplyTTL
	}
	return &ReplyTable{
		entries: make(map[string]replyEntry),
		early:   make(map[string]string),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SendPrompt sends an input_request on the stdin channel and registers cb under
// the sent message id. It fails with schema.ErrStdinNotSupported without sending
// anything when the originating request did not allow stdin.
func (t *ReplyTable) SendPrompt(ctx context.Context, resp Responder, allowStdin bool, prompt schema.InputRequest, cb ReplyCallback) (string, error) {
	if !allowStdin {
		return "", schema.ErrStdinNotSupported
	}
	t.mu.Lock()
	t.sending++
	t.mu.Unlock()

	header, err := resp.Respond(ctx, schema.ChannelStdin, schema.MsgInputRequest, prompt)

	t.mu.Lock()
	t.sending--
	if err != nil {
		t.settleLocked()
		t.mu.Unlock()
		return "", err
	}
	id := header.MsgID
	if value, ok := t.early[id]; ok {
		delete(t.early, id)
		t.settleLocked()
		t.mu.Unlock()
		cb(value, nil)
		return id, nil
	}
	t.registerLocked(id, cb)
	t.settleLocked()
	t.mu.Unlock()
	return id, nil
}

// settleLocked drops parked replies once no prompt is in flight.
func (t *ReplyTable) settleLocked() {
	if t.sending == 0 && len(t.early) > 0 {
		clear(t.early)
	}
}

// Register stores cb for id and marks it as the last active prompt.
func (t *ReplyTable) Register(id string, cb ReplyCallback) {
	if id == "" || cb == nil {
		return
	}
	t.mu.Lock()
	t.registerLocked(id, cb)
	t.mu.Unlock()
}

func (t *ReplyTable) registerLocked(id string, cb ReplyCallback) {
	t.entries[id] = replyEntry{callback: cb, expires: t.now().Add(t.ttl)}
	t.lastActive = id
}

// Resolve delivers value to the prompt registered under exactly id. While a
// prompt is still being sent, an unknown id is held until that send settles.
func (t *ReplyTable) Resolve(id string, value string) bool {
	t.mu.Lock()
	entry, ok := t.takeLocked(id)
	if !ok && id != "" && t.sending > 0 {
		t.early[id] = value
		t.mu.Unlock()
		return true
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	entry.callback(value, nil)
	return true
}

// ResolveLastActive delivers value to the most recently registered prompt that
// is still outstanding. It serves transports that cannot echo the prompt id.
func (t *ReplyTable) ResolveLastActive(value string) bool {
	t.mu.Lock()
	entry, ok := t.takeLocked(t.lastActive)
	t.mu.Unlock()
	if !ok {
		return false
	}
	entry.callback(value, nil)
	return true
}

// Cancel drops the prompt registered under id.
func (t *ReplyTable) Cancel(id string) bool {
	t.mu.Lock()
	entry, ok := t.takeLocked(id)
	t.mu.Unlock()
	if !ok {
		return false
	}
	entry.callback("", schema.ErrPromptCanceled)
	return true
}

// Purge drops every entry that expired before now and returns how many were removed.
func (t *ReplyTable) Purge(now time.Time) int {
	t.mu.Lock()
	var expired []replyEntry
	for id, entry := range t.entries {
		if now.Before(entry.expires) {
			continue
		}
		expired = append(expired, entry)
		delete(t.entries, id)
		if t.lastActive == id {
			t.lastActive = ""
		}
	}
	t.mu.Unlock()
	for _, entry := range expired {
		entry.callback("", schema.ErrPromptCanceled)
	}
	return len(expired)
}

// Len returns the number of outstanding prompts.
func (t *ReplyTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// LastActive returns the id of the last active prompt, if any.
func (t *ReplyTable) LastActive() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActive
}

func (t *ReplyTable) takeLocked(id string) (replyEntry, bool) {
	if id == "" {
		return replyEntry{}, false
	}
	entry, ok := t.entries[id]
	if !ok {
		return replyEntry{}, false
	}
	delete(t.entries, id)
	if t.lastActive == id {
		t.lastActive = ""
	}
	return entry, true
}
