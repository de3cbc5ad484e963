package chatapp

import (
	"sync"
)

// FetchMode selects how the synchronizer asks for new messages.
type FetchMode string

const (
	// FetchFull fetches the whole message history on every tick.
	FetchFull FetchMode = "full"
	// FetchSince passes the high-water mark; the service may answer with a suffix.
	FetchSince FetchMode = "since"
)

// Cursor identifies the state a request was issued against. Generation
// changes every time a conversation is opened; HighWater and Revision are
// snapshots taken when the request started.
type Cursor struct {
	ConversationID string
	Generation     uint64
	HighWater      string
	Revision       uint64
}

// MergeResult reports what applying a response did to the state.
type MergeResult struct {
	Stale    bool
	Replaced bool
	Appended int
	Changed  bool
}

// ConversationState owns the open conversation. Every operation is
// serialized by one mutex; responses are applied only when their cursor's
// generation is still current.
type ConversationState struct {
	mu         sync.Mutex
	generation uint64
	openID     string
	conv       *Conversation
	revision   uint64
	// set once service content has been installed for this generation
	loaded bool
	// local revision at which each locally confirmed message was applied
	localRevs map[string]uint64

	onChange func(*Conversation)
}

func NewConversationState() *ConversationState {
	return &ConversationState{localRevs: make(map[string]uint64)}
}

// OnChange registers the observer called with a snapshot after every change.
// It is called outside the lock.
func (s *ConversationState) OnChange(fn func(*Conversation)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Open starts a new generation for id and clears the previous content. An
// empty id leaves no conversation open.
func (s *ConversationState) Open(id string) Cursor {
	s.mu.Lock()
	s.generation++
	s.openID = id
	s.conv = nil
	s.loaded = false
	s.localRevs = make(map[string]uint64)
	cur := s.cursorLocked()
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify(nil)
	}
	return cur
}

// Cursor returns the cursor to attach to a request issued now. ok is false
// when no conversation is open.
func (s *ConversationState) Cursor() (Cursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursorLocked(), s.openID != ""
}

func (s *ConversationState) cursorLocked() Cursor {
	cur := Cursor{ConversationID: s.openID, Generation: s.generation, Revision: s.revision}
	if s.conv != nil {
		cur.HighWater = s.conv.HighWater
	}
	return cur
}

// Loaded reports whether service content has been installed for the open
// conversation. Messages confirmed by local sends alone do not count.
func (s *ConversationState) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Snapshot returns a deep copy of the open conversation, or nil.
func (s *ConversationState) Snapshot() *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.clone()
}

func (s *ConversationState) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *ConversationState) current(cur Cursor) bool {
	return cur.Generation == s.generation && cur.ConversationID == s.openID && s.openID != ""
}

// Replace installs a freshly loaded conversation. When only local sends are
// present it replaces them, keeping those confirmed after cur. When another
// load landed first, its messages stay in place and unknown loaded messages
// are appended.
func (s *ConversationState) Replace(cur Cursor, conv *Conversation) MergeResult {
	if conv == nil {
		return MergeResult{}
	}
	s.mu.Lock()
	if !s.current(cur) {
		s.mu.Unlock()
		return MergeResult{Stale: true}
	}
	next := conv.clone()
	next.ID = s.openID
	if s.loaded {
		return s.finish(s.appendNewLocked(next.Messages, next))
	}
	s.loaded = true
	return s.finish(s.replaceLocked(cur, next))
}

// Merge applies a fetched message list according to the high-water mark
// captured in cur.
//
//   - No mark: the fetched list replaces the local one.
//   - Since mode, or full mode with the mark present in the fetch: messages
//     already held keep their place and fetched messages not yet known are
//     appended in fetch order.
//   - Full mode, mark missing: the fetched list replaces the local one, keeping
//     only local messages confirmed after the request was issued.
//
// Reaction counts never decrease.
func (s *ConversationState) Merge(cur Cursor, fetched []Message, mode FetchMode) MergeResult {
	s.mu.Lock()
	if !s.current(cur) {
		s.mu.Unlock()
		return MergeResult{Stale: true}
	}
	s.loaded = true
	if s.conv == nil || cur.HighWater == "" {
		next := s.shell()
		next.Messages = cloneMessages(fetched)
		return s.finish(s.replaceLocked(cur, next))
	}

	if mode == FetchSince || containsID(fetched, cur.HighWater) {
		return s.finish(s.appendNewLocked(fetched, nil))
	}
	next := s.shell()
	next.Messages = cloneMessages(fetched)
	return s.finish(s.replaceLocked(cur, next))
}

// AppendConfirmed adds a server-confirmed message sent locally and moves the
// high-water mark to it. A message already present is left alone.
func (s *ConversationState) AppendConfirmed(cur Cursor, msg Message) MergeResult {
	s.mu.Lock()
	if !s.current(cur) {
		s.mu.Unlock()
		return MergeResult{Stale: true}
	}
	if s.conv == nil {
		s.conv = s.shell()
	}
	for _, m := range s.conv.Messages {
		if m.ID == msg.ID {
			s.mu.Unlock()
			return MergeResult{}
		}
	}
	s.revision++
	s.localRevs[msg.ID] = s.revision
	s.conv.Messages = append(s.conv.Messages, msg.clone())
	s.conv.HighWater = msg.ID
	return s.finish(MergeResult{Appended: 1, Changed: true})
}

// PatchReaction increments symbol on a message after the service accepted it.
// It reports false when the cursor is stale or the message is unknown.
func (s *ConversationState) PatchReaction(cur Cursor, messageID, symbol string) (MergeResult, bool) {
	s.mu.Lock()
	if stale := !s.current(cur); stale || s.conv == nil {
		s.mu.Unlock()
		return MergeResult{Stale: stale}, false
	}
	for i := range s.conv.Messages {
		m := &s.conv.Messages[i]
		if m.ID != messageID {
			continue
		}
		if m.Reactions == nil {
			m.Reactions = make(map[string]int)
		}
		m.Reactions[symbol]++
		s.revision++
		return s.finish(MergeResult{Changed: true}), true
	}
	s.mu.Unlock()
	return MergeResult{}, false
}

// ── locked helpers ───────────────────────────────────────

// shell copies the metadata of the open conversation without its messages.
func (s *ConversationState) shell() *Conversation {
	next := &Conversation{ID: s.openID}
	if s.conv != nil {
		next.Name = s.conv.Name
		next.Participants = append([]string(nil), s.conv.Participants...)
	}
	return next
}

// replaceLocked installs next, keeping local confirmations newer than cur.
func (s *ConversationState) replaceLocked(cur Cursor, next *Conversation) MergeResult {
	next.Messages = dedupe(next.Messages)
	present := idSet(next.Messages)
	before := s.messageIDs()

	if s.conv != nil {
		for _, m := range s.conv.Messages {
			if present[m.ID] {
				continue
			}
			if rev, ok := s.localRevs[m.ID]; ok && rev > cur.Revision {
				next.Messages = append(next.Messages, m.clone())
				present[m.ID] = true
			}
		}
	}
	res := MergeResult{Replaced: true}
	res.Changed = s.install(next)
	res.Appended = countNew(before, next.Messages)
	return res
}

// appendNewLocked keeps the held messages in place, refreshes their reaction
// counts and appends unknown fetched messages in fetch order. meta, when set,
// supplies the conversation name and participants.
func (s *ConversationState) appendNewLocked(fetched []Message, meta *Conversation) MergeResult {
	next := s.conv.clone()
	if meta != nil {
		next.Name = meta.Name
		next.Participants = append([]string(nil), meta.Participants...)
	}
	index := make(map[string]int, len(next.Messages))
	for i, m := range next.Messages {
		index[m.ID] = i
	}
	appended := 0
	for _, m := range fetched {
		if i, ok := index[m.ID]; ok {
			next.Messages[i].Reactions = maxReactions(next.Messages[i].Reactions, m.Reactions)
			continue
		}
		index[m.ID] = len(next.Messages)
		next.Messages = append(next.Messages, m.clone())
		appended++
	}
	res := MergeResult{Appended: appended}
	res.Changed = s.install(next)
	return res
}

// install swaps next in, carrying forward reaction counts that next would
// lower, and reports whether anything visible changed.
func (s *ConversationState) install(next *Conversation) bool {
	if s.conv != nil {
		prev := make(map[string]map[string]int, len(s.conv.Messages))
		for _, m := range s.conv.Messages {
			prev[m.ID] = m.Reactions
		}
		for i := range next.Messages {
			if r, ok := prev[next.Messages[i].ID]; ok {
				next.Messages[i].Reactions = maxReactions(r, next.Messages[i].Reactions)
			}
		}
	}
	next.HighWater = ""
	if n := len(next.Messages); n > 0 {
		next.HighWater = next.Messages[n-1].ID
	}
	changed := s.conv == nil || !sameConversation(s.conv, next)
	s.conv = next
	return changed
}

// finish unlocks and notifies the observer when the state changed.
func (s *ConversationState) finish(res MergeResult) MergeResult {
	var snap *Conversation
	notify := s.onChange
	if res.Changed && notify != nil {
		snap = s.conv.clone()
	}
	s.mu.Unlock()
	if snap != nil {
		notify(snap)
	}
	return res
}

func (s *ConversationState) messageIDs() map[string]bool {
	if s.conv == nil {
		return map[string]bool{}
	}
	return idSet(s.conv.Messages)
}

// ── pure helpers ─────────────────────────────────────────

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.clone()
	}
	return out
}

// dedupe keeps the first occurrence of every ID.
func dedupe(in []Message) []Message {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, m := range in {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}

func containsID(msgs []Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

func idSet(msgs []Message) map[string]bool {
	set := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		set[m.ID] = true
	}
	return set
}

func countNew(before map[string]bool, after []Message) int {
	n := 0
	for _, m := range after {
		if !before[m.ID] {
			n++
		}
	}
	return n
}

func maxReactions(a, b map[string]int) map[string]int {
	if len(a) == 0 && len(b) == 0 {
		return b
	}
	out := make(map[string]int, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

func sameConversation(a, b *Conversation) bool {
	if a.Name != b.Name || a.HighWater != b.HighWater || len(a.Messages) != len(b.Messages) || len(a.Participants) != len(b.Participants) {
		return false
	}
	for i := range a.Participants {
		if a.Participants[i] != b.Participants[i] {
			return false
		}
	}
	for i := range a.Messages {
		if !sameMessage(a.Messages[i], b.Messages[i]) {
			return false
		}
	}
	return true
}

func sameMessage(a, b Message) bool {
	if a.ID != b.ID || a.Content != b.Content || a.Media != b.Media || len(a.Reactions) != len(b.Reactions) {
		return false
	}
	for k, v := range a.Reactions {
		if b.Reactions[k] != v {
			return false
		}
	}
	return true
}
