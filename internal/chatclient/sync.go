package chatclient

import "time"

// dedupWindow is how close in time an incoming event must be to an
// existing entry with the same content and sender to be treated as the
// echo of that entry. A heuristic, not an identity match: two genuinely
// distinct identical texts inside the window collapse into one.
const dedupWindow = 5 * time.Second

// Synchronizer reconciles one conversation's message list from two
// independent sources: a bulk history fetch and the live event stream.
// Insertion is always at the tail and entries are never reordered.
// Not safe for concurrent use; the session controller serializes access.
type Synchronizer struct {
	list []Message
}

func NewSynchronizer() *Synchronizer {
	return &Synchronizer{}
}

// Seed replaces the working list wholesale. Used once per conversation
// activation with the REST-fetched history.
func (s *Synchronizer) Seed(history []Message) {
	s.list = append(s.list[:0:0], history...)
}

// Append adds a locally composed message without duplicate checks; the
// stream echo of this message is what IngestLive later dedups against.
func (s *Synchronizer) Append(msg Message) {
	s.list = append(s.list, msg)
}

// IngestLive appends an incoming stream event unless it duplicates an
// existing entry. Reports whether the message was appended.
func (s *Synchronizer) IngestLive(msg Message) bool {
	if s.isDuplicate(msg) {
		return false
	}
	s.list = append(s.list, msg)
	return true
}

func (s *Synchronizer) isDuplicate(msg Message) bool {
	for i := range s.list {
		existing := &s.list[i]
		if msg.ID != "" && existing.ID == msg.ID {
			return true
		}
		if existing.Content == msg.Content &&
			existing.Sender == msg.Sender &&
			absDuration(existing.SentAt.Sub(msg.SentAt)) < dedupWindow {
			return true
		}
	}
	return false
}

// Confirm swaps a provisional id for the authoritative one assigned by
// the store. The id is replaced in place, never duplicated. Reports
// whether the provisional entry was found.
func (s *Synchronizer) Confirm(provisionalID, id string, sentAt time.Time) bool {
	for i := range s.list {
		if s.list[i].ID == provisionalID {
			s.list[i].ID = id
			if !sentAt.IsZero() {
				s.list[i].SentAt = sentAt
			}
			s.list[i].Pending = false
			return true
		}
	}
	return false
}

// Remove withdraws an entry, typically an optimistic insert whose
// persistence call failed. Reports whether anything was removed.
func (s *Synchronizer) Remove(id string) bool {
	for i := range s.list {
		if s.list[i].ID == id {
			s.list = append(s.list[:i], s.list[i+1:]...)
			return true
		}
	}
	return false
}

// MarkRead flips the read flag on a matching entry. Unknown ids are a
// no-op, never an error: receipts may arrive after the view moved on.
func (s *Synchronizer) MarkRead(id string) {
	for i := range s.list {
		if s.list[i].ID == id {
			s.list[i].IsRead = true
			return
		}
	}
}

// Messages returns a copy of the working list in insertion order.
func (s *Synchronizer) Messages() []Message {
	out := make([]Message, len(s.list))
	copy(out, s.list)
	return out
}

func (s *Synchronizer) Len() int {
	return len(s.list)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
