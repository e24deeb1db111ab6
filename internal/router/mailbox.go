package router

import "github.com/Cunha-Renato/yapping-server/internal/proto"

// MailboxCapacity bounds outbound notifications queued per connection.
const MailboxCapacity = 100

// Mailbox is a bounded queue of outbound notifications for one connection.
// The router holds it as a send-only handle; the owning connection drains
// it on its tick. Sends never block: a full mailbox drops.
type Mailbox struct {
	ch chan proto.Notification
}

// NewMailbox creates a mailbox. cap <= 0 selects MailboxCapacity.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = MailboxCapacity
	}
	return &Mailbox{ch: make(chan proto.Notification, capacity)}
}

// TrySend enqueues without blocking. Reports whether the notification was
// accepted.
func (m *Mailbox) TrySend(n proto.Notification) bool {
	select {
	case m.ch <- n:
		return true
	default:
		mailboxDrops.Inc()
		return false
	}
}

// Drain empties the mailbox without blocking, preserving enqueue order.
func (m *Mailbox) Drain() []proto.Notification {
	var out []proto.Notification
	for {
		select {
		case n := <-m.ch:
			out = append(out, n)
		default:
			return out
		}
	}
}

// Len reports the number of queued notifications.
func (m *Mailbox) Len() int { return len(m.ch) }
