package messages

import "fmt"

// Inbox is a FIFO of decoded messages of one type on one connection.
type Inbox[T any] struct {
	items []T
}

func (b *Inbox[T]) push(v T) {
	b.items = append(b.items, v)
}

// Next pops the oldest message.
func (b *Inbox[T]) Next() (T, bool) {
	var zero T
	if len(b.items) == 0 {
		return zero, false
	}
	v := b.items[0]
	b.items[0] = zero
	b.items = b.items[1:]
	return v, true
}

// Drain removes and returns every queued message in arrival order.
func (b *Inbox[T]) Drain() []T {
	out := b.items
	b.items = nil
	return out
}

func (b *Inbox[T]) Len() int {
	return len(b.items)
}

// Inboxes holds one connection's typed inboxes keyed by type id.
type Inboxes struct {
	byID map[uint16]any
}

func NewInboxes() *Inboxes {
	return &Inboxes{byID: make(map[uint16]any)}
}

// InboxOf returns the inbox for id, creating it on first use.
func InboxOf[T any](in *Inboxes, id ID[T]) *Inbox[T] {
	if v, ok := in.byID[id.id]; ok {
		inbox, ok := v.(*Inbox[T])
		if !ok {
			panic(fmt.Sprintf("messages: inbox for id %d holds %T, not *Inbox[%s]", id.id, v, id.Name()))
		}
		return inbox
	}
	inbox := &Inbox[T]{}
	in.byID[id.id] = inbox
	return inbox
}
