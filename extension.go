package sfstreaming

import (
	"context"
	"reflect"
)

// MessageExtender defines the interface that extensions are expected to
// implement to add fields to outgoing frames. Outgoing is called for every
// frame right before it is sent, after the id and clientId were set.
type MessageExtender interface {
	Outgoing(ctx context.Context, m *Message) error
}

func sameExtension(a, b MessageExtender) bool {
	t := reflect.TypeOf(a)
	if t != reflect.TypeOf(b) || !t.Comparable() {
		return false
	}
	return a == b
}
