// Package reactive defines the push/pull boundary contract of stagegraph:
// Publisher, Subscriber and Subscription in the style of Reactive Streams, and a
// single-assignment Future for sink results.
package reactive

import (
	"reflect"
)

// Subscription links one Subscriber to one Publisher.
type Subscription interface {
	// Request signals demand for n more elements. n must be positive.
	Request(n int64)
	// Cancel asks the publisher to stop sending and release resources.
	Cancel()
}

// Subscriber receives elements and exactly one terminal signal.
type Subscriber[T any] interface {
	OnSubscribe(s Subscription)
	OnNext(item T)
	OnError(err error)
	OnComplete()
}

// Publisher produces elements for subscribers on demand.
type Publisher[T any] interface {
	Subscribe(s Subscriber[T])
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc[T any] func(s Subscriber[T])

// Subscribe calls f(s).
func (f PublisherFunc[T]) Subscribe(s Subscriber[T]) {
	f(s)
}

// IsNil reports whether v is a nil interface, pointer, map, channel or function.
// Such values are never valid stream elements.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface, reflect.UnsafePointer:
		return rv.IsNil()
	default:
		return false
	}
}
