// Package live keeps client-side views of the backend up to date. Each
// component loads its state once, subscribes to the change feed and folds
// every change event into that state. Writes go to the backend; their
// effects come back through the subscriptions.
package live

import (
	"context"
	"time"
)

// handlerTimeout bounds the backend calls made while handling an event.
const handlerTimeout = 10 * time.Second

func handlerContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), handlerTimeout)
}

// signal is a coalescing notification channel.
type signal chan struct{}

func newSignal() signal {
	return make(signal, 1)
}

func (s signal) notify() {
	select {
	case s <- struct{}{}:
	default:
	}
}
