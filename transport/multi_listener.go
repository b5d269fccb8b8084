package transport

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// MultiListener merges several listeners into one. Connections from any of them are
// emitted while the MultiListener itself is active.
type MultiListener struct {
	listenerCore

	listeners []Listener
	subs      []Subscription
}

func NewMultiListener(log *zap.Logger, listeners ...Listener) *MultiListener {
	if log == nil {
		log = zap.L()
	}
	l := &MultiListener{listeners: listeners}
	l.init(log.With(zap.String("listener", "multi")), l)
	return l
}

func (l *MultiListener) startCore(ctx context.Context) error {
	for i, child := range l.listeners {
		l.subs = append(l.subs,
			child.OnConnection(l.deliver),
			child.OnAttemptFailed(l.fail),
		)
		if err := child.Start(ctx); err != nil {
			for _, started := range l.listeners[:i] {
				started.Close()
			}
			l.unsubscribe()
			return err
		}
	}
	return nil
}

func (l *MultiListener) stopCore() error {
	l.unsubscribe()
	var err error
	for _, child := range l.listeners {
		err = multierr.Append(err, child.Close())
	}
	return err
}

func (l *MultiListener) unsubscribe() {
	for _, sub := range l.subs {
		sub.Unsubscribe()
	}
	l.subs = nil
}
