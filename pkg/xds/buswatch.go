package xds

import (
	"context"

	"github.com/flowplane/flowplane/pkg/changebus"
	"github.com/flowplane/flowplane/pkg/model"
)

// changeBusWatcher adapts changebus.Subscription's blocking Wake call
// into a channel a stream's select loop can wait on alongside Recv,
// since a single stream multiplexes "new request arrived" and "snapshot
// advanced" and Go's select needs both as channels.
type changeBusWatcher struct {
	notify chan struct{}
}

func startChangeBusWatcher(ctx context.Context, bus *changebus.Bus, tenant model.Scope) *changeBusWatcher {
	w := &changeBusWatcher{notify: make(chan struct{}, 1)}
	sub := bus.Subscribe(ctx, tenant)
	go func() {
		for {
			_, ok := sub.Wake(ctx)
			if !ok {
				return
			}
			select {
			case w.notify <- struct{}{}:
			default:
			}
		}
	}()
	return w
}
