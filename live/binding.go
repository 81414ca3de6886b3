package live

import (
	"context"

	"github.com/tcriess/family-hub/gateway"
)

// Binding ties a list to the bridges that keep it current. Mount subscribes first and loads afterwards, so no
// change between the initial load and the subscription is missed.
type Binding[T any] struct {
	*List[T]
	bridges []*Bridge
}

func Bind[T any](sub gateway.Subscriber, list *List[T], cfg BridgeConfig, sources ...Source) *Binding[T] {
	b := &Binding[T]{List: list}
	for _, src := range sources {
		b.bridges = append(b.bridges, NewBridge(sub, list, src, cfg))
	}
	return b
}

func (b *Binding[T]) Mount(ctx context.Context) error {
	for i, br := range b.bridges {
		err := br.Mount()
		if err != nil {
			for _, mounted := range b.bridges[:i] {
				mounted.Unmount()
			}
			return err
		}
	}
	return b.List.Load(ctx)
}

// Unmount tears the binding down for good: bridges unsubscribe and late responses are discarded.
func (b *Binding[T]) Unmount() {
	for _, br := range b.bridges {
		br.Unmount()
	}
	b.List.Close()
}

func (b *Binding[T]) Bridges() []*Bridge {
	return b.bridges
}
