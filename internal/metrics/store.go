package metrics

import (
	"context"

	"github.com/mehrguard/mehrguard/internal/tables"
	"github.com/mehrguard/mehrguard/internal/tables/update"
)

type countingPersister struct {
	inner update.Persister
	c     *Collector
}

// WrapPersister counts persistence failures of accepted manifests.
func WrapPersister(inner update.Persister, c *Collector) update.Persister {
	if inner == nil {
		return nil
	}
	if c == nil {
		c = New()
	}
	return &countingPersister{inner: inner, c: c}
}

func (p *countingPersister) Save(ctx context.Context, snap *tables.Snapshot, raw []byte) error {
	err := p.inner.Save(ctx, snap, raw)
	if err != nil {
		p.c.saveFailures.Add(1)
	}
	return err
}
