// Package shipmentloader batches shipment lookups by business reference so
// concurrent row workers linking containers to the same bill of lading share
// one repository round trip.
package shipmentloader

import (
	"context"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/shiprecon/internal/domain"
	"github.com/rpattn/shiprecon/internal/repository"
)

type ShipmentLoader struct {
	loader *dataloader.Loader
}

func NewShipmentLoader(repo repository.ShipmentRepository) *ShipmentLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		refs := make([]string, len(keys))
		for i, k := range keys {
			refs[i] = k.String()
		}

		shipments, err := repo.ListByReferences(ctx, refs)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: fmt.Errorf("failed to load shipments: %w", err)}
			}
			return results
		}

		byRef := make(map[string]domain.Shipment, len(shipments))
		for _, s := range shipments {
			byRef[s.Reference] = s
		}

		// Results must line up with keys.
		results := make([]*dataloader.Result, len(keys))
		for i, ref := range refs {
			if s, ok := byRef[ref]; ok {
				results[i] = &dataloader.Result{Data: s}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	return &ShipmentLoader{
		loader: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond)),
	}
}

// Load returns the shipment stored under a normalized reference.
func (l *ShipmentLoader) Load(ctx context.Context, reference string) (domain.Shipment, bool, error) {
	data, err := l.loader.Load(ctx, dataloader.StringKey(reference))()
	if err != nil {
		return domain.Shipment{}, false, err
	}
	if data == nil {
		return domain.Shipment{}, false, nil
	}
	shipment, ok := data.(domain.Shipment)
	if !ok {
		return domain.Shipment{}, false, fmt.Errorf("unexpected loader value %T", data)
	}
	return shipment, true, nil
}

// Prime replaces the cached value after a write.
func (l *ShipmentLoader) Prime(ctx context.Context, shipment domain.Shipment) {
	key := dataloader.StringKey(shipment.Reference)
	l.loader.Clear(ctx, key).Prime(ctx, key, shipment)
}
