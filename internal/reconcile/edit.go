package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/shiprecon/internal/domain"
	apperrors "github.com/rpattn/shiprecon/internal/errors"
	"github.com/rpattn/shiprecon/internal/logging"
	"github.com/rpattn/shiprecon/internal/mapping"
	"github.com/rpattn/shiprecon/internal/repository"
	"github.com/rpattn/shiprecon/internal/transform"
)

// Editor applies human edits. Every edited field is locked so later imports,
// corrections and re-mappings leave it alone.
type Editor struct {
	store repository.Store
}

func NewEditor(store repository.Store) *Editor {
	return &Editor{store: store}
}

// Edit writes changes onto the record and locks the edited fields. A nil
// value clears the field. Editing the status re-derives the stage from the
// new text, which may move the stage backwards.
func (e *Editor) Edit(ctx context.Context, number string, changes map[string]any) (domain.Container, error) {
	key, ok := domain.IdentityKey(number, 0)
	if !ok {
		return domain.Container{}, apperrors.NewValidationError("container_number", number, "not a valid container number")
	}
	if len(changes) == 0 {
		return domain.Container{}, apperrors.NewValidationError("changes", "", "no fields to edit")
	}

	values, cleared, err := convertEdits(changes)
	if err != nil {
		return domain.Container{}, err
	}

	fields := make([]string, 0, len(changes))
	for name := range changes {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	upserted, err := e.store.Containers.Upsert(ctx, key, func(current domain.Container, found bool) (domain.Container, error) {
		if !found {
			return current, apperrors.NewNotFoundError("container", key)
		}
		next := current.WithLocks(fields...)
		for name, value := range values {
			next.Fields[name] = value
		}
		for _, name := range cleared {
			delete(next.Fields, name)
		}

		if _, statusEdited := changes[domain.FieldStatus]; statusEdited {
			text, _ := next.Field(domain.FieldStatus).(string)
			if stage := mapping.DeriveStage(next.Fields, mapping.GuessStage(text)); stage != domain.StageUnknown {
				next.Stage = stage
			}
		} else if derived := mapping.DeriveStage(next.Fields, next.Stage); derived.After(next.Stage) {
			next.Stage = derived
		}
		next.UpdatedAt = time.Now().UTC()
		return next, nil
	})
	if err != nil {
		return domain.Container{}, err
	}

	container := upserted.Container
	e.record(ctx, container, "edited "+strings.Join(fields, ", "))
	logging.FromContext(ctx).Info().
		Str("container", key).
		Strs("fields", fields).
		Msg("Record edited")
	return container, nil
}

// Unlock releases field locks so automated writers may update them again.
func (e *Editor) Unlock(ctx context.Context, number string, fields ...string) (domain.Container, error) {
	key, ok := domain.IdentityKey(number, 0)
	if !ok {
		return domain.Container{}, apperrors.NewValidationError("container_number", number, "not a valid container number")
	}
	upserted, err := e.store.Containers.Upsert(ctx, key, func(current domain.Container, found bool) (domain.Container, error) {
		if !found {
			return current, apperrors.NewNotFoundError("container", key)
		}
		return current.WithoutLocks(fields...), nil
	})
	if err != nil {
		return domain.Container{}, err
	}
	e.record(ctx, upserted.Container, "unlocked "+strings.Join(fields, ", "))
	return upserted.Container, nil
}

// EditShipment writes changes onto an existing shipment and locks the edited
// fields against later imports. Only shipment-level fields may be edited and a
// nil value clears the field.
func (e *Editor) EditShipment(ctx context.Context, reference string, changes map[string]any) (domain.Shipment, error) {
	ref := domain.NormalizeReference(reference)
	if ref == "" {
		return domain.Shipment{}, apperrors.NewValidationError("reference", reference, "must not be empty")
	}
	if len(changes) == 0 {
		return domain.Shipment{}, apperrors.NewValidationError("changes", "", "no fields to edit")
	}
	for name, raw := range changes {
		if !domain.IsShipmentField(name) {
			return domain.Shipment{}, apperrors.NewValidationError(name, fmt.Sprint(raw), "not a shipment field")
		}
	}
	values, cleared, err := convertEdits(changes)
	if err != nil {
		return domain.Shipment{}, err
	}
	if err := e.requireShipment(ctx, ref); err != nil {
		return domain.Shipment{}, err
	}

	fields := make([]string, 0, len(changes))
	for name := range changes {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	shipment, err := e.store.Shipments.Upsert(ctx, ref, func(current domain.Shipment) domain.Shipment {
		next := current.WithLocks(fields...)
		for name, value := range values {
			next.Fields[name] = value
		}
		for _, name := range cleared {
			delete(next.Fields, name)
		}
		return next
	})
	if err != nil {
		return domain.Shipment{}, err
	}
	logging.FromContext(ctx).Info().
		Str("shipment", ref).
		Strs("fields", fields).
		Msg("Shipment edited")
	return shipment, nil
}

// UnlockShipment releases shipment field locks.
func (e *Editor) UnlockShipment(ctx context.Context, reference string, fields ...string) (domain.Shipment, error) {
	ref := domain.NormalizeReference(reference)
	if ref == "" {
		return domain.Shipment{}, apperrors.NewValidationError("reference", reference, "must not be empty")
	}
	if err := e.requireShipment(ctx, ref); err != nil {
		return domain.Shipment{}, err
	}
	return e.store.Shipments.Upsert(ctx, ref, func(current domain.Shipment) domain.Shipment {
		return current.WithoutLocks(fields...)
	})
}

func (e *Editor) requireShipment(ctx context.Context, ref string) error {
	found, err := e.store.Shipments.ListByReferences(ctx, []string{ref})
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return apperrors.NewNotFoundError("shipment", ref)
	}
	return nil
}

// convertEdits validates edited field names and converts values to their
// canonical types.
func convertEdits(changes map[string]any) (map[string]any, []string, error) {
	values := make(map[string]any, len(changes))
	var cleared []string
	for name, raw := range changes {
		if name == domain.FieldContainerNumber {
			return nil, nil, apperrors.NewValidationError(name, fmt.Sprint(raw), "the identity key cannot be edited")
		}
		if !domain.IsCanonicalField(name) {
			return nil, nil, apperrors.NewValidationError(name, fmt.Sprint(raw), "not a canonical field")
		}
		if raw == nil {
			cleared = append(cleared, name)
			continue
		}
		converted := transform.Field(name, raw)
		if converted == nil {
			return nil, nil, apperrors.NewValidationError(name, fmt.Sprint(raw), "value does not convert to the field type")
		}
		values[name] = converted
	}

	result := payloadValidator.ValidateProperties(values, fieldDefinitions(nil))
	if !result.IsValid {
		first := result.Errors[0]
		return nil, nil, apperrors.NewValidationError(first.Field, fmt.Sprint(first.Value), first.Message)
	}
	if len(result.Warnings) > 0 {
		first := result.Warnings[0]
		return nil, nil, apperrors.NewValidationError(first.Field, fmt.Sprint(first.Value), first.Message)
	}
	return values, cleared, nil
}

func (e *Editor) record(ctx context.Context, c domain.Container, message string) {
	id := c.ID
	entry := domain.ProcessingLogEntry{
		ID:          uuid.New(),
		ContainerID: &id,
		Stage:       domain.ProcessingCorrection,
		Status:      "manual",
		Confidence:  1,
		Message:     message,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.Logs.Record(ctx, entry); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("container", c.ContainerNumber).Msg("Failed to record processing log")
	}
}
