package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rpattn/shiprecon/internal/domain"
	"github.com/rpattn/shiprecon/internal/reconcile"
)

// parseAssignments turns field=value arguments into edits. An empty value
// clears the field.
func parseAssignments(args []string) (map[string]any, error) {
	changes := make(map[string]any, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		if value == "" {
			changes[name] = nil
			continue
		}
		changes[name] = value
	}
	return changes, nil
}

func (a *app) newEditCmd() *cobra.Command {
	var (
		unlock   []string
		shipment bool
	)
	cmd := &cobra.Command{
		Use:   "edit CONTAINER|REFERENCE [FIELD=VALUE...]",
		Short: "Edit a record by hand and lock the edited fields",
		Long: `Edit writes values onto a container record. Edited fields are locked so
later imports and audit corrections leave them alone; --unlock releases
locks. Setting status re-derives the lifecycle stage. With --shipment the
first argument is a bill of lading reference and only shipment fields
(booking, PO, carrier, shipper, consignee, business unit) may be edited.`,
		Example: `  shiprecon edit MSKU1234567 status="Customs hold" eta=2024-07-01
  shiprecon edit MSKU1234567 vessel=
  shiprecon edit MSKU1234567 --unlock eta,status
  shiprecon edit --shipment MAEU123456 carrier="Maersk Line"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && len(unlock) == 0 {
				return fmt.Errorf("nothing to do: pass field=value pairs or --unlock")
			}
			ctx := cmd.Context()
			changes, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}

			store, closeStore, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer closeStore()

			editor := reconcile.NewEditor(store)
			if shipment {
				return editShipment(cmd, editor, args[0], changes, unlock)
			}
			var record domain.Container
			if len(changes) > 0 {
				if record, err = editor.Edit(ctx, args[0], changes); err != nil {
					return err
				}
			}
			if len(unlock) > 0 {
				if record, err = editor.Unlock(ctx, args[0], unlock...); err != nil {
					return err
				}
			}
			return printJSON(cmd, record)
		},
	}
	cmd.Flags().StringSliceVar(&unlock, "unlock", nil, "fields to unlock")
	cmd.Flags().BoolVar(&shipment, "shipment", false, "edit the shipment with this reference instead of a container")
	return cmd
}

func editShipment(cmd *cobra.Command, editor *reconcile.Editor, reference string, changes map[string]any, unlock []string) error {
	ctx := cmd.Context()
	var (
		shipment domain.Shipment
		err      error
	)
	if len(changes) > 0 {
		if shipment, err = editor.EditShipment(ctx, reference, changes); err != nil {
			return err
		}
	}
	if len(unlock) > 0 {
		if shipment, err = editor.UnlockShipment(ctx, reference, unlock...); err != nil {
			return err
		}
	}
	return printJSON(cmd, shipment)
}
