package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/spendsync/internal/engine"
	"github.com/roach88/spendsync/internal/ir"
)

// MutateOptions holds flags shared by add and edit.
type MutateOptions struct {
	*RootOptions
	Fields []string
	Amount string
	Full   bool // edit only
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <kind>",
		Short: "Create an entity",
		Long: `Create an entity locally and queue it for the server.

The entity gets a temporary id (f_...) right away. The id is replaced by
the server id once the create is confirmed.

Kinds: expense, income, budget, category, category_group.

Example:
  spendsync add expense --amount 12.50 --field note=lunch --field category_id=4
  spendsync add category --field name=Groceries`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, opts, args[0])
		},
	}

	addPayloadFlags(cmd, opts)
	return cmd
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "edit <kind> <id>",
		Short: "Update an entity",
		Long: `Update an entity locally and queue the change.

By default the given fields are merged into the entity (PATCH). With
--full they replace it (PUT).

Example:
  spendsync edit expense 42 --amount 15
  spendsync edit budget f_b-abcdefghij --full --field name=Food --amount 400`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd, opts, args[0], args[1])
		},
	}

	addPayloadFlags(cmd, opts)
	cmd.Flags().BoolVar(&opts.Full, "full", false, "replace the entity instead of merging fields")
	return cmd
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <kind> <id>",
		Short: "Delete an entity",
		Long: `Delete an entity locally and queue the delete.

Removing an entity that was never sent drops its queued operations and
sends nothing.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd, rootOpts, args[0], args[1])
		},
	}
	return cmd
}

func addPayloadFlags(cmd *cobra.Command, opts *MutateOptions) {
	cmd.Flags().StringArrayVarP(&opts.Fields, "field", "f", nil, "field as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Amount, "amount", "", "decimal amount")
}

func runAdd(cmd *cobra.Command, opts *MutateOptions, kindArg string) error {
	kind, err := parseKind(kindArg)
	if err != nil {
		return err
	}
	data, err := defaultPayload(kind)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build payload", err)
	}
	if err := applyFlags(data, opts); err != nil {
		return err
	}

	a, err := openApp(commandContext(cmd), opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	ent, err := a.engine.Create(commandContext(cmd), kind, data)
	if err != nil {
		return mutationError("create", err)
	}
	return printEntity(cmd, opts.RootOptions, ent)
}

func runEdit(cmd *cobra.Command, opts *MutateOptions, kindArg, id string) error {
	kind, err := parseKind(kindArg)
	if err != nil {
		return err
	}
	data := ir.Payload{}
	if err := applyFlags(data, opts); err != nil {
		return err
	}
	if len(data) == 0 {
		return NewExitError(ExitCommandError, "nothing to change: pass --field or --amount")
	}

	a, err := openApp(commandContext(cmd), opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	ent, err := a.engine.Update(commandContext(cmd), kind, id, data, !opts.Full)
	if err != nil {
		return mutationError("update", err)
	}
	return printEntity(cmd, opts.RootOptions, ent)
}

func runRemove(cmd *cobra.Command, opts *RootOptions, kindArg, id string) error {
	kind, err := parseKind(kindArg)
	if err != nil {
		return err
	}

	a, err := openApp(commandContext(cmd), opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.Delete(commandContext(cmd), kind, id); err != nil {
		return mutationError("delete", err)
	}

	out := map[string]string{"kind": string(kind), "id": id}
	return formatter(cmd, opts).Success(out, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Removed %s %s\n", kind, id)
		return err
	})
}

func parseKind(s string) (ir.EntityKind, error) {
	kind, err := ir.ParseKind(s)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "invalid kind", err)
	}
	return kind, nil
}

// mutationError maps engine errors onto exit codes.
func mutationError(action string, err error) error {
	switch {
	case errors.Is(err, engine.ErrInvalidPayload), errors.Is(err, engine.ErrEntityNotFound):
		return WrapExitError(ExitCommandError, action+" rejected", err)
	default:
		return WrapExitError(ExitFailure, action+" failed", err)
	}
}

// defaultPayload returns the defaults of kind's typed model, without the
// fields a caller has to supply.
func defaultPayload(kind ir.EntityKind) (ir.Payload, error) {
	model, err := ir.ModelFor(kind)
	if err != nil {
		return nil, err
	}
	p, err := ir.ToPayload(model)
	if err != nil {
		return nil, err
	}
	for k, v := range p {
		if s, ok := v.(string); ok && (s == "" || (k == "amount" && s == "0")) {
			delete(p, k)
		}
	}
	return p, nil
}

// applyFlags writes --field and --amount values into data.
func applyFlags(data ir.Payload, opts *MutateOptions) error {
	for _, f := range opts.Fields {
		key, value, ok := strings.Cut(f, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid --field %q: want key=value", f))
		}
		data[key] = value
	}
	if opts.Amount != "" {
		amount, err := decimal.NewFromString(opts.Amount)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("invalid --amount %q", opts.Amount), err)
		}
		data["amount"] = amount.String()
	}
	return nil
}
