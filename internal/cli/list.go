package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/spendsync/internal/ir"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "List entities from the local store",
		Long: `List entities of one kind as they are held locally, including
changes that have not reached the server yet.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, rootOpts, args[0])
		},
	}
	return cmd
}

func runList(cmd *cobra.Command, opts *RootOptions, kindArg string) error {
	kind, err := parseKind(kindArg)
	if err != nil {
		return err
	}

	a, err := openApp(commandContext(cmd), opts)
	if err != nil {
		return err
	}
	defer a.Close()

	ents, err := a.engine.Entities(commandContext(cmd), kind)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list entities", err)
	}

	data := make([]map[string]any, 0, len(ents))
	rows := make([][]string, 0, len(ents))
	for _, ent := range ents {
		data = append(data, ent.Fields)
		rows = append(rows, []string{ent.ID, syncMark(ent), formatFields(ent.Fields)})
	}

	return formatter(cmd, opts).Success(data, func(w io.Writer) error {
		if len(rows) == 0 {
			_, err := fmt.Fprintf(w, "No %s entities\n", kind)
			return err
		}
		return table(w, []string{"ID", "SYNCED", "FIELDS"}, rows)
	})
}

func printEntity(cmd *cobra.Command, opts *RootOptions, ent ir.Entity) error {
	return formatter(cmd, opts).Success(ent.Fields, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s %s  %s\n", ent.Kind, ent.ID, formatFields(ent.Fields))
		return err
	})
}

// syncMark reports whether the server has confirmed the entity.
func syncMark(ent ir.Entity) string {
	if ent.IsTemporary() {
		return "no"
	}
	return "yes"
}

// formatFields renders fields other than id as sorted key=value pairs.
func formatFields(fields ir.Payload) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != "id" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, fields[k])
	}
	return strings.Join(parts, " ")
}
