package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/kbukum/idresolver/audit"
	"github.com/kbukum/idresolver/errors"
)

// render writes value in the selected format. Tables are built from header
// and rows; the structured formats encode value itself.
func render(w io.Writer, value any, header []string, rows [][]string) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(value); err != nil {
			return err
		}
		return enc.Close()
	case "table":
		table := tablewriter.NewWriter(w)
		table.Append(header)
		for _, row := range rows {
			table.Append(row)
		}
		table.Render()
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", outputFormat)
	}
}

// reportAudit prints what the audit record collected about unreachable
// resolvers.
func reportAudit(rec *audit.Record) {
	if specs := audit.Unavailable(rec); len(specs) > 0 {
		fmt.Fprintf(os.Stderr, "warning: unreachable resolvers: %s\n", strings.Join(specs, ", "))
	}
}

// reportError prints err for the selected format. With json output the
// error is encoded as an error response so scripts can read its code.
func reportError(w io.Writer, err error) {
	if outputFormat != "json" {
		fmt.Fprintln(w, err)
		return
	}
	resp := errors.ErrorResponse{Error: errors.ErrorBody{Code: errors.ErrCodeInternal, Message: err.Error()}}
	if appErr, ok := errors.AsAppError(err); ok {
		resp = appErr.ToResponse()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(resp); encErr != nil {
		fmt.Fprintln(w, err)
	}
}
