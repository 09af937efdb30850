package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Write prints the envelope data. Text output renders lists of objects as a
// table of the given columns and falls back to JSON otherwise.
func Write(w io.Writer, format Format, env *Envelope, columns ...string) error {
	if env == nil {
		return nil
	}
	if format == FormatText && len(columns) > 0 {
		var rows []map[string]any
		if err := json.Unmarshal(env.Data, &rows); err == nil {
			return writeTable(w, rows, columns)
		}
		var row map[string]any
		if err := json.Unmarshal(env.Data, &row); err == nil {
			return writeTable(w, []map[string]any{row}, columns)
		}
	}
	var v any = env
	if format == FormatText {
		v = json.RawMessage(env.Data)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func writeTable(w io.Writer, rows []map[string]any, columns []string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(columns, "\t")))
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, col := range columns {
			cells[i] = cell(row[col])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
