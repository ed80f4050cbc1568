package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/dray-io/bulkgc/internal/bulk"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printStatuses writes one row per command.
func printStatuses(w io.Writer, format string, statuses []*bulk.Status) error {
	if format == outputJSON {
		return printJSON(w, statuses)
	}
	table := newTable(w)
	table.SetHeader([]string{"ID", "Action", "Repository", "User", "State", "Total", "Processed", "Skipped", "Errors", "Submitted"})
	for _, st := range statuses {
		table.Append([]string{
			st.ID,
			st.Action,
			st.Repository,
			st.Username,
			string(st.State),
			strconv.FormatInt(st.Total, 10),
			strconv.FormatInt(st.Processed, 10),
			strconv.FormatInt(st.SkipCount, 10),
			strconv.FormatInt(st.ErrorCount, 10),
			formatTime(st.SubmitTime),
		})
	}
	table.Render()
	return nil
}

// printStatus writes every field of one command, then its result.
func printStatus(w io.Writer, format string, st *bulk.Status) error {
	if format == outputJSON {
		return printJSON(w, st)
	}
	pairs := [][2]string{
		{"ID", st.ID},
		{"Action", st.Action},
		{"Repository", st.Repository},
		{"User", st.Username},
		{"Query", st.Query},
		{"State", string(st.State)},
		{"Total", strconv.FormatInt(st.Total, 10)},
		{"Processed", strconv.FormatInt(st.Processed, 10)},
		{"Skipped", strconv.FormatInt(st.SkipCount, 10)},
		{"Errors", strconv.FormatInt(st.ErrorCount, 10)},
		{"Submitted", formatTime(st.SubmitTime)},
		{"Completed", formatTime(st.CompletedTime)},
	}
	if st.Error != "" {
		pairs = append(pairs, [2]string{"Error", st.Error})
	}
	keys := make([]string, 0, len(st.Result))
	for k := range st.Result {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, [2]string{"result." + k, fmt.Sprint(st.Result[k])})
	}

	table := newTable(w)
	table.SetAutoFormatHeaders(false)
	for _, p := range pairs {
		table.Append([]string{p[0], p[1]})
	}
	table.Render()
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

// statusExit maps a terminal status to the process outcome: item errors
// exit 3, anything but COMPLETED exits 1.
func statusExit(st *bulk.Status) error {
	switch {
	case st.State != bulk.StateCompleted:
		msg := fmt.Sprintf("command %s ended %s", st.ID, st.State)
		if st.Error != "" {
			msg += ": " + st.Error
		}
		return &exitError{code: exitFailure, err: errors.New(msg)}
	case st.HasError():
		return &exitError{code: exitItemErrors, err: fmt.Errorf("command %s completed with %d failed items", st.ID, st.ErrorCount)}
	}
	return nil
}
