package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatRows renders rows as a markdown table.
func FormatRows(view string, rows []RowOutput) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s\n\n", view))

	if len(rows) == 0 {
		sb.WriteString("No rows.\n")
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("%d row(s)\n\n", len(rows)))
	sb.WriteString("| Key | Value | File |\n|---|---|---|\n")
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s |\n", cell(r.Key), cell(r.Value), escape(r.File)))
	}
	return sb.String()
}

// FormatViews renders view descriptions as a markdown list.
func FormatViews(views []ViewInfo) string {
	if len(views) == 0 {
		return "No views defined.\n"
	}
	var sb strings.Builder
	sb.WriteString("## Views\n\n")
	for _, v := range views {
		kind := "entries"
		if v.Reducing {
			kind = "reduced"
		}
		sb.WriteString(fmt.Sprintf("- **%s** (%s): `%s`\n", v.Name, kind, strings.Join(v.Paths, "`, `")))
	}
	return sb.String()
}

// cell renders v as compact JSON for a table cell.
func cell(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return escape(fmt.Sprint(v))
	}
	return "`" + escape(string(b)) + "`"
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
