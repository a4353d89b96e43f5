package mcp

import "github.com/Aman-CERP/mapview/internal/mapreduce"

// ListViewsInput defines the input schema for the list_views tool (no parameters).
type ListViewsInput struct{}

// ListViewsOutput defines the output schema for the list_views tool.
type ListViewsOutput struct {
	Views []ViewInfo `json:"views" jsonschema:"defined views in definition order"`
}

// ViewInfo describes one view.
type ViewInfo struct {
	Name     string   `json:"name" jsonschema:"view name"`
	Paths    []string `json:"paths" jsonschema:"path patterns selecting the files the view maps"`
	Reducing bool     `json:"reducing" jsonschema:"true if values under a key are reduced to one value"`
}

// GetInput defines the input schema for the get tool.
type GetInput struct {
	View string `json:"view" jsonschema:"name of the view to read"`
	Key  any    `json:"key" jsonschema:"key to look up: a string, number, boolean, null or an array of those"`
}

// ListInput defines the input schema for the list tool.
type ListInput struct {
	View    string `json:"view" jsonschema:"name of the view to read"`
	GT      any    `json:"gt,omitempty" jsonschema:"only keys strictly greater than this"`
	GTE     any    `json:"gte,omitempty" jsonschema:"only keys greater than or equal to this"`
	LT      any    `json:"lt,omitempty" jsonschema:"only keys strictly less than this"`
	LTE     any    `json:"lte,omitempty" jsonschema:"only keys less than or equal to this"`
	Reverse bool   `json:"reverse,omitempty" jsonschema:"return rows in descending key order"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of rows, default 100"`
}

// RowsOutput defines the output schema for get and list.
type RowsOutput struct {
	View string      `json:"view" jsonschema:"view that was read"`
	Rows []RowOutput `json:"rows" jsonschema:"rows in key order"`
}

// RowOutput is one key/value pair.
type RowOutput struct {
	Key   any    `json:"key" jsonschema:"row key"`
	Value any    `json:"value" jsonschema:"entry value, list of entry values, or reduced value"`
	File  string `json:"file,omitempty" jsonschema:"URL of the file that produced the entry"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Open     bool               `json:"open" jsonschema:"whether the database is open"`
	Views    []string           `json:"views" jsonschema:"defined view names"`
	Archives []mapreduce.Status `json:"archives" jsonschema:"active archives with per-view checkpoints"`
}
