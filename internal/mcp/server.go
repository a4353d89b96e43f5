package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/mapview/internal/mapreduce"
	"github.com/Aman-CERP/mapview/internal/view"
	"github.com/Aman-CERP/mapview/pkg/version"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Server is the MCP server for mapview. It is read-only: clients can
// inspect views but not index or reset them.
type Server struct {
	mcp    *mcp.Server
	db     *mapreduce.DB
	logger *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "list_views",
		Description: "List the materialized views with their path patterns and whether they reduce. Call this first to learn what can be queried.",
	},
	{
		Name:        "get",
		Description: "Read one key from a view. Returns the ordered entry values for plain views or the reduced value for reducing views.",
	},
	{
		Name:        "list",
		Description: "Range-scan a view in key order with optional gt/gte/lt/lte bounds, reverse order and a row limit. Array keys compare element by element.",
	},
	{
		Name:        "index_status",
		Description: "Show the indexed archives, whether each is watched or waiting to become reachable, and the version each view has caught up to.",
	},
}

// NewServer creates a new MCP server over db.
func NewServer(db *mapreduce.DB) (*Server, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}

	s := &Server{db: db, logger: slog.Default()}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "mapview",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "mapview", version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

// CallTool invokes a tool by name with decoded JSON arguments and returns
// markdown for row tools and structured output for index_status.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "list_views":
		out, err := s.listViews(ctx)
		if err != nil {
			return nil, MapError(err)
		}
		return FormatViews(out.Views), nil
	case "get":
		out, err := s.get(ctx, GetInput{View: str(args["view"]), Key: args["key"]})
		if err != nil {
			return nil, err
		}
		return FormatRows(out.View, out.Rows), nil
	case "list":
		in := ListInput{
			View: str(args["view"]),
			GT:   args["gt"], GTE: args["gte"], LT: args["lt"], LTE: args["lte"],
		}
		in.Reverse, _ = args["reverse"].(bool)
		if l, ok := args["limit"].(float64); ok {
			in.Limit = int(l)
		}
		out, err := s.list(ctx, in)
		if err != nil {
			return nil, err
		}
		return FormatRows(out.View, out.Rows), nil
	case "index_status":
		return s.indexStatus(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func (s *Server) listViews(ctx context.Context) (*ListViewsOutput, error) {
	out := &ListViewsOutput{Views: []ViewInfo{}}
	for _, name := range s.db.Views() {
		v, err := s.db.View(ctx, name)
		if err != nil {
			return nil, err
		}
		out.Views = append(out.Views, ViewInfo{Name: name, Paths: v.Patterns(), Reducing: v.Reducing()})
	}
	return out, nil
}

func (s *Server) get(ctx context.Context, in GetInput) (*RowsOutput, error) {
	if strings.TrimSpace(in.View) == "" {
		return nil, NewInvalidParamsError("view parameter is required")
	}
	start := time.Now()
	requestID := generateRequestID()

	row, err := s.db.Get(ctx, in.View, in.Key)
	if err != nil {
		s.logger.Debug("get failed",
			slog.String("request_id", requestID),
			slog.String("view", in.View),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("get completed",
		slog.String("request_id", requestID),
		slog.String("view", in.View),
		slog.Duration("duration", time.Since(start)))
	return &RowsOutput{View: in.View, Rows: []RowOutput{toRow(row)}}, nil
}

func (s *Server) list(ctx context.Context, in ListInput) (*RowsOutput, error) {
	if strings.TrimSpace(in.View) == "" {
		return nil, NewInvalidParamsError("view parameter is required")
	}
	start := time.Now()
	requestID := generateRequestID()

	opts := view.ListOptions{
		GT: in.GT, GTE: in.GTE, LT: in.LT, LTE: in.LTE,
		Reverse: in.Reverse,
		Limit:   clampLimit(in.Limit, defaultListLimit, 1, maxListLimit),
	}
	rows, err := s.db.List(ctx, in.View, opts)
	if err != nil {
		s.logger.Error("list failed",
			slog.String("request_id", requestID),
			slog.String("view", in.View),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	out := &RowsOutput{View: in.View, Rows: make([]RowOutput, 0, len(rows))}
	for _, r := range rows {
		out.Rows = append(out.Rows, toRow(r))
	}
	s.logger.Info("list completed",
		slog.String("request_id", requestID),
		slog.String("view", in.View),
		slog.Int("row_count", len(rows)),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

func (s *Server) indexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	archives, err := s.db.Status(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	if archives == nil {
		archives = []mapreduce.Status{}
	}
	return &IndexStatusOutput{
		Open:     s.db.IsOpen(),
		Views:    s.db.Views(),
		Archives: archives,
	}, nil
}

func toRow(r view.Row) RowOutput {
	return RowOutput{Key: r.Key, Value: r.Value, File: r.File}
}

// clampLimit returns def for non-positive n, else n bounded to [lo, hi].
func clampLimit(n, def, lo, hi int) int {
	if n <= 0 {
		return def
	}
	return max(lo, min(n, hi))
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, _ ListViewsInput) (*mcp.CallToolResult, *ListViewsOutput, error) {
			out, err := s.listViews(ctx)
			if err != nil {
				return nil, nil, MapError(err)
			}
			return nil, out, nil
		})
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in GetInput) (*mcp.CallToolResult, *RowsOutput, error) {
			out, err := s.get(ctx, in)
			if err != nil {
				return nil, nil, err
			}
			return nil, out, nil
		})
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in ListInput) (*mcp.CallToolResult, *RowsOutput, error) {
			out, err := s.list(ctx, in)
			if err != nil {
				return nil, nil, err
			}
			return nil, out, nil
		})
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[3].Name, Description: tools[3].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (*mcp.CallToolResult, *IndexStatusOutput, error) {
			out, err := s.indexStatus(ctx)
			if err != nil {
				return nil, nil, err
			}
			return nil, out, nil
		})

	s.logger.Debug("MCP tools registered", slog.Int("count", len(tools)))
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
