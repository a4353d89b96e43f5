package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/mapview/internal/view"
)

// ResourceScheme prefixes view resource URIs.
const ResourceScheme = "view://"

// MaxResourceRows caps the rows returned when a view is read as a resource.
const MaxResourceRows = 1000

// RegisterResources registers every defined view as a JSON resource.
// Views defined later are not picked up.
func (s *Server) RegisterResources(ctx context.Context) error {
	views, err := s.listViews(ctx)
	if err != nil {
		return err
	}
	for _, v := range views.Views {
		s.mcp.AddResource(
			&mcp.Resource{
				Name:        v.Name,
				URI:         ResourceScheme + v.Name,
				Description: fmt.Sprintf("Rows of view %s (%s)", v.Name, strings.Join(v.Paths, ", ")),
				MIMEType:    "application/json",
			},
			s.makeViewHandler(v.Name),
		)
	}
	s.logger.Info("registered resources", "count", len(views.Views))
	return nil
}

func (s *Server) makeViewHandler(name string) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.ReadResource(ctx, ResourceScheme+name)
	}
}

// ReadResource returns the first MaxResourceRows rows of the view named by
// uri as a JSON array.
func (s *Server) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	name, ok := strings.CutPrefix(uri, ResourceScheme)
	if !ok || name == "" {
		return nil, NewResourceNotFoundError(uri)
	}

	rows, err := s.db.List(ctx, name, view.ListOptions{Limit: MaxResourceRows})
	if err != nil {
		return nil, MapError(err)
	}
	out := make([]RowOutput, 0, len(rows))
	for _, r := range rows {
		out = append(out, toRow(r))
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, MapError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(b),
			},
		},
	}, nil
}
