// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes waymark workspaces to LLM tooling via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/waymark/internal/anchorstore"
	"github.com/starford/waymark/internal/workspace"
)

// DocumentFormatURI is the resource URI of the document format contract.
const DocumentFormatURI = "waymark://document-format"

// Server wraps the MCP server with waymark tools.
type Server struct {
	mcp *server.MCPServer
	svc *workspace.Service
}

// New creates a new MCP server with all waymark tools registered.
func New(svc *workspace.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Waymark",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_workspaces",
		mcp.WithDescription("List every workspace with its group and anchor counts."),
	), s.listWorkspaces)

	s.mcp.AddTool(mcp.NewTool("get_anchors",
		mcp.WithDescription("Return the persisted anchor document of a workspace in the canonical JSON format. "+
			"Positions and rotations are relative to the reference each group belongs to."),
		mcp.WithString("workspace", mcp.Required(), mcp.Description("Workspace name")),
	), s.getAnchors)

	s.mcp.AddTool(mcp.NewTool("search_keys",
		mcp.WithDescription("Find image reference keys across all workspaces."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchKeys)

	s.mcp.AddTool(mcp.NewTool("import_anchors",
		mcp.WithDescription("Replace the anchor document of a workspace. "+
			"Content MUST follow the document format contract; legacy shapes are accepted "+
			"and stored canonically. Read the contract first via the get_document_format tool "+
			"or the "+DocumentFormatURI+" resource."),
		mcp.WithString("workspace", mcp.Required(), mcp.Description("Workspace name")),
		mcp.WithString("content", mcp.Required(), mcp.Description("JSON document")),
		mcp.WithString("key", mcp.Description("Image key to file a single-record document under")),
	), s.importAnchors)

	s.mcp.AddTool(mcp.NewTool("clear_anchors",
		mcp.WithDescription("Delete anchors from a workspace: one group when group_id is given, otherwise all of them."),
		mcp.WithString("workspace", mcp.Required(), mcp.Description("Workspace name")),
		mcp.WithString("group_id", mcp.Description("Optional group id to clear")),
	), s.clearAnchors)

	s.mcp.AddTool(mcp.NewTool("get_document_format",
		mcp.WithDescription("Returns the anchor document format contract. "+
			"Call this before importing documents to ensure correct structure."),
	), s.getDocumentFormat)

	// Resource: document format contract.
	s.mcp.AddResource(
		mcp.NewResource(DocumentFormatURI, "Anchor Document Format",
			mcp.WithResourceDescription("Canonical JSON format of persisted anchor documents."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readDocumentFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listWorkspaces(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.svc.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(list)
}

func (s *Server) getAnchors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("workspace")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.Document(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := anchorstore.Encode(doc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) searchKeys(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.svc.SearchKeys(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(hits)
}

func (s *Server) importAnchors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("workspace")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	key := ""
	if k, kerr := req.RequireString("key"); kerr == nil {
		key = k
	}
	doc, err := s.svc.Import(ctx, name, []byte(content), key)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("imported %d group(s), %d anchor(s) into %s",
		len(doc.Groups), doc.RecordCount(), name)), nil
}

func (s *Server) clearAnchors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("workspace")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if groupID, gerr := req.RequireString("group_id"); gerr == nil && groupID != "" {
		if err := s.svc.ClearGroup(ctx, name, groupID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("cleared group %s in %s", groupID, name)), nil
	}
	if err := s.svc.ClearAll(ctx, name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("cleared all anchors in %s", name)), nil
}

func (s *Server) getDocumentFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DocumentFormatContract), nil
}

func (s *Server) readDocumentFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      DocumentFormatURI,
			MIMEType: "text/markdown",
			Text:     DocumentFormatContract,
		},
	}, nil
}
