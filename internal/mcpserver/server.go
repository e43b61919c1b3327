// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes richfilter tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/richfilter/internal/apperr"
	"github.com/starford/richfilter/internal/docservice"
)

// Server wraps the MCP server with richfilter tools.
type Server struct {
	mcp *server.MCPServer
	svc *docservice.Service
}

// New creates a new MCP server with all richfilter tools registered.
func New(svc *docservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"richfilter",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("filter_content",
		mcp.WithDescription("Sanitize a raw rich-text document (JSON or YAML) against the filter policy "+
			"without storing it. Returns the sanitized content and a per-stage change report."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Raw content document with blocks and entityMap")),
	), s.filterContent)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read a stored document with its title, checksum and entity types."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the document (e.g. posts/hello.json)")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("create_document",
		mcp.WithDescription("Create a new document at the specified path. The content is sanitized "+
			"before it is stored; read the policy first via get_filter_policy or the "+
			PolicyURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path for the new document (.json, .yaml or .yml)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Raw content document")),
	), s.createDocument)

	s.mcp.AddTool(mcp.NewTool("update_document",
		mcp.WithDescription("Replace an existing document. Pass the checksum from read_document to guard "+
			"against concurrent edits."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the document")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Raw content document")),
		mcp.WithString("checksum", mcp.Description("Expected checksum of the stored document")),
	), s.updateDocument)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List stored documents with their titles."),
		mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
		mcp.WithString("sort", mcp.Description("Sort order"), mcp.Enum("path", "title", "recent")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Full-text search through document text and titles."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchDocuments)

	s.mcp.AddTool(mcp.NewTool("document_runs",
		mcp.WithDescription("Show the recent filter runs recorded for a document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the document")),
	), s.documentRuns)

	s.mcp.AddTool(mcp.NewTool("render_document",
		mcp.WithDescription("Render a stored document as sanitized HTML."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the document")),
	), s.renderDocument)

	s.mcp.AddTool(mcp.NewTool("get_filter_policy",
		mcp.WithDescription("Returns the effective filter policy: allowed block types, inline styles, "+
			"entity types and the maximum list nesting."),
	), s.getFilterPolicy)

	s.mcp.AddResource(
		mcp.NewResource(PolicyURI, "Filter Policy",
			mcp.WithResourceDescription("Allowed structure for documents stored in the vault."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPolicyResource,
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

// toolError turns a service error into a tool-level error result.
func toolError(path string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path))
	case errors.Is(err, apperr.ErrAlreadyExists):
		return mcp.NewToolResultError(fmt.Sprintf("document already exists: %s", path))
	case errors.Is(err, apperr.ErrConflict):
		return mcp.NewToolResultError(fmt.Sprintf("checksum mismatch: %s changed since it was read", path))
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func (s *Server) filterContent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Filter(ctx, []byte(content))
	if err != nil {
		return toolError("", err), nil
	}
	return jsonResult(res)
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.Get(ctx, path)
	if err != nil {
		return toolError(path, err), nil
	}
	return jsonResult(doc)
}

func (s *Server) createDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.Create(ctx, path, []byte(content))
	if err != nil {
		return toolError(path, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s (%d rewrites)", path, doc.Report.Total())), nil
}

func (s *Server) updateDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.Update(ctx, path, []byte(content), req.GetString("checksum", ""))
	if err != nil {
		return toolError(path, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated: %s (%d rewrites)", path, doc.Report.Total())), nil
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, total, err := s.svc.List(ctx,
		req.GetInt("limit", 50),
		req.GetInt("offset", 0),
		req.GetString("sort", "path"),
	)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"documents": items, "total": total})
}

func (s *Server) searchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no documents found"), nil
	}
	return jsonResult(results)
}

func (s *Server) documentRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	runs, err := s.svc.Runs(ctx, path, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(runs)
}

func (s *Server) renderDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.svc.Render(ctx, path)
	if err != nil {
		return toolError(path, err), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Server) getFilterPolicy(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PolicyContract(s.svc.Policy())), nil
}

func (s *Server) readPolicyResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      PolicyURI,
			MIMEType: "text/markdown",
			Text:     PolicyContract(s.svc.Policy()),
		},
	}, nil
}
