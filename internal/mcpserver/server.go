// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes link ledger tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/linkledger/internal/apperr"
	"github.com/starford/linkledger/internal/linkservice"
)

const ledgerFormatURI = "linkledger://ledger-format"

// Server wraps the MCP server with link ledger tools.
type Server struct {
	mcp *server.MCPServer
	svc *linkservice.Service
}

// New creates a new MCP server with all ledger tools registered.
func New(svc *linkservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"linkledger",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("read_ledger",
		mcp.WithDescription("Read the link ledger. Returns the raw Markdown unless format is \"json\"."),
		mcp.WithString("format", mcp.Description("\"markdown\" (default) or \"json\""), mcp.Enum("markdown", "json")),
	), s.readLedger)

	s.mcp.AddTool(mcp.NewTool("add_link",
		mcp.WithDescription("Add a link to the ledger, creating the category when needed. "+
			"Read the format contract first via get_ledger_format or the "+ledgerFormatURI+" resource."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Link URL")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Link title shown in the ledger")),
		mcp.WithString("description", mcp.Description("Optional one-line description")),
		mcp.WithString("category", mcp.Description("Category heading; empty leaves the link uncategorized")),
	), s.addLink)

	s.mcp.AddTool(mcp.NewTool("delete_link",
		mcp.WithDescription("Delete the first link, in document order, whose url or title matches."),
		mcp.WithString("url", mcp.Description("URL of the link to delete")),
		mcp.WithString("title", mcp.Description("Title of the link to delete")),
	), s.deleteLink)

	s.mcp.AddTool(mcp.NewTool("delete_links",
		mcp.WithDescription("Delete every link matching any of the given selectors in a single commit."),
		mcp.WithArray("links", mcp.Required(),
			mcp.Description("Selectors, each with url and/or title"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url":   map[string]any{"type": "string"},
					"title": map[string]any{"type": "string"},
				},
			}),
		),
	), s.deleteLinks)

	s.mcp.AddTool(mcp.NewTool("search_links",
		mcp.WithDescription("Search links by title, URL, description or category."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 20)")),
	), s.searchLinks)

	s.mcp.AddTool(mcp.NewTool("get_ledger_format",
		mcp.WithDescription("Returns the link ledger format contract."),
	), s.getLedgerFormat)

	s.mcp.AddResource(
		mcp.NewResource(ledgerFormatURI, "Link Ledger Format",
			mcp.WithResourceDescription("Markdown layout of the link ledger."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLedgerFormatResource,
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

// toolError renders err for the model. Permission failures carry the
// remediation text.
func toolError(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrPermissionDenied) {
		return mcp.NewToolResultError(err.Error() + "\n\n" + apperr.PermissionRemediation)
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) readLedger(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if req.GetString("format", "markdown") == "json" {
		view, err := s.svc.Ledger(ctx)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(view), nil
	}
	content, _, err := s.svc.RawLedger(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(string(content)), nil
}

func (s *Server) addLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.AddLink(ctx, linkservice.AddLinkRequest{
		URL:         url,
		Title:       title,
		Description: req.GetString("description", ""),
		Category:    req.GetString("category", ""),
	})
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(summary("added", res)), nil
}

func (s *Server) deleteLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.svc.DeleteLink(ctx, linkservice.DeleteLinkRequest{
		URL:   req.GetString("url", ""),
		Title: req.GetString("title", ""),
	})
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(summary("deleted", res)), nil
}

func (s *Server) deleteLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args linkservice.DeleteLinksRequest
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	res, err := s.svc.DeleteLinks(ctx, args)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(summary(fmt.Sprintf("deleted %d", len(res.Change.Entries)), res)), nil
}

func (s *Server) searchLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return toolError(err), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no links found"), nil
	}
	return jsonResult(results), nil
}

func (s *Server) getLedgerFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(LedgerFormatContract), nil
}

func (s *Server) readLedgerFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ledgerFormatURI,
			MIMEType: "text/markdown",
			Text:     LedgerFormatContract,
		},
	}, nil
}

// summary is the one-line outcome shown to the model.
func summary(verb string, res *linkservice.ChangeResult) string {
	var b strings.Builder
	b.WriteString(verb)
	if !res.Written {
		b.WriteString(" (no change)")
	} else {
		fmt.Fprintf(&b, " at version %s", res.Version)
	}
	if len(res.Repaired) > 0 {
		fmt.Fprintf(&b, "; removed %d duplicate link(s) first", len(res.Repaired))
	}
	return b.String()
}
