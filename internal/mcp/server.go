package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/OrtobomPatricio/crmpro/internal/domain"
	"github.com/OrtobomPatricio/crmpro/internal/service"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server exposes CRM operations as MCP tools over SSE so agent runtimes
// can query leads and send messages.
type Server struct {
	services *service.Services
	mcp      *server.MCPServer
}

func NewServer(services *service.Services) *Server {
	s := &Server{
		services: services,
		mcp: server.NewMCPServer(
			"crmpro",
			"1.0.0",
			server.WithToolCapabilities(false),
		),
	}
	s.registerTools()
	return s
}

// Start serves the SSE transport on the given port. Blocks.
func (s *Server) Start(port string) error {
	sse := server.NewSSEServer(s.mcp)
	log.Printf("[MCP] Tools server listening on :%s", port)
	return sse.Start(":" + port)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("list_leads",
		mcp.WithDescription("List leads for an account, optionally filtered by status or search text"),
		mcp.WithString("account_id", mcp.Required(), mcp.Description("Account UUID")),
		mcp.WithString("status", mcp.Description("Filter by lead status (new, contacted, qualified, proposal, won, lost)")),
		mcp.WithString("search", mcp.Description("Search in name, phone and email")),
	), s.handleListLeads)

	s.mcp.AddTool(mcp.NewTool("get_lead",
		mcp.WithDescription("Get a single lead by id"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Lead UUID")),
	), s.handleGetLead)

	s.mcp.AddTool(mcp.NewTool("list_conversations",
		mcp.WithDescription("List recent conversations for an account"),
		mcp.WithString("account_id", mcp.Required(), mcp.Description("Account UUID")),
	), s.handleListConversations)

	s.mcp.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a text message into a conversation"),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation UUID")),
		mcp.WithString("body", mcp.Required(), mcp.Description("Message text")),
	), s.handleSendMessage)
}

func stringArg(req mcp.CallToolRequest, key string) string {
	args, ok := req.Params.Arguments.(map[string]interface{})
	if !ok {
		return ""
	}
	v, _ := args[key].(string)
	return v
}

func uuidArg(req mcp.CallToolRequest, key string) (uuid.UUID, error) {
	raw := stringArg(req, key)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%s is required", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %s", key, raw)
	}
	return id, nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func (s *Server) handleListLeads(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accountID, err := uuidArg(req, "account_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	filter := &domain.LeadFilter{}
	if status := stringArg(req, "status"); status != "" {
		filter.Status = &status
	}
	if search := stringArg(req, "search"); search != "" {
		filter.Search = &search
	}

	leads, err := s.services.Lead.List(ctx, accountID, filter)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(leads)
}

func (s *Server) handleGetLead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := uuidArg(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	lead, err := s.services.Lead.GetByID(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if lead == nil {
		return mcp.NewToolResultError("lead not found"), nil
	}
	return jsonResult(lead)
}

func (s *Server) handleListConversations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accountID, err := uuidArg(req, "account_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	conversations, err := s.services.Conversation.List(ctx, accountID, &domain.ConversationFilter{})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(conversations)
}

func (s *Server) handleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conversationID, err := uuidArg(req, "conversation_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body := stringArg(req, "body")
	if body == "" {
		return mcp.NewToolResultError("body is required"), nil
	}

	message, err := s.services.Conversation.SendText(ctx, conversationID, body)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(message)
}
