package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

// Client is a thin MCP server that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Tic-Tac-Toe Session Broker",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Tic-Tac-Toe Session Broker - MCP Interface

This is a read-only operator view that proxies requests to the broker's REST API.
Players connect over WebSocket; sessions cannot be created or changed from here.

AVAILABLE TOOLS:
- server_health: Connection and session counts
- list_sessions: List sessions with their members and slot state
- get_session: Show one session, including the board when a match is running`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "server_health",
		Description: "Report broker health with live connection and session counts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleHealth)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List sessions, newest first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of sessions to return (optional)",
				},
			},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get details of a specific session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session ID to retrieve",
				},
			},
			Required: []string{"session_id"},
		},
	}, c.handleGetSession)
}

// GetMCPServer returns the underlying MCP server
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// HTTPHandler serves single JSON-RPC MCP messages over POST
func (c *Client) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := c.mcpServer.HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// apiCall performs a REST request against the broker
func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return errors.Newf("%s", msg)
		}
		return errors.Newf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) handleHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var health struct {
		Status   string `json:"status"`
		Clients  int    `json:"clients"`
		Sessions int    `json:"sessions"`
	}

	if err := c.apiCall(ctx, "GET", "/api/health", nil, &health); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Status: %s\nConnected clients: %d\nSessions: %d",
		health.Status, health.Clients, health.Sessions)), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := "/api/sessions"
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		if limit, ok := args["limit"].(float64); ok && limit > 0 {
			path = fmt.Sprintf("%s?limit=%d", path, int(limit))
		}
	}

	var response struct {
		Count    int                   `json:"count"`
		Total    int                   `json:"total"`
		Sessions []service.SessionInfo `json:"sessions"`
	}

	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Sessions (%d of %d):\n\n", response.Count, response.Total)
	for _, s := range response.Sessions {
		result += fmt.Sprintf("- %s [%s] members: %s (Created: %s)\n",
			s.ID, s.State.Players.Kind, formatMembers(s.Members), s.CreatedAt.Format("15:04:05"))
	}

	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	var info service.SessionInfo
	if err := c.apiCall(ctx, "GET", fmt.Sprintf("/api/sessions/%s", sessionID), nil, &info); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSessionInfo(&info)), nil
}

// formatMembers renders "alice (active), bob (away)" in id order
func formatMembers(members map[string]bool) string {
	if len(members) == 0 {
		return "none"
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		status := "away"
		if members[id] {
			status = "active"
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", id, status))
	}
	return strings.Join(parts, ", ")
}

// formatSessionInfo renders one session for a tool result
func formatSessionInfo(info *service.SessionInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s\n", info.ID)
	fmt.Fprintf(&sb, "Created: %s\n", info.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Members: %s\n", formatMembers(info.Members))

	players := info.State.Players
	fmt.Fprintf(&sb, "Slots: %s\n", players.Kind)
	if players.Kind == service.SlotFull {
		fmt.Fprintf(&sb, "Players: %s vs %s, %s to move\n", players.First.ID, players.Second.ID, players.Active)
	} else if players.Kind == service.SlotPartial {
		fmt.Fprintf(&sb, "Waiting: %s\n", players.First.ID)
	}

	if len(info.State.RawGame) > 0 {
		var game struct {
			Board  [][]string `json:"board"`
			State  string     `json:"state"`
			Winner *string    `json:"winner"`
		}
		if err := json.Unmarshal(info.State.RawGame, &game); err == nil && len(game.Board) > 0 {
			sb.WriteString("\nBoard:\n")
			for _, row := range game.Board {
				for _, cell := range row {
					sb.WriteString(cellSymbol(cell))
				}
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "State: %s", game.State)
			if game.Winner != nil {
				fmt.Fprintf(&sb, " (winner: %s)", *game.Winner)
			}
			sb.WriteByte('\n')
		}
	}

	return sb.String()
}

func cellSymbol(cell string) string {
	switch cell {
	case "Cross":
		return "X"
	case "Circle":
		return "O"
	}
	return "."
}
