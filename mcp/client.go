package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbocsi/relayhub/services"
)

// MCPClient exposes the hub's services as MCP tools.
type MCPClient struct {
	mcpServer *MCPServer
	services  *services.ServiceContainer
}

func NewMCPClient(serviceContainer *services.ServiceContainer, mcpServer *MCPServer) *MCPClient {
	client := &MCPClient{
		services:  serviceContainer,
		mcpServer: mcpServer,
	}
	client.registerDeviceTools()
	client.registerSystemTools()
	return client
}

// Start serves the tools over stdio until stdin closes.
func (m *MCPClient) Start() error {
	return m.mcpServer.Run()
}

// registerDeviceTools registers MCP tools for device management
func (m *MCPClient) registerDeviceTools() {
	listDevicesTool := mcp.NewTool("list_devices",
		mcp.WithDescription("List every device the hub knows about, sorted by name"),
		mcp.WithString("kind",
			mcp.Description("Only list devices of this kind"),
			mcp.Enum("rf", "mesh"),
		),
	)
	m.mcpServer.AddTool(listDevicesTool, m.handleListDevices)

	getDeviceTool := mcp.NewTool("get_device",
		mcp.WithDescription("Get one device and the commands its backend offers"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Device diff id"),
		),
	)
	m.mcpServer.AddTool(getDeviceTool, m.handleGetDevice)

	renameTool := mcp.NewTool("rename_device",
		mcp.WithDescription("Rename a device for every connected viewer"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Device diff id"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("New display name"),
		),
	)
	m.mcpServer.AddTool(renameTool, m.handleRenameDevice)

	sendCommandTool := mcp.NewTool("send_command",
		mcp.WithDescription("Send an action to a backend and return its reply. The reply is also broadcast to every viewer"),
		mcp.WithString("key",
			mcp.Required(),
			mcp.Description("Protocol key of the backend, such as rf or mesh"),
		),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("Action from the backend's command menu"),
		),
		mcp.WithString("data",
			mcp.Description("Action argument, usually a JSON document"),
		),
	)
	m.mcpServer.AddTool(sendCommandTool, m.handleSendCommand)
}

// registerSystemTools registers MCP tools for system management
func (m *MCPClient) registerSystemTools() {
	statusTool := mcp.NewTool("hub_status",
		mcp.WithDescription("Get hub counters, backends and command menus"),
		mcp.WithBoolean("include_transports",
			mcp.Description("Include transport information"),
		),
	)
	m.mcpServer.AddTool(statusTool, m.handleHubStatus)
}

func (m *MCPClient) handleListDevices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind := request.GetString("kind", "")

	devices, err := m.services.Device.ListDevices(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error listing devices: %v", err)), nil
	}
	if kind != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if string(d.Kind) == kind {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	return jsonResult(map[string]interface{}{
		"devices": devices,
		"count":   len(devices),
	})
}

func (m *MCPClient) handleGetDevice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required and must be a string"), nil
	}

	device, err := m.services.Device.GetDevice(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(device)
}

func (m *MCPClient) handleRenameDevice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required and must be a string"), nil
	}
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required and must be a string"), nil
	}

	reply, err := m.services.Device.RenameDevice(ctx, id, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Rename failed: %v", err)), nil
	}
	return mcp.NewToolResultText(reply.Response), nil
}

func (m *MCPClient) handleSendCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("key is required and must be a string"), nil
	}
	action, err := request.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required and must be a string"), nil
	}

	reply, err := m.services.Messaging.SendMessage(ctx, services.MessageRequest{
		Key:    key,
		Action: action,
		Data:   request.GetString("data", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Command failed: %v", err)), nil
	}
	return jsonResult(reply)
}

func (m *MCPClient) handleHubStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	includeTransports := request.GetBool("include_transports", true)

	status := map[string]interface{}{
		"timestamp": time.Now().Unix(),
		"hub":       m.services.Transport.GetStatus(),
	}

	if commands, err := m.services.Command.ListCommands(ctx); err == nil {
		status["commands"] = commands
	}

	if includeTransports {
		if transports, err := m.services.Transport.ListTransports(); err == nil {
			status["transports"] = map[string]interface{}{
				"count": len(transports),
				"list":  transports,
			}
		}
	}

	return jsonResult(status)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	resultBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(resultBytes)), nil
}
