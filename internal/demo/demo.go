// Package demo provides the two illustrative tools served by
// toolbridge-server: search_documents and get_weather. Their bodies are
// canned; they exist to exercise discovery, defaults and invocation.
package demo

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/wagiedev/toolbridge-go/internal/registry"
)

// Server identity reported by toolbridge-server.
const (
	ServerName    = "framework-mcp-server"
	ServerVersion = "1.0.0"
)

// Tool names.
const (
	SearchDocuments = "search_documents"
	GetWeather      = "get_weather"
)

// SearchArgs are the arguments of search_documents.
type SearchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Max results,default=10"`
}

// WeatherArgs are the arguments of get_weather.
type WeatherArgs struct {
	Location string `json:"location" jsonschema:"required,description=Location name"`
}

// Search answers search_documents. An absent limit has already been filled
// in from the schema default by the registry.
func Search(_ context.Context, args SearchArgs) (*mcp.CallToolResult, error) {
	return registry.TextResult(fmt.Sprintf("Found %d documents matching '%s'", args.Limit, args.Query)), nil
}

// Weather answers get_weather.
func Weather(_ context.Context, args WeatherArgs) (*mcp.CallToolResult, error) {
	return registry.TextResult(fmt.Sprintf("Weather in %s: 72°F, sunny", args.Location)), nil
}

// Register installs both tools in reg.
func Register(reg *registry.Registry) error {
	searchSchema, err := registry.Reflect[SearchArgs]()
	if err != nil {
		return err
	}

	weatherSchema, err := registry.Reflect[WeatherArgs]()
	if err != nil {
		return err
	}

	if err := reg.Register(
		registry.NewTool(SearchDocuments, "Search through documents", searchSchema),
		registry.Bind(Search),
	); err != nil {
		return err
	}

	return reg.Register(
		registry.NewTool(GetWeather, "Get weather information", weatherSchema),
		registry.Bind(Weather),
	)
}

// NewRegistry returns a registry holding the demo tools.
func NewRegistry() (*registry.Registry, error) {
	reg := registry.New(ServerName, ServerVersion)
	if err := Register(reg); err != nil {
		return nil, err
	}

	return reg, nil
}
