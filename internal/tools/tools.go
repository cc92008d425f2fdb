package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/pluglist-tools/moodle-plugin-lookup/internal/resolver"
)

const (
	ToolGetRawPluglist          = "get_raw_pluglist"
	ToolFindLatestPluginVersion = "find_latest_plugin_version"
	ToolGetCacheStatus          = "get_cache_status"
	ToolClearCache              = "clear_cache"
)

var noArguments = map[string]any{
	"type":       "object",
	"properties": map[string]any{},
	"required":   []string{},
}

var toolList = []Tool{
	{
		Name:        ToolGetRawPluglist,
		Description: "Fetch raw JSON data from Moodle plugin database API (with caching)",
		InputSchema: noArguments,
	},
	{
		Name:        ToolFindLatestPluginVersion,
		Description: "Find the latest version of a plugin compatible with a Moodle version or release",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"plugin_name": map[string]any{
					"type":        "string",
					"description": "Name of the plugin component (e.g., mod_attendance)",
				},
				"moodle_identifier": map[string]any{
					"type":        "string",
					"description": `Moodle identifier: 10-digit version number (e.g., "2022111500") or major release (e.g., "4.1")`,
				},
			},
			"required": []string{"plugin_name", "moodle_identifier"},
		},
	},
	{
		Name:        ToolGetCacheStatus,
		Description: "Get information about the current cache status",
		InputSchema: noArguments,
	},
	{
		Name:        ToolClearCache,
		Description: "Clear the cached plugin list so the next request fetches fresh data",
		InputSchema: noArguments,
	},
}

func marshalText(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// stringArgument returns a string argument. Numbers are accepted as well,
// since build numbers are often passed unquoted.
func stringArgument(args map[string]any, name string) (string, error) {
	switch v := args[name].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("%s must be a string", name)
	}
}

// callTool runs a tool and returns its text output. Errors are reported to
// the caller as tool results, not as protocol errors.
func (s *Server) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case ToolGetRawPluglist:
		raw, err := s.service.RawPluglist(ctx)
		if err != nil {
			return "", err
		}
		return string(raw), nil

	case ToolFindLatestPluginVersion:
		pluginName, err := stringArgument(args, "plugin_name")
		if err != nil {
			return "", err
		}
		identifier, err := stringArgument(args, "moodle_identifier")
		if err != nil {
			return "", err
		}
		if pluginName == "" || identifier == "" {
			return "", errors.New("plugin_name and moodle_identifier are required")
		}
		constraint, err := resolver.ParseIdentifier(identifier)
		if err != nil {
			return "", err
		}
		res, err := s.service.FindLatestVersion(ctx, pluginName, constraint)
		if err != nil {
			return "", err
		}
		if !res.Found() {
			return res.Message, nil
		}
		return marshalText(res.Response)

	case ToolGetCacheStatus:
		st, err := s.service.CacheStatus(ctx)
		if err != nil {
			return "", err
		}
		return marshalText(st)

	case ToolClearCache:
		if err := s.service.ClearCache(ctx); err != nil {
			return "", err
		}
		return "Cache cleared successfully. Next request will fetch fresh data.", nil

	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}
