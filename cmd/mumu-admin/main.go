// ABOUTME: Operator CLI for managing MCP plugins through the mumu server API
// ABOUTME: Provides plugin CRUD, connectivity tests, tool listing and invocation

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
  ┌┬┐┬ ┬┌┬┐┬ ┬
  │││└┬┘││││ │  admin
  ┴ ┴ ┴ ┴ ┴└─┘
`

var version = "dev"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath())
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}

	cli := &client{
		baseURL: strings.TrimSuffix(cfg.Server.URL, "/"),
		token:   cfg.Auth.Token,
		http:    &http.Client{Timeout: 120 * time.Second},
	}

	cmd := args[0]
	args = args[1:]

	switch cmd {
	case "plugins":
		err = cmdPlugins(cli, args)
	case "test":
		err = cmdTest(cli, args)
	case "tools":
		err = cmdTools(cli)
	case "call":
		err = cmdCall(cli, args)
	case "status":
		err = cmdStatus(cli)
	case "version", "--version", "-v":
		fmt.Printf("mumu-admin %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		color.Red("Error: unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("  Usage: mumu-admin <command> [arguments]")
	fmt.Println()
	yellow.Println("  Plugin Management:")
	fmt.Println("    plugins list                      List configured plugins")
	fmt.Println("    plugins add --name <name> --url <server-url> [--header K=V]...")
	fmt.Println("    plugins delete <id>               Remove a plugin")
	fmt.Println("    plugins toggle <id>               Enable or disable a plugin")
	fmt.Println("    test <id>                         Test plugin connectivity")
	fmt.Println()
	yellow.Println("  Tools:")
	fmt.Println("    tools                             List tools across enabled plugins")
	fmt.Println("    call <plugin> <tool> [json-args]  Invoke a single tool")
	fmt.Println()
	yellow.Println("  Other:")
	fmt.Println("    status                            Check server health")
	fmt.Println("    version                           Show version")
	fmt.Println()
	yellow.Println("  Environment:")
	fmt.Println("    MUMU_SERVER_URL     Server base URL (default http://localhost:8080)")
	fmt.Println("    MUMU_TOKEN          Bearer token for API access")
	fmt.Println("    MUMU_ADMIN_CONFIG   Override config file location")
	fmt.Println()
}

// client is a thin JSON client for the server's plugin API.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

// apiError mirrors the server's JSON error envelope.
type apiError struct {
	Error string `json:"error"`
}

func (c *client) do(method, path string, body, out any) error {
	if c.token == "" && path != "/health" {
		return fmt.Errorf("no API token configured (set MUMU_TOKEN or auth.token in %s)", configPath())
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// pluginView mirrors the server's plugin response payload.
type pluginView struct {
	ID           string `json:"id"`
	PluginName   string `json:"plugin_name"`
	PluginType   string `json:"plugin_type"`
	ServerURL    string `json:"server_url,omitempty"`
	Enabled      bool   `json:"enabled"`
	Status       string `json:"status"`
	LastError    string `json:"last_error,omitempty"`
	LastTestedAt string `json:"last_tested_at,omitempty"`
	Loaded       bool   `json:"loaded"`
}

// cmdPlugins handles plugins subcommands
func cmdPlugins(cli *client, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdPluginsList(cli)
	case "add", "create":
		return cmdPluginsAdd(cli, args)
	case "delete", "rm", "remove":
		return cmdPluginsDelete(cli, args)
	case "toggle":
		return cmdPluginsToggle(cli, args)
	default:
		return fmt.Errorf("unknown plugins subcommand: %s (use list, add, delete, toggle)", subcmd)
	}
}

// cmdPluginsList lists all configured plugins
func cmdPluginsList(cli *client) error {
	var plugins []pluginView
	if err := cli.do(http.MethodGet, "/api/plugins", nil, &plugins); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  MCP Plugins")
	cyan.Println("  -----------")

	if len(plugins) == 0 {
		fmt.Println("  (no plugins)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tTYPE\tENABLED\tSTATUS\tLOADED\tSERVER")
	fmt.Fprintln(w, "  --\t----\t----\t-------\t------\t------\t------")

	for _, p := range plugins {
		enabled := "no"
		if p.Enabled {
			enabled = "yes"
		}
		loaded := "no"
		if p.Loaded {
			loaded = "yes"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncate(p.ID, 12), p.PluginName, p.PluginType, enabled, p.Status, loaded, truncate(p.ServerURL, 40))
	}
	w.Flush()
	fmt.Println()

	for _, p := range plugins {
		if p.Status == "error" && p.LastError != "" {
			color.Red("  %s: %s\n", p.PluginName, p.LastError)
		}
	}

	return nil
}

// cmdPluginsAdd registers a new plugin
func cmdPluginsAdd(cli *client, args []string) error {
	var name, serverURL string
	headers := map[string]string{}
	enabled := true

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name", "-n":
			if i+1 < len(args) {
				name = args[i+1]
				i++
			}
		case "--url", "-u":
			if i+1 < len(args) {
				serverURL = args[i+1]
				i++
			}
		case "--header", "-H":
			if i+1 < len(args) {
				key, value, ok := strings.Cut(args[i+1], "=")
				if !ok {
					return fmt.Errorf("invalid header %q (expected KEY=VALUE)", args[i+1])
				}
				headers[key] = value
				i++
			}
		case "--disabled":
			enabled = false
		}
	}

	if name == "" || serverURL == "" {
		return fmt.Errorf("usage: plugins add --name <name> --url <server-url> [--header K=V] [--disabled]")
	}

	req := map[string]any{
		"plugin_name": name,
		"plugin_type": "http",
		"server_url":  serverURL,
		"enabled":     enabled,
	}
	if len(headers) > 0 {
		req["headers"] = headers
	}

	var created pluginView
	if err := cli.do(http.MethodPost, "/api/plugins", req, &created); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Created plugin: %s\n", created.ID)
	fmt.Printf("  Name:    %s\n", created.PluginName)
	fmt.Printf("  Server:  %s\n", created.ServerURL)
	fmt.Printf("  Enabled: %v\n", created.Enabled)

	return nil
}

// cmdPluginsDelete removes a plugin
func cmdPluginsDelete(cli *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: plugins delete <plugin-id>")
	}

	if err := cli.do(http.MethodDelete, "/api/plugins/"+args[0], nil, nil); err != nil {
		return err
	}

	color.Green("✓ Deleted plugin: %s\n", args[0])
	return nil
}

// cmdPluginsToggle flips a plugin's enabled state
func cmdPluginsToggle(cli *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: plugins toggle <plugin-id>")
	}

	var p pluginView
	if err := cli.do(http.MethodPost, "/api/plugins/"+args[0]+"/toggle", nil, &p); err != nil {
		return err
	}

	if p.Enabled {
		color.Green("✓ Enabled plugin: %s (status: %s)\n", p.PluginName, p.Status)
		if p.Status == "error" && p.LastError != "" {
			color.Red("  %s\n", p.LastError)
		}
	} else {
		color.Yellow("✓ Disabled plugin: %s\n", p.PluginName)
	}
	return nil
}

// testResponse mirrors the server's connectivity test payload.
type testResponse struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message,omitempty"`
	ResponseTimeMs float64  `json:"response_time_ms,omitempty"`
	ToolsCount     int      `json:"tools_count,omitempty"`
	Error          string   `json:"error,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

// cmdTest runs a connectivity test against one plugin
func cmdTest(cli *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: test <plugin-id>")
	}

	var result testResponse
	if err := cli.do(http.MethodPost, "/api/plugins/"+args[0]+"/test", nil, &result); err != nil {
		return err
	}

	if result.Success {
		color.Green("✓ Plugin is healthy")
		if result.ToolsCount > 0 {
			fmt.Printf("  Tools available: %d\n", result.ToolsCount)
		}
		if result.ResponseTimeMs > 0 {
			fmt.Printf("  Response time: %.0fms\n", result.ResponseTimeMs)
		}
		if result.Message != "" {
			fmt.Printf("  %s\n", result.Message)
		}
		return nil
	}

	color.Red("✗ Plugin test failed: %s\n", result.Error)
	for _, s := range result.Suggestions {
		fmt.Printf("  - %s\n", s)
	}
	return nil
}

// toolsResponse mirrors the server's aggregated tool listing.
type toolsResponse struct {
	Tools []struct {
		Type     string `json:"type"`
		Function struct {
			Name        string `json:"name"`
			Description string `json:"description,omitempty"`
		} `json:"function"`
	} `json:"tools"`
}

// cmdTools lists tools across all enabled plugins
func cmdTools(cli *client) error {
	var resp toolsResponse
	if err := cli.do(http.MethodGet, "/api/tools", nil, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Available Tools")
	cyan.Println("  ---------------")

	if len(resp.Tools) == 0 {
		fmt.Println("  (no tools)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  NAME\tDESCRIPTION")
	fmt.Fprintln(w, "  ----\t-----------")
	for _, t := range resp.Tools {
		fmt.Fprintf(w, "  %s\t%s\n", t.Function.Name, truncate(t.Function.Description, 60))
	}
	w.Flush()
	fmt.Println()

	return nil
}

// callResponse mirrors the server's tool invocation payload.
type callResponse struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// cmdCall invokes one tool on one plugin
func cmdCall(cli *client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: call <plugin-name> <tool-name> [json-args]")
	}

	arguments := map[string]any{}
	if len(args) >= 3 {
		if err := json.Unmarshal([]byte(args[2]), &arguments); err != nil {
			return fmt.Errorf("parsing tool arguments: %w", err)
		}
	}

	req := map[string]any{
		"plugin_name": args[0],
		"tool_name":   args[1],
		"arguments":   arguments,
	}

	var resp callResponse
	err := cli.do(http.MethodPost, "/api/plugins/call", req, &resp)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("tool failed: %s", resp.Error)
	}

	switch v := resp.Result.(type) {
	case string:
		fmt.Println(v)
	default:
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("formatting result: %w", err)
		}
		fmt.Println(string(pretty))
	}
	return nil
}

// cmdStatus checks server health
func cmdStatus(cli *client) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()

	var health map[string]string
	if err := cli.do(http.MethodGet, "/health", nil, &health); err != nil {
		yellow.Printf("  Server:  ")
		color.Red("UNREACHABLE (%v)\n", err)
		fmt.Println()
		return nil
	}

	green.Printf("  Server:  ")
	fmt.Printf("connected to %s\n", cli.baseURL)

	if cli.token == "" {
		yellow.Printf("  Auth:    ")
		fmt.Println("(no token - set MUMU_TOKEN)")
	} else {
		var plugins []pluginView
		if err := cli.do(http.MethodGet, "/api/plugins", nil, &plugins); err != nil {
			yellow.Printf("  Auth:    ")
			color.Red("token rejected (%v)\n", err)
		} else {
			green.Printf("  Auth:    ")
			fmt.Printf("token accepted, %d plugin(s) configured\n", len(plugins))
		}
	}

	fmt.Println()
	return nil
}

// truncate shortens a string to max characters for table display.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
