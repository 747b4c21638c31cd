// Package mcp implements `linkspeed mcp`, an MCP (Model Context Protocol)
// server over stdio. Agents spawn the process and call the link tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/saveenergy/linkspeed/pkg/diagnostic"
	lserrors "github.com/saveenergy/linkspeed/pkg/errors"
	"github.com/saveenergy/linkspeed/pkg/linkspeed"
)

const (
	maxSamples     = 20
	maxBlobSize    = 64 * 1024 * 1024
	measureTimeout = 2 * time.Minute
	lookupTimeout  = 10 * time.Second
	maxLookupBytes = 8192
)

var (
	resultIDPattern = regexp.MustCompile(`^[0-9a-zA-Z]{8}$`)

	// httpClient is shared by both tools; tests swap it.
	httpClient linkspeed.Doer = &http.Client{}
)

// Run serves MCP on stdio until stdin closes.
func Run(version string) int {
	if err := server.ServeStdio(newServer(version)); err != nil {
		fmt.Fprintf(os.Stderr, "linkspeed mcp: error: %v\n", err)
		return 1
	}
	return 0
}

func newServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"linkspeed",
		version,
		server.WithToolCapabilities(true),
	)

	measureTool := mcp.NewTool("measure_link",
		mcp.WithDescription("Measure round-trip time, download and upload speed with a few sequential HTTP samples. Returns the measurement plus a grade (A-F), suitability and concerns."),
		mcp.WithString("base_url",
			mcp.Description("linkspeed server base URL (default: the public linkspeed service)"),
		),
		mcp.WithNumber("samples",
			mcp.Description(fmt.Sprintf("Samples per phase, 1-%d (default: %d)", maxSamples, linkspeed.DefaultSamples)),
		),
		mcp.WithNumber("blob_size",
			mcp.Description(fmt.Sprintf("Payload bytes for download and upload, 0-%d (default: %d)", maxBlobSize, linkspeed.DefaultBlobSize)),
		),
	)
	s.AddTool(measureTool, handleMeasureLink)

	lookupTool := mcp.NewTool("get_saved_result",
		mcp.WithDescription("Fetch a measurement previously saved on a linkspeed server by its 8-character id."),
		mcp.WithString("base_url",
			mcp.Required(),
			mcp.Description("linkspeed server base URL"),
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Saved result id"),
		),
	)
	s.AddTool(lookupTool, handleGetSavedResult)

	return s
}

type measureOutput struct {
	Result     *linkspeed.Result          `json:"result"`
	Samples    int                        `json:"samples"`
	BlobSize   int64                      `json:"blob_size"`
	Diagnostic *diagnostic.Interpretation `json:"diagnostic"`
}

func handleMeasureLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	samples := req.GetInt("samples", linkspeed.DefaultSamples)
	blobSize := int64(req.GetInt("blob_size", int(linkspeed.DefaultBlobSize)))
	if samples < 1 || samples > maxSamples {
		return mcp.NewToolResultError(fmt.Sprintf("samples must be 1-%d", maxSamples)), nil
	}
	if blobSize < 0 || blobSize > maxBlobSize {
		return mcp.NewToolResultError(fmt.Sprintf("blob_size must be 0-%d", maxBlobSize)), nil
	}

	opts := []linkspeed.Option{
		linkspeed.WithSamples(samples),
		linkspeed.WithBlobSize(blobSize),
		linkspeed.WithClient(httpClient),
	}
	if base := strings.TrimSpace(req.GetString("base_url", "")); base != "" {
		opts = append(opts, linkspeed.WithBaseURL(base))
	}

	measureCtx, cancel := context.WithTimeout(ctx, measureTimeout)
	defer cancel()

	result, err := linkspeed.Measure(measureCtx, opts...)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Measurement failed: %v", err)), nil
	}

	return jsonResult(measureOutput{
		Result:     result,
		Samples:    samples,
		BlobSize:   blobSize,
		Diagnostic: diagnostic.Interpret(diagnostic.FromResult(result)),
	})
}

func handleGetSavedResult(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	base := strings.TrimRight(strings.TrimSpace(req.GetString("base_url", "")), "/")
	id := strings.TrimSpace(req.GetString("id", ""))
	if base == "" {
		return mcp.NewToolResultError("base_url is required"), nil
	}
	if !resultIDPattern.MatchString(id) {
		return mcp.NewToolResultError("id must be 8 alphanumeric characters"), nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(lookupCtx, http.MethodGet, base+"/api/v1/results/"+id, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid base_url: %v", err)), nil
	}
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Lookup failed: %v", err)), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLookupBytes))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Lookup failed: %v", err)), nil
	}
	if resp.StatusCode != http.StatusOK {
		herr := lserrors.NewHTTPError(httpReq.Method, httpReq.URL.String(), resp.StatusCode, resp.Status)
		return mcp.NewToolResultError(fmt.Sprintf("Lookup failed: %v", herr)), nil
	}

	var saved json.RawMessage
	if err := json.Unmarshal(body, &saved); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Server returned invalid JSON: %v", err)), nil
	}
	return jsonResult(saved)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("JSON encoding failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
