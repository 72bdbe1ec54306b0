// Package mcp exposes the prescription archive to LLM tooling over the
// Model Context Protocol (stdio transport).
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sukeesh/drcopilot/pkg/aggregate"
	"github.com/sukeesh/drcopilot/pkg/record"
	"github.com/sukeesh/drcopilot/pkg/repl"
	"github.com/sukeesh/drcopilot/pkg/store"
)

// SummaryService produces natural-language output from aggregated records.
type SummaryService interface {
	Summarize(ctx context.Context, patientID string, records []record.PrescriptionRecord) (string, error)
}

// MCPServer wraps the archive for MCP clients.
type MCPServer struct {
	store   *store.RecordStore
	reader  *aggregate.Reader
	summary SummaryService
}

// Run starts the MCP server on Stdio. summary may be nil when no API key is
// configured; the summarize_patient tool then reports an error per call.
func Run(ctx context.Context, st *store.RecordStore, summary SummaryService) error {
	s := server.NewMCPServer(
		"DrCoPilot",
		"0.1.0",
		server.WithResourceCapabilities(true, true),
		server.WithLogging(),
	)

	ms := &MCPServer{
		store:   st,
		reader:  aggregate.NewReader(st),
		summary: summary,
	}

	// --- Resources ---

	s.AddResource(
		mcp.NewResource(
			"rx://patients",
			"Patient Index",
			mcp.WithResourceDescription("All patient identifiers with prescription records"),
			mcp.WithMIMEType("application/json"),
		),
		ms.handlePatientIndex,
	)

	// --- Tools ---

	s.AddTool(
		mcp.NewTool(
			"list_patients",
			mcp.WithDescription("List all patients with prescription records in the archive."),
		),
		ms.handleListPatients,
	)

	s.AddTool(
		mcp.NewTool(
			"search_patients",
			mcp.WithDescription("Fuzzy-search patient identifiers (handles typos and partial names)."),
			mcp.WithString("query", mcp.Required(), mcp.Description("The search query string")),
		),
		ms.handleSearchPatients,
	)

	s.AddTool(
		mcp.NewTool(
			"get_prescriptions",
			mcp.WithDescription("Get all prescription records for a patient, including extracted drug details."),
			mcp.WithString("patient_id", mcp.Required(), mcp.Description("The patient identifier")),
		),
		ms.handleGetPrescriptions,
	)

	s.AddTool(
		mcp.NewTool(
			"summarize_patient",
			mcp.WithDescription("Generate a doctor-facing summary of a patient's prescription history."),
			mcp.WithString("patient_id", mcp.Required(), mcp.Description("The patient identifier")),
		),
		ms.handleSummarizePatient,
	)

	slog.Info("Starting MCP server on Stdio")
	return server.ServeStdio(s)
}

// --- Resource Handlers ---

func (ms *MCPServer) handlePatientIndex(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	patients, err := ms.store.ListPatients()
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}

	jsonBytes, err := json.MarshalIndent(map[string]any{"patients": patients}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal patient index: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}

// --- Tool Handlers ---

func (ms *MCPServer) handleListPatients(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	patients, err := ms.store.ListPatients()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	if len(patients) == 0 {
		return mcp.NewToolResultText("No patients in the archive."), nil
	}
	return mcp.NewToolResultText(strings.Join(patients, "\n")), nil
}

func (ms *MCPServer) handleSearchPatients(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	query, ok := args["query"].(string)
	if !ok {
		return mcp.NewToolResultError("query argument required"), nil
	}

	patients, err := ms.store.ListPatients()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	matches := repl.FindPatientsBySimilarity(query, patients)
	if len(matches) == 0 {
		return mcp.NewToolResultText("No matching patients."), nil
	}
	return mcp.NewToolResultText(strings.Join(matches, "\n")), nil
}

func (ms *MCPServer) handleGetPrescriptions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	patientID, ok := args["patient_id"].(string)
	if !ok {
		return mcp.NewToolResultError("patient_id argument required"), nil
	}

	records, err := ms.reader.Aggregate(patientID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("aggregation failed: %v", err)), nil
	}
	if len(records) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No prescriptions found for %s.", patientID)), nil
	}

	jsonBytes, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("failed to marshal records"), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (ms *MCPServer) handleSummarizePatient(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if ms.summary == nil {
		return mcp.NewToolResultError("summarization not configured (GEMINI_API_KEY missing)"), nil
	}

	args := request.GetArguments()
	patientID, ok := args["patient_id"].(string)
	if !ok {
		return mcp.NewToolResultError("patient_id argument required"), nil
	}

	records, err := ms.reader.Aggregate(patientID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("aggregation failed: %v", err)), nil
	}
	if len(records) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No prescriptions found for %s.", patientID)), nil
	}

	summary, err := ms.summary.Summarize(ctx, patientID, records)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("summarization failed: %v", err)), nil
	}
	return mcp.NewToolResultText(summary), nil
}
