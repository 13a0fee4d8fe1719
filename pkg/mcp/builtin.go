package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// BuiltinServerID is the registry id of the in-process tool server.
const BuiltinServerID = "builtin"

// ServeInProcess connects a server over an in-memory transport and
// returns a connector ready for registration. The server side runs on
// a goroutine until ctx is cancelled.
func ServeInProcess(ctx context.Context, serverID string, server *mcpsdk.Server, logger *slog.Logger) (*Connector, error) {
	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	ready := make(chan error, 1)
	go func() {
		session, err := server.Connect(ctx, serverTransport, nil)
		if err != nil {
			ready <- err
			return
		}
		ready <- nil
		<-ctx.Done()
		_ = session.Close()
	}()
	if err := <-ready; err != nil {
		return nil, fmt.Errorf("in-process server %s: %w", serverID, err)
	}
	return NewConnectorWithTransport(serverID, clientTransport, logger), nil
}

// NewBuiltinServer exposes the document tools that ship with the
// engine: lightweight text analysis, a research prompt scaffold, and
// citation formatting.
func NewBuiltinServer() *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: BuiltinServerID, Version: "dev"}, nil)

	server.AddTool(&mcpsdk.Tool{
		Name:        "analyze_document",
		Description: "Analyze a document and report structure, length and key terms",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"text": {Type: "string", Description: "Document text to analyze"},
				"focus": {
					Type:        "string",
					Description: "Aspect to emphasize",
					Enum:        []any{"summary", "structure", "keywords"},
				},
			},
			Required: []string{"text"},
		},
	}, analyzeDocument)

	server.AddTool(&mcpsdk.Tool{
		Name:        "research_assistance",
		Description: "Suggest research directions and sources for a topic",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"topic": {Type: "string", Description: "Research topic"},
				"depth": {
					Type:        "string",
					Description: "How deep to go",
					Enum:        []any{"overview", "detailed"},
				},
			},
			Required: []string{"topic"},
		},
	}, researchAssistance)

	server.AddTool(&mcpsdk.Tool{
		Name:        "format_citation",
		Description: "Format a source reference in a citation style",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"author": {Type: "string"},
				"title":  {Type: "string"},
				"year":   {Type: "integer"},
				"style": {
					Type: "string",
					Enum: []any{"apa", "mla", "chicago"},
				},
			},
			Required: []string{"author", "title", "year"},
		},
	}, formatCitation)

	return server
}

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}

func errorResult(msg string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
	}
}

func analyzeDocument(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		Text  string `json:"text"`
		Focus string `json:"focus"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	if strings.TrimSpace(args.Text) == "" {
		return errorResult("text is empty"), nil
	}

	words := strings.Fields(args.Text)
	paragraphs := 0
	for _, block := range strings.Split(args.Text, "\n\n") {
		if strings.TrimSpace(block) != "" {
			paragraphs++
		}
	}
	switch args.Focus {
	case "keywords":
		return textResult(fmt.Sprintf("keywords: %s", strings.Join(topWords(words, 5), ", "))), nil
	case "structure":
		return textResult(fmt.Sprintf("structure: %d paragraphs, %d words", paragraphs, len(words))), nil
	default:
		return textResult(fmt.Sprintf("summary: %d words across %d paragraphs; leading terms: %s",
			len(words), paragraphs, strings.Join(topWords(words, 3), ", "))), nil
	}
}

func researchAssistance(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		Topic string `json:"topic"`
		Depth string `json:"depth"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	if strings.TrimSpace(args.Topic) == "" {
		return errorResult("topic is empty"), nil
	}
	lines := []string{
		fmt.Sprintf("research plan for %q:", args.Topic),
		"1. survey recent literature and identify the canonical references",
		"2. map open questions and competing viewpoints",
		"3. collect primary sources and datasets",
	}
	if args.Depth == "detailed" {
		lines = append(lines,
			"4. trace citation chains from the canonical references",
			"5. draft an annotated bibliography")
	}
	return textResult(strings.Join(lines, "\n")), nil
}

func formatCitation(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		Author string `json:"author"`
		Title  string `json:"title"`
		Year   int    `json:"year"`
		Style  string `json:"style"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	switch args.Style {
	case "mla":
		return textResult(fmt.Sprintf("%s. %q. %d.", args.Author, args.Title, args.Year)), nil
	case "chicago":
		return textResult(fmt.Sprintf("%s. %d. %s.", args.Author, args.Year, args.Title)), nil
	default:
		return textResult(fmt.Sprintf("%s (%d). %s.", args.Author, args.Year, args.Title)), nil
	}
}

// topWords returns the most frequent words of four or more letters.
func topWords(words []string, n int) []string {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, w := range words {
		w = strings.ToLower(strings.Trim(w, ".,;:!?\"'()"))
		if len(w) < 4 {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			if counts[order[j]] > counts[order[i]] {
				order[i], order[j] = order[j], order[i]
			}
		}
	}
	if len(order) > n {
		order = order[:n]
	}
	return order
}
