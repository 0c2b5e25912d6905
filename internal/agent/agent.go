package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"paperdesk/internal/session"
	"paperdesk/provider"
)

// Completer is the reasoning model driving tool selection.
type Completer interface {
	Complete(ctx context.Context, system string, messages []provider.Message) (string, error)
}

const systemPrompt = `You are a helpful research assistant. Your goal is to help users find, save, and understand academic papers.

You can call these tools:
- search_papers: find academic papers by topic. Args: {"query": "<topic>", "results": <count>}
- save_paper: save a paper for detailed questioning. Args: {"paper_id": "<arXiv id>"}
- retrieve_chunks: answer follow-up questions from papers already saved. Args: {"query": "<question>"}
- list_references: list a paper's academic references. Args: {"paper_id": "<arXiv id>"}

WORKFLOW AND RULES:
1. Use search_papers when asked to find papers.
2. Use save_paper when the user expresses interest in a specific paper.
3. Use retrieve_chunks for questions about a saved paper.
4. Use list_references for citations.
5. For simple conversation, answer directly.

Respond ONLY with valid JSON, either:
{"tool": "<tool name>", "args": {...}}
to call a tool, or:
{"answer": "<your reply to the user>"}
to answer. Do not include any other text or explanation.`

// Agent runs a bounded tool-dispatch loop: the completion model picks a
// tool or an answer; tool observations are folded back into the
// conversation until it answers or the iteration budget runs out.
type Agent struct {
	LLM           Completer
	Tools         *Toolset
	MaxIterations int
	Logger        *log.Logger
}

func New(llm Completer, tools *Toolset) *Agent {
	return &Agent{
		LLM:           llm,
		Tools:         tools,
		MaxIterations: 10,
		Logger:        log.New(log.Writer(), "[AGENT] ", log.LstdFlags),
	}
}

type action struct {
	Tool   string          `json:"tool"`
	Args   json.RawMessage `json:"args"`
	Answer string          `json:"answer"`
}

// Run executes one chat turn for a user, given their transcript so far
// and the new message. Tool-level failures surface as text inside the
// loop; only ingestion infrastructure errors (and the model transport)
// return an error.
func (a *Agent) Run(ctx context.Context, history []session.Message, input string) (string, error) {
	msgs := make([]provider.Message, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, provider.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, provider.Message{Role: "user", Content: input})

	maxIter := a.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}
	for i := 0; i < maxIter; i++ {
		raw, err := a.LLM.Complete(ctx, systemPrompt, msgs)
		if err != nil {
			return "", fmt.Errorf("completion failed: %w", err)
		}

		var act action
		if err := json.Unmarshal([]byte(stripFence(raw)), &act); err != nil {
			// Same recovery the loop gives a malformed tool call: tell
			// the model and let it retry.
			msgs = append(msgs,
				provider.Message{Role: "assistant", Content: raw},
				provider.Message{Role: "user", Content: "Observation: your reply was not valid JSON. Respond with {\"tool\":...,\"args\":...} or {\"answer\":...}."},
			)
			continue
		}
		if act.Answer != "" {
			return act.Answer, nil
		}
		if act.Tool == "" {
			msgs = append(msgs,
				provider.Message{Role: "assistant", Content: raw},
				provider.Message{Role: "user", Content: "Observation: no tool or answer given. Respond with {\"tool\":...,\"args\":...} or {\"answer\":...}."},
			)
			continue
		}

		obs, err := a.dispatch(ctx, act)
		if err != nil {
			return "", err
		}
		a.Logger.Printf("tool %s invoked", act.Tool)
		msgs = append(msgs,
			provider.Message{Role: "assistant", Content: raw},
			provider.Message{Role: "user", Content: "Observation: " + obs},
		)
	}
	return "I could not complete that request within the allotted steps. Please try rephrasing.", nil
}

func (a *Agent) dispatch(ctx context.Context, act action) (string, error) {
	switch act.Tool {
	case "search_papers":
		var args struct {
			Query   string `json:"query"`
			Results int    `json:"results"`
		}
		if err := json.Unmarshal(act.Args, &args); err != nil || strings.TrimSpace(args.Query) == "" {
			return "Error: search_papers requires args {\"query\": string, \"results\": int}.", nil
		}
		return a.Tools.SearchPapers(ctx, args.Query, args.Results), nil
	case "retrieve_chunks":
		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(act.Args, &args); err != nil || strings.TrimSpace(args.Query) == "" {
			return "Error: retrieve_chunks requires args {\"query\": string}.", nil
		}
		return a.Tools.RetrieveChunks(ctx, args.Query), nil
	case "save_paper":
		var args struct {
			PaperID string `json:"paper_id"`
		}
		if err := json.Unmarshal(act.Args, &args); err != nil || strings.TrimSpace(args.PaperID) == "" {
			return "Error: save_paper requires args {\"paper_id\": string}.", nil
		}
		return a.Tools.SavePaper(ctx, args.PaperID)
	case "list_references":
		var args struct {
			PaperID string `json:"paper_id"`
		}
		if err := json.Unmarshal(act.Args, &args); err != nil || strings.TrimSpace(args.PaperID) == "" {
			return "Error: list_references requires args {\"paper_id\": string}.", nil
		}
		return a.Tools.ListReferences(ctx, args.PaperID), nil
	default:
		return fmt.Sprintf("Error: unknown tool %q.", act.Tool), nil
	}
}

// stripFence removes a markdown code fence if the model wrapped its
// JSON in one.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
