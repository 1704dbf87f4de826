package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// DefaultSystemPrompt is sent with every generation call unless the request
// overrides it. It keeps provider output parseable by downstream gates.
const DefaultSystemPrompt = "You are a software specification and code generation assistant. Produce only the requested artifact. No commentary before or after the artifact body."

// CLITextGenerator invokes a provider CLI to generate text. It follows the
// http.Client pattern: create once, use many times. Thread-safe for
// concurrent use.
type CLITextGenerator struct {
	// BinaryPath is the provider CLI binary. Defaults to "aigen".
	BinaryPath string

	// Timeout bounds a single invocation. Zero means no explicit timeout
	// beyond the caller's context.
	Timeout time.Duration
}

// NewCLITextGenerator creates a generator with default settings.
func NewCLITextGenerator() *CLITextGenerator {
	return &CLITextGenerator{BinaryPath: "aigen"}
}

// cliResponse is the provider CLI's JSON output envelope.
type cliResponse struct {
	Text      string  `json:"text"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
	Error     string  `json:"error,omitempty"`
}

// Generate runs one provider invocation and parses the usage envelope.
func (g *CLITextGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.Prompt == "" {
		return nil, NewError("text-generation", "generate", fmt.Errorf("prompt is required"))
	}

	ctxToUse := ctx
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctxToUse, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	prompt := req.Prompt
	if req.Feedback != "" {
		prompt = fmt.Sprintf("%s\n\n## Corrective Feedback (previous attempt failed quality gates)\n\n%s", prompt, req.Feedback)
	}

	args := []string{
		"--agent", string(req.Agent),
		"--system-prompt", systemPrompt,
		"--output-format", "json",
		"-p", prompt,
	}

	binary := g.BinaryPath
	if binary == "" {
		binary = "aigen"
	}

	cmd := exec.CommandContext(ctxToUse, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, NewError("text-generation", "invoke provider CLI",
			fmt.Errorf("%w (stderr: %s)", err, stderr.String()))
	}

	var resp cliResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, NewError("text-generation", "parse provider response", err)
	}
	if resp.Error != "" {
		return nil, NewError("text-generation", "provider", fmt.Errorf("%s", resp.Error))
	}

	return &GenerateResult{
		Text:      resp.Text,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
		CostUSD:   resp.CostUSD,
	}, nil
}
