// Package capability defines the uniform interfaces the orchestration engine
// uses to reach external systems: language-model text generation, static
// analysis, version control, and deployment. Implementations shell out to
// external tools; tests substitute in-memory fakes.
package capability

import (
	"context"
	"fmt"

	"github.com/calder/foundry/internal/models"
)

// AgentType is the closed set of pipeline agents. Dispatch is by enum, not
// free-form strings, so unknown agents are caught at load time.
type AgentType string

const (
	AgentExtraction AgentType = "requirements-extraction"
	AgentAnalysis   AgentType = "business-analysis"
	AgentDesign     AgentType = "architecture-design"
	AgentSynthesis  AgentType = "document-synthesis"
	AgentCodeGen    AgentType = "code-generation"
	AgentTestGen    AgentType = "test-generation"
	AgentConfig     AgentType = "configuration"
	AgentDeployer   AgentType = "deployment"
)

// ParseAgentType validates a raw agent name against the closed set.
func ParseAgentType(raw string) (AgentType, error) {
	switch AgentType(raw) {
	case AgentExtraction, AgentAnalysis, AgentDesign, AgentSynthesis,
		AgentCodeGen, AgentTestGen, AgentConfig, AgentDeployer:
		return AgentType(raw), nil
	}
	return "", fmt.Errorf("unknown agent type %q", raw)
}

// AgentForStage returns the agent bound to a generation stage.
func AgentForStage(stage models.Stage) (AgentType, error) {
	switch stage {
	case models.StageExtraction:
		return AgentExtraction, nil
	case models.StageAnalysis:
		return AgentAnalysis, nil
	case models.StageDesign:
		return AgentDesign, nil
	case models.StageSynthesis:
		return AgentSynthesis, nil
	default:
		return "", fmt.Errorf("no agent bound to stage %q", stage)
	}
}

// AgentForTaskType returns the agent that executes a build task type.
func AgentForTaskType(t models.TaskType) (AgentType, error) {
	switch t {
	case models.TaskTypeObject, models.TaskTypeField:
		return AgentConfig, nil
	case models.TaskTypeCode, models.TaskTypeAutomation:
		return AgentCodeGen, nil
	case models.TaskTypeTest:
		return AgentTestGen, nil
	case models.TaskTypeDeploy:
		return AgentDeployer, nil
	default:
		return "", fmt.Errorf("no agent bound to task type %q", t)
	}
}

// GenerateRequest is one text-generation call.
type GenerateRequest struct {
	Prompt       string
	SystemPrompt string
	Agent        AgentType
	// Feedback carries corrective findings from a failed quality gate so the
	// next attempt can address them.
	Feedback string
}

// GenerateResult is the provider's answer plus usage accounting.
type GenerateResult struct {
	Text      string
	TokensIn  int64
	TokensOut int64
	CostUSD   float64
}

// TextGenerator produces an artifact from a prompt. Used by every agent
// stage and by corrective-feedback retries.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// StaticAnalyzer runs an external static-analysis check over an artifact and
// reports findings in the common shape.
type StaticAnalyzer interface {
	Analyze(ctx context.Context, artifact, language string) ([]models.Finding, error)
}

// VersionControl covers the branch/commit/merge lifecycle the phased build
// executor drives. Implementations operate on one working checkout.
type VersionControl interface {
	CreateBranch(ctx context.Context, name string) error
	Commit(ctx context.Context, message string) (string, error)
	OpenChangeRequest(ctx context.Context, branch, title string) (string, error)
	Merge(ctx context.Context, branch string) error
	Revert(ctx context.Context, commit string) error
	Tag(ctx context.Context, name string) error
	ListChangedFiles(ctx context.Context, branch string) ([]string, error)
}

// Deployer pushes a unit of configuration or code to the target environment.
type Deployer interface {
	// ViaAdministrativeAPI deploys metadata through the target's admin tooling.
	ViaAdministrativeAPI(ctx context.Context, artifactRef string) error
	// ViaSourcePush deploys source code through the source pipeline.
	ViaSourcePush(ctx context.Context, branch string) error
	// WithExplicitManifest deploys only the components named in the manifest.
	WithExplicitManifest(ctx context.Context, manifest []string) error
}

// Error marks a failure of an external tool or provider. It is retryable
// under the iteration policy and is never silently swallowed.
type Error struct {
	Capability string
	Op         string
	Err        error
}

// NewError wraps an underlying failure with capability context.
func NewError(capability, op string, err error) *Error {
	return &Error{Capability: capability, Op: op, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("capability %s: %s: %v", e.Capability, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
