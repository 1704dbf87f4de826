package capability

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/calder/foundry/internal/models"
)

// recordingRunner captures every command instead of executing it.
type recordingRunner struct {
	calls  [][]string
	output string
	err    error
}

func (r *recordingRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	call := append([]string{name}, args...)
	r.calls = append(r.calls, call)
	if r.err != nil {
		return "", r.err
	}
	return r.output, nil
}

func TestParseAgentType(t *testing.T) {
	valid := []string{
		"requirements-extraction", "business-analysis", "architecture-design",
		"document-synthesis", "code-generation", "test-generation",
		"configuration", "deployment",
	}
	for _, raw := range valid {
		if _, err := ParseAgentType(raw); err != nil {
			t.Errorf("ParseAgentType(%q) error = %v", raw, err)
		}
	}

	if _, err := ParseAgentType("frontend-wizard"); err == nil {
		t.Error("ParseAgentType should reject unknown agents")
	}
	if _, err := ParseAgentType(""); err == nil {
		t.Error("ParseAgentType should reject empty agent")
	}
}

func TestAgentForStage(t *testing.T) {
	tests := []struct {
		stage models.Stage
		want  AgentType
	}{
		{models.StageExtraction, AgentExtraction},
		{models.StageAnalysis, AgentAnalysis},
		{models.StageDesign, AgentDesign},
		{models.StageSynthesis, AgentSynthesis},
	}
	for _, tt := range tests {
		got, err := AgentForStage(tt.stage)
		if err != nil || got != tt.want {
			t.Errorf("AgentForStage(%s) = (%s, %v), want %s", tt.stage, got, err, tt.want)
		}
	}

	if _, err := AgentForStage(models.StageCompleted); err == nil {
		t.Error("AgentForStage should fail for terminal stages")
	}
}

func TestAgentForTaskType(t *testing.T) {
	tests := []struct {
		taskType models.TaskType
		want     AgentType
	}{
		{models.TaskTypeObject, AgentConfig},
		{models.TaskTypeField, AgentConfig},
		{models.TaskTypeCode, AgentCodeGen},
		{models.TaskTypeAutomation, AgentCodeGen},
		{models.TaskTypeTest, AgentTestGen},
		{models.TaskTypeDeploy, AgentDeployer},
	}
	for _, tt := range tests {
		got, err := AgentForTaskType(tt.taskType)
		if err != nil || got != tt.want {
			t.Errorf("AgentForTaskType(%s) = (%s, %v), want %s", tt.taskType, got, err, tt.want)
		}
	}
}

func TestGitVersionControlBranchLifecycle(t *testing.T) {
	runner := &recordingRunner{output: "abc123\n"}
	vcs := NewGitVersionControlWithRunner(runner)
	ctx := context.Background()

	if err := vcs.CreateBranch(ctx, "build/phase-data-model"); err != nil {
		t.Fatalf("CreateBranch() error = %v", err)
	}
	if _, err := vcs.Commit(ctx, "phase data-model artifacts"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := vcs.Merge(ctx, "build/phase-data-model"); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if err := vcs.Tag(ctx, "phase-data-model"); err != nil {
		t.Fatalf("Tag() error = %v", err)
	}

	var joined []string
	for _, call := range runner.calls {
		joined = append(joined, strings.Join(call, " "))
	}
	script := strings.Join(joined, "\n")

	for _, want := range []string{
		"git checkout -b build/phase-data-model",
		"git add -A",
		"git commit -m phase data-model artifacts",
		"git merge --no-ff build/phase-data-model",
		"git tag phase-data-model",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("expected command %q in:\n%s", want, script)
		}
	}
}

func TestGitVersionControlWrapsErrors(t *testing.T) {
	runner := &recordingRunner{err: errors.New("fatal: not a git repository")}
	vcs := NewGitVersionControlWithRunner(runner)

	err := vcs.CreateBranch(context.Background(), "build/phase-ui")
	if err == nil {
		t.Fatal("CreateBranch() should fail")
	}

	var capErr *Error
	if !errors.As(err, &capErr) {
		t.Fatalf("error %v should wrap *capability.Error", err)
	}
	if capErr.Capability != "version-control" {
		t.Errorf("Capability = %q, want version-control", capErr.Capability)
	}
}

func TestGitVersionControlListChangedFiles(t *testing.T) {
	runner := &recordingRunner{output: "force-app/main/default/classes/AccountService.cls\n\nconfig/project.json\n"}
	vcs := NewGitVersionControlWithRunner(runner)

	files, err := vcs.ListChangedFiles(context.Background(), "build/phase-business-logic")
	if err != nil {
		t.Fatalf("ListChangedFiles() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("ListChangedFiles() = %v, want 2 entries", files)
	}
}

func TestCLIDeployerPathways(t *testing.T) {
	runner := &recordingRunner{}
	deployer := NewCLIDeployerWithRunner("staging", runner)
	ctx := context.Background()

	if err := deployer.ViaAdministrativeAPI(ctx, "artifact-7"); err != nil {
		t.Fatalf("ViaAdministrativeAPI() error = %v", err)
	}
	if err := deployer.ViaSourcePush(ctx, "build/phase-ui"); err != nil {
		t.Fatalf("ViaSourcePush() error = %v", err)
	}
	if err := deployer.WithExplicitManifest(ctx, []string{"Account", "Contact"}); err != nil {
		t.Fatalf("WithExplicitManifest() error = %v", err)
	}

	if len(runner.calls) != 3 {
		t.Fatalf("expected 3 deploy calls, got %d", len(runner.calls))
	}
	if runner.calls[0][1] != "admin-deploy" {
		t.Errorf("first call = %v, want admin-deploy", runner.calls[0])
	}
	if runner.calls[1][1] != "source-push" {
		t.Errorf("second call = %v, want source-push", runner.calls[1])
	}
}

func TestCLIDeployerEmptyManifest(t *testing.T) {
	deployer := NewCLIDeployerWithRunner("staging", &recordingRunner{})
	if err := deployer.WithExplicitManifest(context.Background(), nil); err == nil {
		t.Error("WithExplicitManifest() should reject an empty manifest")
	}
}

func TestCapabilityErrorUnwrap(t *testing.T) {
	underlying := errors.New("connection refused")
	err := NewError("deploy", "source push", underlying)

	if !errors.Is(err, underlying) {
		t.Error("errors.Is should reach the underlying error")
	}
	if !strings.Contains(err.Error(), "deploy") || !strings.Contains(err.Error(), "source push") {
		t.Errorf("Error() = %q, missing context", err.Error())
	}
}
