package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/calder/foundry/internal/models"
)

// CLIStaticAnalyzer runs an external lint tool over an artifact and converts
// its JSON report into the common finding shape.
type CLIStaticAnalyzer struct {
	// BinaryPath is the analyzer binary. Defaults to "lintctl".
	BinaryPath string

	// ScratchDir receives the temporary artifact files handed to the tool.
	// Empty means the system temp directory.
	ScratchDir string
}

// NewCLIStaticAnalyzer creates an analyzer with default settings.
func NewCLIStaticAnalyzer() *CLIStaticAnalyzer {
	return &CLIStaticAnalyzer{BinaryPath: "lintctl"}
}

// analyzerFinding is the tool's native report entry.
type analyzerFinding struct {
	Rule     string `json:"rule"`
	Message  string `json:"message"`
	Line     int    `json:"line"`
	Severity string `json:"severity"`
}

// Analyze writes the artifact to a scratch file, runs the tool, and parses
// its report. A non-zero tool exit with a parseable report is not an error;
// the findings speak for themselves.
func (a *CLIStaticAnalyzer) Analyze(ctx context.Context, artifact, language string) ([]models.Finding, error) {
	dir := a.ScratchDir
	if dir == "" {
		dir = os.TempDir()
	}

	tmp, err := os.CreateTemp(dir, "analysis-*."+extensionFor(language))
	if err != nil {
		return nil, NewError("static-analysis", "create scratch file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(artifact); err != nil {
		tmp.Close()
		return nil, NewError("static-analysis", "write scratch file", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, NewError("static-analysis", "close scratch file", err)
	}

	binary := a.BinaryPath
	if binary == "" {
		binary = "lintctl"
	}

	cmd := exec.CommandContext(ctx, binary, "--language", language, "--format", "json", filepath.Clean(tmp.Name()))
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	runErr := cmd.Run()

	var raw []analyzerFinding
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		if runErr != nil {
			return nil, NewError("static-analysis", "run analyzer", runErr)
		}
		return nil, NewError("static-analysis", "parse analyzer report", err)
	}

	findings := make([]models.Finding, 0, len(raw))
	for _, f := range raw {
		findings = append(findings, models.Finding{
			Rule:     f.Rule,
			Message:  f.Message,
			Line:     f.Line,
			Severity: severityFor(f.Severity),
		})
	}
	return findings, nil
}

func extensionFor(language string) string {
	switch language {
	case "apex", "java":
		return "java"
	case "javascript":
		return "js"
	default:
		return "txt"
	}
}

func severityFor(raw string) models.Severity {
	switch raw {
	case "critical":
		return models.SeverityCritical
	case "error":
		return models.SeverityError
	case "warning":
		return models.SeverityWarning
	case "info":
		return models.SeverityInfo
	default:
		return models.SeverityWarning
	}
}

// CLIDeployer implements Deployer by shelling out to the target platform's
// deployment CLI. Metadata goes through the admin API subcommand, source
// through the push subcommand.
type CLIDeployer struct {
	// BinaryPath is the platform CLI binary. Defaults to "deployctl".
	BinaryPath string

	// TargetEnv names the environment to deploy into.
	TargetEnv string

	runner CommandRunner
}

// NewCLIDeployer creates a deployer for the given target environment.
func NewCLIDeployer(targetEnv string) *CLIDeployer {
	return &CLIDeployer{BinaryPath: "deployctl", TargetEnv: targetEnv, runner: &execRunner{}}
}

// NewCLIDeployerWithRunner injects a command runner for tests.
func NewCLIDeployerWithRunner(targetEnv string, runner CommandRunner) *CLIDeployer {
	return &CLIDeployer{BinaryPath: "deployctl", TargetEnv: targetEnv, runner: runner}
}

func (d *CLIDeployer) binary() string {
	if d.BinaryPath == "" {
		return "deployctl"
	}
	return d.BinaryPath
}

// ViaAdministrativeAPI deploys a metadata artifact through the admin API.
func (d *CLIDeployer) ViaAdministrativeAPI(ctx context.Context, artifactRef string) error {
	if _, err := d.runner.Run(ctx, d.binary(), "admin-deploy", "--target", d.TargetEnv, "--artifact", artifactRef); err != nil {
		return NewError("deploy", "administrative deploy of "+artifactRef, err)
	}
	return nil
}

// ViaSourcePush deploys the branch through the source pipeline.
func (d *CLIDeployer) ViaSourcePush(ctx context.Context, branch string) error {
	if _, err := d.runner.Run(ctx, d.binary(), "source-push", "--target", d.TargetEnv, "--branch", branch); err != nil {
		return NewError("deploy", "source push of "+branch, err)
	}
	return nil
}

// WithExplicitManifest deploys only the named components.
func (d *CLIDeployer) WithExplicitManifest(ctx context.Context, manifest []string) error {
	if len(manifest) == 0 {
		return NewError("deploy", "manifest deploy", fmt.Errorf("manifest is empty"))
	}
	args := []string{"manifest-deploy", "--target", d.TargetEnv}
	for _, entry := range manifest {
		args = append(args, "--component", entry)
	}
	if _, err := d.runner.Run(ctx, d.binary(), args...); err != nil {
		return NewError("deploy", "manifest deploy", err)
	}
	return nil
}
