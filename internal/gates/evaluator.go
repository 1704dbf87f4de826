// Package gates evaluates produced artifacts against quality gates.
// Structural gates are cheap deterministic checks that run before any
// external tool; tool-backed gates invoke the static-analysis capability.
// The evaluator is stateless and independent of retry policy.
package gates

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/calder/foundry/internal/capability"
	"github.com/calder/foundry/internal/models"
)

// Definition describes one gate to run against an artifact.
type Definition struct {
	Type models.GateType

	// RequiredDeclarations lists declaration names the artifact must
	// contain. Only read by the required-declarations gate.
	RequiredDeclarations []string

	// NamingPattern is the regular expression declaration names must match.
	// Only read by the naming-convention gate. Empty means the default
	// UpperCamelCase convention.
	NamingPattern string

	// Language is handed to the static-analysis tool.
	Language string
}

// Result is the outcome of evaluating a single gate.
type Result struct {
	Gate     models.GateType
	Passed   bool
	Expected string
	Actual   string
	Findings []models.Finding
}

// Evaluator runs gate definitions against artifacts.
type Evaluator struct {
	analyzer capability.StaticAnalyzer
}

// NewEvaluator creates an Evaluator. The analyzer may be nil when only
// structural gates are used.
func NewEvaluator(analyzer capability.StaticAnalyzer) *Evaluator {
	return &Evaluator{analyzer: analyzer}
}

// Evaluate runs every definition against the artifact. Structural gates run
// first; if any structural gate fails, tool-backed gates are skipped to avoid
// wasting capability-call budget on trivially broken artifacts.
func (e *Evaluator) Evaluate(ctx context.Context, artifact string, defs []Definition) ([]Result, error) {
	var structural, toolBacked []Definition
	for _, def := range defs {
		if def.Type.Structural() {
			structural = append(structural, def)
		} else {
			toolBacked = append(toolBacked, def)
		}
	}

	results := make([]Result, 0, len(defs))
	structuralFailed := false

	for _, def := range structural {
		result := e.evaluateStructural(artifact, def)
		if !result.Passed {
			structuralFailed = true
		}
		results = append(results, result)
	}

	if structuralFailed {
		return results, nil
	}

	for _, def := range toolBacked {
		result, err := e.evaluateToolBacked(ctx, artifact, def)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}

	return results, nil
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// FailedFindings collects the findings of every failed result.
func FailedFindings(results []Result) []models.Finding {
	var findings []models.Finding
	for _, r := range results {
		if !r.Passed {
			findings = append(findings, r.Findings...)
		}
	}
	return findings
}

// FeedbackFrom renders failed results into corrective feedback for the next
// generation attempt.
func FeedbackFrom(results []Result) string {
	var sb strings.Builder
	for _, r := range results {
		if r.Passed {
			continue
		}
		fmt.Fprintf(&sb, "Gate %s failed (expected %s, got %s):\n", r.Gate, r.Expected, r.Actual)
		for _, f := range r.Findings {
			if f.Line > 0 {
				fmt.Fprintf(&sb, "- [%s] line %d: %s\n", f.Severity, f.Line, f.Message)
			} else {
				fmt.Fprintf(&sb, "- [%s] %s\n", f.Severity, f.Message)
			}
		}
	}
	return sb.String()
}

func (e *Evaluator) evaluateStructural(artifact string, def Definition) Result {
	switch def.Type {
	case models.GateBalancedDelimiters:
		return checkBalancedDelimiters(artifact)
	case models.GateRequiredDeclarations:
		return checkRequiredDeclarations(artifact, def.RequiredDeclarations)
	case models.GateNamingConvention:
		return checkNamingConvention(artifact, def.NamingPattern)
	default:
		return Result{
			Gate:     def.Type,
			Passed:   false,
			Expected: "known structural gate",
			Actual:   string(def.Type),
			Findings: []models.Finding{{
				Rule:     "unknown-gate",
				Message:  fmt.Sprintf("no structural check registered for gate %q", def.Type),
				Severity: models.SeverityError,
			}},
		}
	}
}

func (e *Evaluator) evaluateToolBacked(ctx context.Context, artifact string, def Definition) (Result, error) {
	if e.analyzer == nil {
		return Result{}, fmt.Errorf("gate %s requires a static analyzer", def.Type)
	}

	findings, err := e.analyzer.Analyze(ctx, artifact, def.Language)
	if err != nil {
		return Result{}, err
	}

	blocking := 0
	for _, f := range findings {
		if f.Severity == models.SeverityError || f.Severity == models.SeverityCritical {
			blocking++
		}
	}

	return Result{
		Gate:     def.Type,
		Passed:   blocking == 0,
		Expected: "0 blocking findings",
		Actual:   fmt.Sprintf("%d blocking findings", blocking),
		Findings: findings,
	}, nil
}

// delimiter pairs checked by the balanced-delimiters gate
var delimiterPairs = map[rune]rune{')': '(', ']': '[', '}': '{'}

func checkBalancedDelimiters(artifact string) Result {
	var stack []rune
	var findings []models.Finding
	line := 1

	for _, r := range artifact {
		switch r {
		case '\n':
			line++
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != delimiterPairs[r] {
				findings = append(findings, models.Finding{
					Rule:     "balanced-delimiters",
					Message:  fmt.Sprintf("unmatched %q", r),
					Line:     line,
					Severity: models.SeverityError,
				})
			} else {
				stack = stack[:len(stack)-1]
			}
		}
	}

	for range stack {
		findings = append(findings, models.Finding{
			Rule:     "balanced-delimiters",
			Message:  "unclosed delimiter at end of artifact",
			Severity: models.SeverityError,
		})
	}

	return Result{
		Gate:     models.GateBalancedDelimiters,
		Passed:   len(findings) == 0,
		Expected: "balanced",
		Actual:   fmt.Sprintf("%d unmatched", len(findings)),
		Findings: findings,
	}
}

func checkRequiredDeclarations(artifact string, required []string) Result {
	var findings []models.Finding
	missing := 0

	for _, name := range required {
		if !strings.Contains(artifact, name) {
			missing++
			findings = append(findings, models.Finding{
				Rule:     "required-declarations",
				Message:  fmt.Sprintf("declaration %q not found in artifact", name),
				Severity: models.SeverityError,
			})
		}
	}

	return Result{
		Gate:     models.GateRequiredDeclarations,
		Passed:   missing == 0,
		Expected: fmt.Sprintf("%d declarations present", len(required)),
		Actual:   fmt.Sprintf("%d missing", missing),
		Findings: findings,
	}
}

// defaultNamingPattern matches UpperCamelCase identifiers.
const defaultNamingPattern = `^[A-Z][A-Za-z0-9]*$`

// declRegex extracts declared identifiers from class/trigger/function headers.
var declRegex = regexp.MustCompile(`(?m)^\s*(?:public\s+|private\s+|global\s+)?(?:class|trigger|interface|function)\s+(\w+)`)

func checkNamingConvention(artifact, pattern string) Result {
	if pattern == "" {
		pattern = defaultNamingPattern
	}

	nameRe, err := regexp.Compile(pattern)
	if err != nil {
		return Result{
			Gate:     models.GateNamingConvention,
			Passed:   false,
			Expected: "valid naming pattern",
			Actual:   "invalid pattern",
			Findings: []models.Finding{{
				Rule:     "naming-convention",
				Message:  fmt.Sprintf("invalid naming pattern %q: %v", pattern, err),
				Severity: models.SeverityError,
			}},
		}
	}

	var findings []models.Finding
	for _, match := range declRegex.FindAllStringSubmatch(artifact, -1) {
		name := match[1]
		if !nameRe.MatchString(name) {
			findings = append(findings, models.Finding{
				Rule:     "naming-convention",
				Message:  fmt.Sprintf("declaration %q does not match convention %s", name, pattern),
				Severity: models.SeverityError,
			})
		}
	}

	return Result{
		Gate:     models.GateNamingConvention,
		Passed:   len(findings) == 0,
		Expected: "all declarations match " + pattern,
		Actual:   fmt.Sprintf("%d violations", len(findings)),
		Findings: findings,
	}
}
