package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/calder/foundry/internal/models"
)

// frontmatterYAML is the optional document header.
type frontmatterYAML struct {
	ProjectID       string          `yaml:"project_id"`
	ValidationGates map[string]bool `yaml:"validation_gates"`
}

var frontmatterDelim = []byte("---\n")

// extractFrontmatter splits a leading YAML frontmatter block off the body.
// Returns the body and the raw frontmatter, or nil when absent.
func extractFrontmatter(content []byte) ([]byte, []byte) {
	if !bytes.HasPrefix(content, frontmatterDelim) {
		return content, nil
	}
	rest := content[len(frontmatterDelim):]
	end := bytes.Index(rest, frontmatterDelim)
	if end < 0 {
		return content, nil
	}
	return rest[end+len(frontmatterDelim):], rest[:end]
}

func parseFrontmatter(raw []byte, wbs *WBS) error {
	var front frontmatterYAML
	if err := yaml.Unmarshal(raw, &front); err != nil {
		return fmt.Errorf("parse frontmatter: %w", err)
	}
	wbs.ProjectID = front.ProjectID
	if front.ValidationGates != nil {
		wbs.Gates = front.ValidationGates
	}
	return nil
}

var (
	taskHeadingRegex = regexp.MustCompile(`^Task\s+([\w.-]+):\s+(.+)$`)
	metadataRegex    = regexp.MustCompile(`^\*\*([^*]+)\*\*\s*:\s*(.*)$`)
)

// extractTasks walks the markdown AST collecting "## Task N:" sections. The
// section body up to the next level-2 heading becomes the task description;
// bold "**Key**: value" lines inside it are metadata, not prose.
func extractTasks(body []byte) ([]models.Task, error) {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(body))

	type section struct {
		number string
		name   string
		start  int
	}
	var sections []section

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok || heading.Level != 2 {
			return ast.WalkContinue, nil
		}
		matches := taskHeadingRegex.FindStringSubmatch(headingText(heading, body))
		if len(matches) != 3 {
			return ast.WalkContinue, nil
		}
		if heading.Lines().Len() == 0 {
			return ast.WalkContinue, nil
		}
		sections = append(sections, section{
			number: matches[1],
			name:   strings.TrimSpace(matches[2]),
			start:  heading.Lines().At(0).Stop,
		})
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}

	var tasks []models.Task
	for i, sec := range sections {
		end := len(body)
		if i+1 < len(sections) {
			end = nextHeadingStart(body, sec.start)
		}
		task, err := buildTask(sec.number, sec.name, string(body[sec.start:end]))
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// nextHeadingStart finds the byte offset of the next level-2 heading line
// after offset, honoring fenced code blocks.
func nextHeadingStart(body []byte, offset int) int {
	rest := string(body[offset:])
	pos := offset
	inCodeBlock := false
	for _, line := range strings.SplitAfter(rest, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inCodeBlock = !inCodeBlock
		} else if !inCodeBlock && strings.HasPrefix(line, "## ") && !strings.HasPrefix(line, "### ") {
			return pos
		}
		pos += len(line)
	}
	return len(body)
}

func headingText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
		}
	}
	return buf.String()
}

// buildTask assembles one task from its section content. Metadata lines are
// consumed; everything else becomes the description.
func buildTask(number, name, content string) (models.Task, error) {
	task := models.Task{
		ID:     number,
		Name:   name,
		Status: models.TaskPending,
	}

	var prose []string
	inCodeBlock := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inCodeBlock = !inCodeBlock
			prose = append(prose, line)
			continue
		}
		if inCodeBlock {
			prose = append(prose, line)
			continue
		}

		matches := metadataRegex.FindStringSubmatch(trimmed)
		if matches == nil {
			prose = append(prose, line)
			continue
		}

		key := strings.ToLower(strings.TrimSpace(matches[1]))
		value := strings.TrimSpace(matches[2])
		switch key {
		case "type":
			task.Type = models.TaskType(strings.ToLower(value))
		case "phase":
			task.Phase = models.Phase(strings.ToLower(value))
		case "depends on":
			task.DependsOn = parseDependencies(value)
		case "agent":
			task.Agent = value
		default:
			prose = append(prose, line)
		}
	}

	if !models.ValidTaskType(task.Type) {
		return task, fmt.Errorf("task %s (%s): unknown or missing type %q", task.ID, task.Name, task.Type)
	}

	if task.Phase == "" {
		phase, err := models.PhaseForTaskType(task.Type)
		if err != nil {
			return task, fmt.Errorf("task %s: %w", task.ID, err)
		}
		task.Phase = phase
	} else if !validPhase(task.Phase) {
		return task, fmt.Errorf("task %s: unknown phase %q", task.ID, task.Phase)
	}

	task.Description = strings.TrimSpace(strings.Join(prose, "\n"))
	return task, nil
}

// parseDependencies splits a comma-separated dependency list, accepting both
// bare numbers ("1, 2") and "Task 1" notation.
func parseDependencies(value string) []string {
	var deps []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		part = strings.TrimPrefix(part, "Task ")
		part = strings.TrimSpace(part)
		if part != "" && !strings.EqualFold(part, "none") {
			deps = append(deps, part)
		}
	}
	return deps
}

func validPhase(p models.Phase) bool {
	for _, phase := range models.PhaseOrder() {
		if p == phase {
			return true
		}
	}
	return false
}
