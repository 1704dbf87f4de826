package executor

import (
	"strings"
	"testing"

	"github.com/calder/foundry/internal/models"
)

func buildTask(id string, phase models.Phase, deps ...string) models.Task {
	return models.Task{
		ID:        id,
		Name:      "Task " + id,
		Type:      models.TaskTypeCode,
		Phase:     phase,
		DependsOn: deps,
		Status:    models.TaskPending,
	}
}

func TestValidateTasks(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []models.Task
		wantErr string
	}{
		{
			name: "valid graph",
			tasks: []models.Task{
				buildTask("a", models.PhaseDataModel),
				buildTask("b", models.PhaseBusinessLogic, "a"),
			},
		},
		{
			name: "duplicate id",
			tasks: []models.Task{
				buildTask("a", models.PhaseDataModel),
				buildTask("a", models.PhaseDataModel),
			},
			wantErr: "duplicate id",
		},
		{
			name: "missing dependency",
			tasks: []models.Task{
				buildTask("a", models.PhaseDataModel, "ghost"),
			},
			wantErr: "non-existent task",
		},
		{
			name: "dependency on later phase",
			tasks: []models.Task{
				buildTask("a", models.PhaseDataModel, "b"),
				buildTask("b", models.PhaseBusinessLogic),
			},
			wantErr: "later phase",
		},
		{
			name: "cycle",
			tasks: []models.Task{
				buildTask("a", models.PhaseDataModel, "b"),
				buildTask("b", models.PhaseDataModel, "a"),
			},
			wantErr: "circular",
		},
		{
			name: "empty id",
			tasks: []models.Task{
				buildTask("", models.PhaseDataModel),
			},
			wantErr: "empty id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTasks(tt.tasks)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCalculateWavesDiamond(t *testing.T) {
	tasks := []models.Task{
		buildTask("a", models.PhaseBusinessLogic),
		buildTask("b", models.PhaseBusinessLogic, "a"),
		buildTask("c", models.PhaseBusinessLogic, "a"),
		buildTask("d", models.PhaseBusinessLogic, "b", "c"),
	}

	waves, err := CalculateWaves(tasks)
	if err != nil {
		t.Fatalf("CalculateWaves error: %v", err)
	}
	if len(waves) != 3 {
		t.Fatalf("got %d waves, want 3", len(waves))
	}
	if len(waves[0].TaskIDs) != 1 || waves[0].TaskIDs[0] != "a" {
		t.Errorf("wave 1 = %v, want [a]", waves[0].TaskIDs)
	}
	if len(waves[1].TaskIDs) != 2 {
		t.Errorf("wave 2 = %v, want [b c]", waves[1].TaskIDs)
	}
	if len(waves[2].TaskIDs) != 1 || waves[2].TaskIDs[0] != "d" {
		t.Errorf("wave 3 = %v, want [d]", waves[2].TaskIDs)
	}
}

func TestCalculateWavesIgnoresCrossPhaseDeps(t *testing.T) {
	// A dependency on an earlier phase must not count as an edge.
	tasks := []models.Task{
		buildTask("b1", models.PhaseBusinessLogic, "a1"),
		buildTask("b2", models.PhaseBusinessLogic, "a1"),
	}

	waves, err := CalculateWaves(tasks)
	if err != nil {
		t.Fatalf("CalculateWaves error: %v", err)
	}
	if len(waves) != 1 {
		t.Fatalf("got %d waves, want 1", len(waves))
	}
	if len(waves[0].TaskIDs) != 2 {
		t.Errorf("wave 1 = %v, want both tasks", waves[0].TaskIDs)
	}
}

func TestCalculateWavesEmpty(t *testing.T) {
	waves, err := CalculateWaves(nil)
	if err != nil {
		t.Fatalf("CalculateWaves error: %v", err)
	}
	if len(waves) != 0 {
		t.Errorf("got %d waves, want 0", len(waves))
	}
}

func TestTasksForPhase(t *testing.T) {
	tasks := []models.Task{
		buildTask("a", models.PhaseDataModel),
		buildTask("b", models.PhaseBusinessLogic),
		buildTask("c", models.PhaseDataModel),
	}
	got := TasksForPhase(tasks, models.PhaseDataModel)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("TasksForPhase = %v", got)
	}
}
