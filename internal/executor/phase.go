package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/calder/foundry/internal/capability"
	"github.com/calder/foundry/internal/logger"
	"github.com/calder/foundry/internal/models"
)

// TaskRunner executes one build task and returns its result.
type TaskRunner interface {
	Execute(ctx context.Context, task models.Task) (models.TaskResult, error)
}

// BuildStore is the slice of persistence the build executor needs.
type BuildStore interface {
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
	UpdateExecution(ctx context.Context, exec *models.Execution) error
	GetTasksByExecution(ctx context.Context, executionID string) ([]models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	GetPhaseRecord(ctx context.Context, executionID string, phase models.Phase) (*models.PhaseRecord, error)
	SavePhaseRecord(ctx context.Context, rec *models.PhaseRecord) error
}

// WorkspaceLocker serializes deploys against the shared working checkout.
type WorkspaceLocker interface {
	Lock() error
	Unlock() error
}

// BuildExecutor runs the phased BUILD stage: tasks grouped into fixed-order
// phases, each phase on its own branch, deployed and merged on success.
type BuildExecutor struct {
	store    BuildStore
	runner   TaskRunner
	vcs      capability.VersionControl
	deployer capability.Deployer
	lock     WorkspaceLocker
	log      logger.Logger

	// maxConcurrency, when positive, overrides the per-wave concurrency cap.
	maxConcurrency int
}

// NewBuildExecutor wires a build executor. The lock may be nil when deploys
// need no workspace serialization (tests).
func NewBuildExecutor(store BuildStore, runner TaskRunner, vcs capability.VersionControl, deployer capability.Deployer, lock WorkspaceLocker, log logger.Logger) *BuildExecutor {
	if log == nil {
		log = logger.Nop{}
	}
	return &BuildExecutor{
		store:    store,
		runner:   runner,
		vcs:      vcs,
		deployer: deployer,
		lock:     lock,
		log:      log,
	}
}

// SetMaxConcurrency overrides the per-wave task concurrency cap. Values below
// one are ignored.
func (e *BuildExecutor) SetMaxConcurrency(n int) {
	if n > 0 {
		e.maxConcurrency = n
	}
}

// ExecuteBuild runs every phase of an execution's task graph in the fixed
// phase order. Phases with no tasks are skipped. A phase that ends with
// failed tasks stops the build; completed phases are never re-run, so a
// crashed build resumes where it left off.
func (e *BuildExecutor) ExecuteBuild(ctx context.Context, executionID string) error {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution %s: %w", executionID, err)
	}

	tasks, err := e.store.GetTasksByExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load tasks for %s: %w", executionID, err)
	}
	if err := ValidateTasks(tasks); err != nil {
		return fmt.Errorf("validate task graph: %w", err)
	}

	for _, phase := range models.PhaseOrder() {
		phaseTasks := TasksForPhase(tasks, phase)
		if len(phaseTasks) == 0 {
			continue
		}

		if err := e.runPhase(ctx, exec, phase, tasks); err != nil {
			exec.AppendLog("phase %s failed: %v", phase, err)
			if uerr := e.store.UpdateExecution(ctx, exec); uerr != nil {
				e.log.Errorf("execution %s: persist failure log: %v", exec.ID, uerr)
			}
			return err
		}

		// Reload so the next phase sees terminal statuses from this one.
		tasks, err = e.store.GetTasksByExecution(ctx, executionID)
		if err != nil {
			return fmt.Errorf("reload tasks for %s: %w", executionID, err)
		}

		exec.AppendLog("phase %s deployed", phase)
		if err := e.store.UpdateExecution(ctx, exec); err != nil {
			e.log.Errorf("execution %s: persist phase log: %v", exec.ID, err)
		}
	}

	return nil
}

// runPhase executes one phase end to end: branch, waves, a single deferred
// pass for dependency-blocked tasks, then deploy and merge.
func (e *BuildExecutor) runPhase(ctx context.Context, exec *models.Execution, phase models.Phase, allTasks []models.Task) error {
	rec, err := e.store.GetPhaseRecord(ctx, exec.ID, phase)
	if err != nil {
		return err
	}
	if rec != nil && rec.Status == models.PhaseCompleted {
		e.log.Infof("execution %s: phase %s already completed, skipping", exec.ID, phase)
		return nil
	}

	branch := fmt.Sprintf("build/%s/%s", exec.ID, phase)
	now := time.Now().UTC()
	rec = &models.PhaseRecord{
		ExecutionID: exec.ID,
		Phase:       phase,
		Status:      models.PhaseInProgress,
		Branch:      branch,
		StartedAt:   &now,
	}
	if err := e.store.SavePhaseRecord(ctx, rec); err != nil {
		return err
	}

	if err := e.vcs.CreateBranch(ctx, branch); err != nil {
		return e.failPhase(ctx, rec, fmt.Errorf("create branch %s: %w", branch, err))
	}

	phaseTasks := TasksForPhase(allTasks, phase)
	waves, err := CalculateWaves(phaseTasks)
	if err != nil {
		return e.failPhase(ctx, rec, err)
	}

	statuses := make(map[string]models.TaskStatus, len(allTasks))
	taskMap := make(map[string]models.Task, len(allTasks))
	for _, task := range allTasks {
		statuses[task.ID] = task.Status
		taskMap[task.ID] = task
	}

	phaseErr := NewPhaseError(string(phase), len(phaseTasks))
	var deferred []string
	for _, wave := range waves {
		e.log.Infof("execution %s: phase %s, %s: %d tasks", exec.ID, phase, wave.Name, len(wave.TaskIDs))
		deferred = append(deferred, e.executeWave(ctx, wave, taskMap, statuses, phaseErr)...)
		if ctx.Err() != nil {
			return e.failPhase(ctx, rec, ctx.Err())
		}
	}

	// Dependency-deferred tasks get one attempt now that their siblings have
	// settled. Failed tasks are terminal and are never re-run.
	e.runDeferredPass(ctx, deferred, taskMap, statuses, phaseErr)

	completed := 0
	for _, task := range phaseTasks {
		if statuses[task.ID] == models.TaskCompleted {
			completed++
		}
	}
	if completed > 0 {
		message := fmt.Sprintf("Phase %s: %d tasks completed", phase, completed)
		if _, err := e.vcs.Commit(ctx, message); err != nil {
			return e.failPhase(ctx, rec, fmt.Errorf("commit phase artifacts: %w", err))
		}
	}

	if phaseErr.FailedTasks > 0 {
		return e.failPhase(ctx, rec, phaseErr)
	}

	return e.DeployPhase(ctx, exec.ID, phase)
}

type waveResult struct {
	task   models.Task
	result models.TaskResult
	err    error
}

// executeWave runs one wave's tasks with bounded parallelism. A sibling
// failure does not cancel the rest of the wave; tasks whose dependencies are
// not yet completed are not executed but returned for the deferred pass at
// the end of the phase.
func (e *BuildExecutor) executeWave(ctx context.Context, wave Wave, taskMap map[string]models.Task, statuses map[string]models.TaskStatus, phaseErr *PhaseError) []string {
	maxConcurrency := wave.MaxConcurrency
	if e.maxConcurrency > 0 {
		maxConcurrency = e.maxConcurrency
	}
	if maxConcurrency <= 0 || maxConcurrency > len(wave.TaskIDs) {
		maxConcurrency = len(wave.TaskIDs)
	}

	semaphore := make(chan struct{}, maxConcurrency)
	results := make(chan waveResult, len(wave.TaskIDs))
	var wg sync.WaitGroup
	var deferred []string

	for _, taskID := range wave.TaskIDs {
		task := taskMap[taskID]

		if task.Status == models.TaskCompleted {
			continue
		}

		if !task.DepsSatisfied(statuses) {
			// Not a failure yet: the task waits for the deferred pass.
			deferred = append(deferred, task.ID)
			continue
		}

		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case semaphore <- struct{}{}:
			task = e.markInProgress(ctx, task, taskMap, statuses)
			wg.Add(1)
			go func(task models.Task) {
				defer wg.Done()
				defer func() { <-semaphore }()
				result, err := e.runner.Execute(ctx, task)
				results <- waveResult{task: task, result: result, err: err}
			}(task)
		}
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		result := res.result
		if res.err == nil && result.Success {
			e.settleTask(ctx, res.task, models.TaskCompleted, &result, taskMap, statuses)
			continue
		}
		if result.Error == "" && res.err != nil {
			result.Error = res.err.Error()
		}
		e.settleTask(ctx, res.task, models.TaskFailed, &result, taskMap, statuses)
		phaseErr.AddTask(NewTaskError(res.task.ID, "execution failed", res.err))
	}

	return deferred
}

// runDeferredPass gives each dependency-deferred task one execution attempt
// after the phase's waves have settled. A task whose dependencies still are
// not completed is skipped. A task that already failed stays failed: its
// iteration budget is spent and it is never re-invoked.
func (e *BuildExecutor) runDeferredPass(ctx context.Context, deferred []string, taskMap map[string]models.Task, statuses map[string]models.TaskStatus, phaseErr *PhaseError) {
	for _, id := range deferred {
		task := taskMap[id]

		if !task.DepsSatisfied(statuses) {
			var missing []string
			for _, dep := range task.DependsOn {
				if statuses[dep] != models.TaskCompleted {
					missing = append(missing, dep)
				}
			}
			depErr := &DependencyUnsatisfiedError{TaskID: task.ID, Missing: missing}
			e.settleTask(ctx, task, models.TaskSkipped, &models.TaskResult{Error: depErr.Error()}, taskMap, statuses)
			phaseErr.AddTask(NewTaskError(task.ID, "skipped", depErr))
			continue
		}
		if ctx.Err() != nil {
			return
		}

		e.log.Infof("task %s: deferred execution", task.ID)
		task = e.markInProgress(ctx, task, taskMap, statuses)
		result, err := e.runner.Execute(ctx, task)
		if err == nil && result.Success {
			e.settleTask(ctx, task, models.TaskCompleted, &result, taskMap, statuses)
			continue
		}
		if result.Error == "" && err != nil {
			result.Error = err.Error()
		}
		e.settleTask(ctx, task, models.TaskFailed, &result, taskMap, statuses)
		phaseErr.AddTask(NewTaskError(task.ID, "execution failed", err))
	}
}

// markInProgress persists a task's dispatch so status polling sees it running.
func (e *BuildExecutor) markInProgress(ctx context.Context, task models.Task, taskMap map[string]models.Task, statuses map[string]models.TaskStatus) models.Task {
	now := time.Now().UTC()
	task.Status = models.TaskInProgress
	if task.StartedAt == nil {
		task.StartedAt = &now
	}
	if err := e.store.UpdateTask(ctx, &task); err != nil {
		e.log.Errorf("task %s: persist status %s: %v", task.ID, models.TaskInProgress, err)
	}
	taskMap[task.ID] = task
	statuses[task.ID] = models.TaskInProgress
	return task
}

// DeployPhase deploys one phase's artifacts through the phase's pathway and
// merges its branch. Calling it for a phase already marked completed returns
// the prior outcome without touching any adapter.
func (e *BuildExecutor) DeployPhase(ctx context.Context, executionID string, phase models.Phase) error {
	rec, err := e.store.GetPhaseRecord(ctx, executionID, phase)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("phase %s of execution %s has not started", phase, executionID)
	}
	if rec.Status == models.PhaseCompleted {
		e.log.Infof("execution %s: phase %s already deployed", executionID, phase)
		return nil
	}

	if e.lock != nil {
		if err := e.lock.Lock(); err != nil {
			return fmt.Errorf("acquire workspace lock: %w", err)
		}
		defer e.lock.Unlock()
	}

	if err := e.deploy(ctx, executionID, phase, rec); err != nil {
		if rerr := e.vcs.Revert(ctx, rec.Branch); rerr != nil {
			e.log.Errorf("execution %s: revert %s after deploy failure: %v", executionID, rec.Branch, rerr)
		}
		return e.failPhase(ctx, rec, fmt.Errorf("deploy phase %s: %w", phase, err))
	}

	tag := fmt.Sprintf("phase/%s/%s", executionID, phase)
	if err := e.vcs.Tag(ctx, tag); err != nil {
		return e.failPhase(ctx, rec, fmt.Errorf("tag phase %s: %w", phase, err))
	}

	now := time.Now().UTC()
	rec.Status = models.PhaseCompleted
	rec.Tag = tag
	rec.Error = ""
	rec.CompletedAt = &now
	return e.store.SavePhaseRecord(ctx, rec)
}

func (e *BuildExecutor) deploy(ctx context.Context, executionID string, phase models.Phase, rec *models.PhaseRecord) error {
	switch phase.Pathway() {
	case models.PathwaySourcePush:
		title := fmt.Sprintf("Phase %s for execution %s", phase, executionID)
		if _, err := e.vcs.OpenChangeRequest(ctx, rec.Branch, title); err != nil {
			return err
		}
		if err := e.deployer.ViaSourcePush(ctx, rec.Branch); err != nil {
			return err
		}
		return e.vcs.Merge(ctx, rec.Branch)

	default:
		tasks, err := e.store.GetTasksByExecution(ctx, executionID)
		if err != nil {
			return err
		}
		var refs []string
		for _, task := range TasksForPhase(tasks, phase) {
			if task.Status != models.TaskCompleted || task.Result == nil || task.Result.ArtifactRef == "" {
				continue
			}
			refs = append(refs, task.Result.ArtifactRef)
		}

		if phase == models.PhaseFinalize {
			// The closing phase ships one explicit manifest instead of
			// per-component calls.
			if len(refs) > 0 {
				if err := e.deployer.WithExplicitManifest(ctx, refs); err != nil {
					return err
				}
			}
		} else {
			for _, ref := range refs {
				if err := e.deployer.ViaAdministrativeAPI(ctx, ref); err != nil {
					return err
				}
			}
		}
		return e.vcs.Merge(ctx, rec.Branch)
	}
}

func (e *BuildExecutor) settleTask(ctx context.Context, task models.Task, status models.TaskStatus, result *models.TaskResult, taskMap map[string]models.Task, statuses map[string]models.TaskStatus) {
	now := time.Now().UTC()
	task.Status = status
	task.Result = result
	task.CompletedAt = &now
	if task.StartedAt == nil {
		task.StartedAt = &now
	}
	if err := e.store.UpdateTask(ctx, &task); err != nil {
		e.log.Errorf("task %s: persist status %s: %v", task.ID, status, err)
	}
	taskMap[task.ID] = task
	statuses[task.ID] = status
}

func (e *BuildExecutor) failPhase(ctx context.Context, rec *models.PhaseRecord, cause error) error {
	now := time.Now().UTC()
	rec.Status = models.PhaseFailed
	rec.Error = cause.Error()
	rec.CompletedAt = &now
	if err := e.store.SavePhaseRecord(ctx, rec); err != nil {
		e.log.Errorf("execution %s: persist failed phase %s: %v", rec.ExecutionID, rec.Phase, err)
	}
	return cause
}
