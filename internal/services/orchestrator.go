package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medisnap/prescriptionflow/internal/models"
	"github.com/medisnap/prescriptionflow/internal/store"
)

// Step names, in fixed run order.
type Step string

const (
	StepFlag     Step = "flag"
	StepSchedule Step = "schedule"
	StepCalendar Step = "calendar"
	StepSafety   Step = "safety"
	StepPersist  Step = "persist"
)

var stepOrder = []Step{StepFlag, StepSchedule, StepCalendar, StepSafety, StepPersist}

// StepState is the lifecycle of one step within a run.
type StepState string

const (
	StatePending StepState = "pending"
	StateRunning StepState = "running"
	StateDone    StepState = "done"
	StateFailed  StepState = "failed"
)

// StepStatusUpdate is pushed to observers on every step transition.
type StepStatusUpdate struct {
	PrescriptionID string
	Step           Step
	State          StepState
	Reason         string
	At             time.Time
}

// RunResult collects everything one pipeline run produced.
type RunResult struct {
	PrescriptionID string
	Status         string
	Steps          []models.StepReport
	Flags          []models.FlagEntry
	Schedule       []models.MedicationSchedule
	Checklist      []models.ChecklistItem
	Events         map[string]map[string]string
	Safety         *models.SafetyProfile
	ExportSummary  string
}

// Orchestrator sequences the pipeline steps against one prescription,
// tracks per-step status, applies the fatal/non-fatal policy, and drives
// persistence. Runs for the same prescription id are serialized; runs for
// different ids are independent.
type Orchestrator struct {
	db       store.Store
	safety   *SafetyAnalyzer
	calendar *CalendarSync
	identity IdentityProvider

	// Now is injectable for deterministic scheduling in tests.
	Now func() time.Time
	// StepTimeout bounds each I/O-bound step's external calls.
	StepTimeout time.Duration

	locks sync.Map // prescription id -> *sync.Mutex
}

// NewOrchestrator wires the orchestrator's collaborators explicitly; there
// are no ambient singletons.
func NewOrchestrator(db store.Store, safety *SafetyAnalyzer, calendar *CalendarSync, identity IdentityProvider) *Orchestrator {
	return &Orchestrator{
		db:          db,
		safety:      safety,
		calendar:    calendar,
		identity:    identity,
		Now:         time.Now,
		StepTimeout: 90 * time.Second,
	}
}

// RunPipeline starts a run and streams step transitions. The channel is
// closed once the run finishes; the final artifacts are persisted.
func (o *Orchestrator) RunPipeline(ctx context.Context, p models.Prescription) <-chan StepStatusUpdate {
	updates := make(chan StepStatusUpdate, 16)
	go func() {
		defer close(updates)
		_, _ = o.Run(ctx, p, func(u StepStatusUpdate) { updates <- u })
	}()
	return updates
}

// GetCachedSafetyProfile exposes the safety cache to the surrounding
// application without running the pipeline.
func (o *Orchestrator) GetCachedSafetyProfile(ctx context.Context, prescriptionID string) (*models.SafetyProfile, bool, error) {
	return o.safety.CachedProfile(ctx, prescriptionID)
}

// run holds the mutable state of one pipeline execution.
type run struct {
	prescription models.Prescription
	states       map[Step]StepState
	reasons      map[Step]string
	observe      func(StepStatusUpdate)
	result       *RunResult
}

func (r *run) transition(step Step, state StepState, reason string) {
	r.states[step] = state
	r.reasons[step] = reason
	if r.observe != nil {
		r.observe(StepStatusUpdate{
			PrescriptionID: r.prescription.ID,
			Step:           step,
			State:          state,
			Reason:         reason,
			At:             time.Now(),
		})
	}
}

// Run executes the full step sequence synchronously, invoking observe on
// every transition. The returned error is the fatal error that halted the
// run, if any; non-fatal step failures are reported only through statuses.
func (o *Orchestrator) Run(ctx context.Context, p models.Prescription, observe func(StepStatusUpdate)) (*RunResult, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	// Serialize runs per prescription id to avoid duplicate calendar
	// events and divergent safety-cache writes.
	lockAny, _ := o.locks.LoadOrStore(p.ID, &sync.Mutex{})
	lock := lockAny.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	// Medications are frozen for the duration of the run.
	p.Medications = append([]models.Medication(nil), p.Medications...)

	log := slog.With("prescriptionId", p.ID)
	log.Info("Starting pipeline run.", "medicationCount", len(p.Medications))

	r := &run{
		prescription: p,
		states:       make(map[Step]StepState, len(stepOrder)),
		reasons:      make(map[Step]string, len(stepOrder)),
		observe:      observe,
		result:       &RunResult{PrescriptionID: p.ID, Events: map[string]map[string]string{}},
	}
	for _, step := range stepOrder {
		r.states[step] = StatePending
	}
	defer func() {
		for _, step := range stepOrder {
			r.result.Steps = append(r.result.Steps, models.StepReport{
				Step: string(step), State: string(r.states[step]), Reason: r.reasons[step],
			})
		}
	}()

	// Consult the persisted processing status so a re-run resumes from the
	// first non-Done step instead of redoing side effects.
	persistedRank := 0
	var stored models.Prescription
	if found, err := o.db.Get(ctx, store.PrescriptionsCollection, p.ID, &stored); err != nil {
		log.Warn("Could not read persisted prescription, treating run as fresh.", "error", err)
	} else if found {
		persistedRank = models.StatusRank(stored.Status)
		r.result.Status = stored.Status
		if r.prescription.UserID == "" {
			r.prescription.UserID = stored.UserID
		}
		if r.prescription.CreatedAt.IsZero() {
			r.prescription.CreatedAt = stored.CreatedAt
		}
	}

	if err := o.runFlagAndSchedule(ctx, r, persistedRank, log); err != nil {
		return r.result, err
	}
	if err := o.runCalendar(ctx, r, log); err != nil {
		return r.result, err
	}
	if err := o.runSafety(ctx, r, log); err != nil {
		return r.result, err
	}
	if err := o.runPersist(ctx, r, log); err != nil {
		return r.result, err
	}

	log.Info("Pipeline run finished.", "status", r.result.Status)
	return r.result, nil
}

// runFlagAndSchedule executes the two gating steps. Either failing is
// fatal: their outputs feed every later step.
func (o *Orchestrator) runFlagAndSchedule(ctx context.Context, r *run, persistedRank int, log *slog.Logger) error {
	// A previous run that reached "scheduled" already persisted flags and
	// schedule; reuse them so schedule entry ids stay stable across runs.
	// Regenerating here would mint fresh entry ids and orphan any calendar
	// refs keyed by the old ones, so failing to restore is fatal.
	if persistedRank >= models.StatusRank(models.StatusScheduled) {
		var flagSet models.FlagSet
		var schedSet models.ScheduleSet
		flagsFound, ferr := o.db.Get(ctx, store.SubCollection(r.prescription.ID, store.FlagsCollection), store.ArtifactDocID, &flagSet)
		schedFound, serr := o.db.Get(ctx, store.SubCollection(r.prescription.ID, store.ScheduleCollection), store.ArtifactDocID, &schedSet)
		if err := errors.Join(ferr, serr); err != nil {
			r.transition(StepFlag, StateFailed, err.Error())
			log.Error("Could not restore persisted artifacts, halting run.", "error", err)
			return fmt.Errorf("flag step: restoring persisted artifacts: %w", err)
		}
		if !flagsFound || !schedFound {
			reason := "persisted flags or schedule missing for a scheduled prescription"
			r.transition(StepFlag, StateFailed, reason)
			log.Error("Persisted artifacts missing, halting run.",
				"flagsFound", flagsFound, "scheduleFound", schedFound)
			return fmt.Errorf("flag step: %s", reason)
		}
		r.result.Flags = flagSet.Flags
		r.result.Schedule = schedSet.Entries
		r.result.Checklist = BuildChecklist(schedSet.Entries)
		r.transition(StepFlag, StateDone, "")
		r.transition(StepSchedule, StateDone, "")
		log.Info("Restored flags and schedule from previous run.")
		return nil
	}

	if err := o.cancelled(ctx, r, StepFlag); err != nil {
		return err
	}
	r.transition(StepFlag, StateRunning, "")
	r.result.Flags = FlagUnusualMeds(r.prescription.Medications)
	if err := o.db.Save(ctx, store.SubCollection(r.prescription.ID, store.FlagsCollection), store.ArtifactDocID,
		&models.FlagSet{Flags: r.result.Flags}); err != nil {
		r.transition(StepFlag, StateFailed, err.Error())
		log.Error("Flag step failed, halting run.", "error", err)
		return fmt.Errorf("flag step: %w", err)
	}
	r.transition(StepFlag, StateDone, "")

	if err := o.cancelled(ctx, r, StepSchedule); err != nil {
		return err
	}
	r.transition(StepSchedule, StateRunning, "")
	r.result.Schedule = BuildSchedule(r.prescription.Medications, o.Now())
	r.result.Checklist = BuildChecklist(r.result.Schedule)
	if err := o.db.Save(ctx, store.SubCollection(r.prescription.ID, store.ScheduleCollection), store.ArtifactDocID,
		&models.ScheduleSet{Entries: r.result.Schedule}); err != nil {
		r.transition(StepSchedule, StateFailed, err.Error())
		log.Error("Schedule step failed, halting run.", "error", err)
		return fmt.Errorf("schedule step: %w", err)
	}
	o.writeStatus(ctx, r, models.StatusScheduled, log)
	r.transition(StepSchedule, StateDone, "")
	return nil
}

// runCalendar is non-fatal: the run proceeds to safety with a partial or
// empty event map recorded.
func (o *Orchestrator) runCalendar(ctx context.Context, r *run, log *slog.Logger) error {
	if err := o.cancelled(ctx, r, StepCalendar); err != nil {
		return err
	}
	r.transition(StepCalendar, StateRunning, "")

	var existingRefs models.CalendarEventRefs
	if found, err := o.db.Get(ctx, store.SubCollection(r.prescription.ID, store.CalendarCollection), store.ArtifactDocID, &existingRefs); err != nil {
		log.Warn("Could not read existing calendar refs.", "error", err)
	} else if found {
		log.Info("Found previously created calendar events.", "entries", len(existingRefs.Events))
	}

	stepCtx, cancel := context.WithTimeout(ctx, o.StepTimeout)
	defer cancel()
	syncResult, err := o.calendar.Sync(stepCtx, r.prescription.ID, r.result.Schedule, existingRefs.Events)
	if syncResult != nil {
		r.result.Events = syncResult.Events
	}
	if err != nil {
		if ctx.Err() != nil {
			r.transition(StepCalendar, StateFailed, ErrCancelled.Error())
			return fmt.Errorf("calendar step: %w", ErrCancelled)
		}
		r.transition(StepCalendar, StateFailed, err.Error())
		log.Warn("Calendar step failed, continuing to safety analysis.", "error", err)
		return nil
	}

	if err := o.db.Save(ctx, store.SubCollection(r.prescription.ID, store.CalendarCollection), store.ArtifactDocID,
		&models.CalendarEventRefs{Events: syncResult.Events}); err != nil {
		r.transition(StepCalendar, StateFailed, err.Error())
		log.Warn("Failed to persist calendar event refs, continuing.", "error", err)
		return nil
	}
	o.writeStatus(ctx, r, models.StatusCalendarAdded, log)
	r.transition(StepCalendar, StateDone, "")
	if syncResult.Failed > 0 {
		log.Warn("Calendar step finished with partial success.",
			"inserted", syncResult.Inserted, "failed", syncResult.Failed)
	}
	return nil
}

// runSafety is non-fatal: the run proceeds to persist whatever succeeded.
func (o *Orchestrator) runSafety(ctx context.Context, r *run, log *slog.Logger) error {
	if err := o.cancelled(ctx, r, StepSafety); err != nil {
		return err
	}
	r.transition(StepSafety, StateRunning, "")

	names := make([]string, 0, len(r.prescription.Medications))
	for _, med := range r.prescription.Medications {
		names = append(names, med.Name)
	}

	stepCtx, cancel := context.WithTimeout(ctx, o.StepTimeout)
	defer cancel()
	profile, err := o.safety.Analyze(stepCtx, r.prescription.ID, names)
	if err != nil {
		if ctx.Err() != nil {
			r.transition(StepSafety, StateFailed, ErrCancelled.Error())
			return fmt.Errorf("safety step: %w", ErrCancelled)
		}
		r.transition(StepSafety, StateFailed, err.Error())
		log.Warn("Safety step failed, continuing to persist.", "error", err)
		return nil
	}
	r.result.Safety = profile
	o.writeStatus(ctx, r, models.StatusSafetyAnalyzed, log)
	r.transition(StepSafety, StateDone, "")
	return nil
}

// runPersist writes each artifact independently; one failed write is
// logged against its artifact and does not roll back the others.
func (o *Orchestrator) runPersist(ctx context.Context, r *run, log *slog.Logger) error {
	if err := o.cancelled(ctx, r, StepPersist); err != nil {
		return err
	}
	r.transition(StepPersist, StateRunning, "")

	var failures []string

	if r.prescription.UserID == "" {
		id, anonymous, err := o.identity.CurrentUser(ctx)
		if err != nil {
			failures = append(failures, fmt.Sprintf("prescription: %v", fmt.Errorf("%w: %v", ErrUnauthenticated, err)))
		} else {
			r.prescription.UserID = id
			if anonymous {
				log.Info("Persisting under anonymous identity.", "userId", id)
			}
		}
	}

	if r.prescription.UserID != "" {
		now := time.Now()
		r.prescription.Status = models.StatusCompleted
		r.prescription.LastUpdated = now
		if r.prescription.CreatedAt.IsZero() {
			r.prescription.CreatedAt = now
		}
		if err := o.db.Save(ctx, store.PrescriptionsCollection, r.prescription.ID, &r.prescription); err != nil {
			failures = append(failures, fmt.Sprintf("prescription: %v", err))
		}
	}

	if err := o.db.Save(ctx, store.SubCollection(r.prescription.ID, store.ChecklistCollection), store.ArtifactDocID,
		&models.Checklist{Items: r.result.Checklist}); err != nil {
		failures = append(failures, fmt.Sprintf("checklist: %v", err))
	}

	if len(failures) > 0 {
		reason := strings.Join(failures, "; ")
		r.transition(StepPersist, StateFailed, reason)
		log.Error("Persist step finished with failures.", "failures", reason)
		r.result.Status = highestStatus(r)
		return nil
	}

	r.transition(StepPersist, StateDone, "")
	r.result.Status = models.StatusCompleted
	r.result.ExportSummary = exportSummaryCard(r.prescription)
	return nil
}

// writeStatus records the coarse processing status on the prescription
// document so a later run can resume. Failures here are logged only; the
// persist step is the authoritative write.
func (o *Orchestrator) writeStatus(ctx context.Context, r *run, status string, log *slog.Logger) {
	if models.StatusRank(status) <= models.StatusRank(r.result.Status) {
		return
	}
	r.prescription.Status = status
	r.prescription.LastUpdated = time.Now()
	if r.prescription.CreatedAt.IsZero() {
		r.prescription.CreatedAt = r.prescription.LastUpdated
	}
	if err := o.db.Save(ctx, store.PrescriptionsCollection, r.prescription.ID, &r.prescription); err != nil {
		log.Warn("Failed to record processing status.", "status", status, "error", err)
		return
	}
	r.result.Status = status
}

// cancelled marks the step failed when the caller has cancelled the run,
// so a cancelled run is never reported as silently done.
func (o *Orchestrator) cancelled(ctx context.Context, r *run, step Step) error {
	if ctx.Err() == nil {
		return nil
	}
	r.transition(step, StateFailed, ErrCancelled.Error())
	return fmt.Errorf("%s step: %w", step, ErrCancelled)
}

func highestStatus(r *run) string {
	status := r.result.Status
	if models.StatusRank(status) == 0 {
		status = models.StatusExtracted
	}
	return status
}

// exportSummaryCard renders the shareable summary for a completed
// prescription.
func exportSummaryCard(p models.Prescription) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Prescription Summary — %s\n\n", p.Date.Format("Jan 2, 2006"))
	for _, med := range p.Medications {
		line := med.Name
		if med.Dosage != "" {
			line += " " + med.Dosage
		}
		if med.Frequency != "" {
			line += " | " + med.Frequency
		}
		if med.Duration != "" {
			line += " | " + med.Duration
		}
		fmt.Fprintf(&b, "• %s\n", line)
	}
	return b.String()
}
