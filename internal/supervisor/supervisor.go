// Package supervisor owns the outer loop: it launches one bounded work
// session at a time, records the outcome in the ledger, checkpoints the
// project, and decides whether to continue, stop, or back off.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jacob8919/autonomous-coding/internal/db"
	"github.com/jacob8919/autonomous-coding/pkg/models"
)

// State is the supervisor's position in its per-tick lifecycle.
type State int

const (
	StateIdle State = iota
	StateDispatching
	StateAwaitingSession
	StateCheckpointing
	StateCoolingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateAwaitingSession:
		return "awaiting_session"
	case StateCheckpointing:
		return "checkpointing"
	case StateCoolingDown:
		return "cooling_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Store is the slice of the ledger the supervisor needs.
type Store interface {
	NextPending(ctx context.Context) (*models.Feature, error)
	GetFeature(ctx context.Context, id int64) (*models.Feature, error)
	MarkInProgress(ctx context.Context, id int64) error
	MarkOutcome(ctx context.Context, id int64, status models.FeatureStatus, errMsg *string) (*models.Feature, error)
	MarkAborted(ctx context.Context, id int64) (*models.Feature, error)
	FlagForReview(ctx context.Context, id int64) error
	CreateSession(ctx context.Context, featureID *int64) (*models.Session, error)
	FinishSession(ctx context.Context, id string, outcome models.SessionOutcome, errMsg *string) error
	ReconcileInterrupted(ctx context.Context) (int, error)
	GetStats(ctx context.Context) (*db.Stats, error)
}

// Runner executes one external work session and reports its outcome.
type Runner interface {
	Run(ctx context.Context, feature *models.Feature, out io.Writer) (models.SessionOutcome, *string)
}

// Checkpointer persists a durable snapshot after each outcome.
type Checkpointer interface {
	Checkpoint(ctx context.Context, message string) error
}

// Notifier emits progress notifications. Fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, event string)
}

type Config struct {
	// SessionTimeout bounds one external session; expiry aborts the
	// session and returns the feature to the queue. Zero disables.
	SessionTimeout time.Duration
	// Cooldown is the fixed delay between ticks.
	Cooldown time.Duration
	// StallThreshold flags a feature for review after this many
	// consecutive non-passing attempts. Zero disables.
	StallThreshold int
	// MaxSessions stops the loop after this many sessions. Zero means
	// run until the backlog is empty.
	MaxSessions int
}

func DefaultConfig() Config {
	return Config{
		SessionTimeout: 30 * time.Minute,
		Cooldown:       5 * time.Second,
		StallThreshold: 3,
	}
}

// Supervisor drives the session loop. It is strictly sequential: a new
// session is never dispatched while one is outstanding.
type Supervisor struct {
	store        Store
	runner       Runner
	checkpointer Checkpointer
	notifier     Notifier
	cfg          Config
	program      *tea.Program
	NoTUI        bool
}

func New(store Store, runner Runner, checkpointer Checkpointer, notifier Notifier, cfg Config) *Supervisor {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}
	return &Supervisor{
		store:        store,
		runner:       runner,
		checkpointer: checkpointer,
		notifier:     notifier,
		cfg:          cfg,
	}
}

// Run starts the loop, wrapped in the TUI unless NoTUI is set.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.NoTUI {
		return s.loop(ctx)
	}

	m := NewTUIModel(s.cfg.MaxSessions)
	s.program = tea.NewProgram(m, tea.WithMouseCellMotion())

	done := make(chan struct{})
	var loopErr error

	go func() {
		defer close(done)
		loopErr = s.loop(ctx)
		if loopErr != nil && loopErr != context.Canceled {
			s.program.Send(loopErr)
		}
		s.program.Quit()
	}()

	_, err := s.program.Run()
	<-done

	if loopErr != nil && loopErr != context.Canceled {
		return loopErr
	}
	return err
}

func (s *Supervisor) loop(ctx context.Context) error {
	recovered, err := s.store.ReconcileInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}
	if recovered > 0 {
		s.sendStatus(fmt.Sprintf("Recovered %d interrupted feature(s)", recovered))
	}

	sessions := 0
	for {
		select {
		case <-ctx.Done():
			s.sendStatus("Supervisor stopping...")
			return ctx.Err()
		default:
		}

		if s.cfg.MaxSessions > 0 && sessions >= s.cfg.MaxSessions {
			s.sendStatus(fmt.Sprintf("Reached max sessions (%d), stopping...", s.cfg.MaxSessions))
			return nil
		}

		s.setState(StateIdle)

		feature, err := s.store.NextPending(ctx)
		if err != nil {
			s.sendStatus(fmt.Sprintf("Ledger unavailable: %v", err))
			if err := s.coolDown(ctx); err != nil {
				return err
			}
			continue
		}

		stats, err := s.store.GetStats(ctx)
		if err != nil {
			s.sendStatus(fmt.Sprintf("Ledger unavailable: %v", err))
			if err := s.coolDown(ctx); err != nil {
				return err
			}
			continue
		}
		s.sendProgress(stats)

		if feature == nil {
			if stats.Total > 0 {
				s.setState(StateStopped)
				s.sendStatus("No eligible work remains, stopping")
				return nil
			}
			s.sendStatus("Empty ledger, dispatching initializer session")
		}

		sessions++
		s.sendSessionCount(sessions)

		if err := s.runSession(ctx, feature); err != nil {
			var conflict *db.ConflictError
			if errors.As(err, &conflict) {
				// Precondition violations are caller bugs; halt instead
				// of retrying into the same wall.
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.sendStatus(fmt.Sprintf("Session error: %v", err))
		}

		if feature == nil {
			initStats, err := s.store.GetStats(ctx)
			if err != nil {
				return err
			}
			if initStats.Total == 0 {
				return fmt.Errorf("initializer session registered no features")
			}
		}

		if err := s.coolDown(ctx); err != nil {
			return err
		}
	}
}

func (s *Supervisor) runSession(ctx context.Context, feature *models.Feature) error {
	s.setState(StateDispatching)

	var featureID *int64
	if feature != nil {
		if err := s.store.MarkInProgress(ctx, feature.ID); err != nil {
			return err
		}
		featureID = &feature.ID
		s.sendSession(feature)
	} else {
		s.sendInitializer()
	}

	sess, err := s.store.CreateSession(ctx, featureID)
	if err != nil {
		if feature != nil {
			if _, abortErr := s.store.MarkAborted(ctx, feature.ID); abortErr != nil {
				s.sendStatus(fmt.Sprintf("Failed to release claim on feature %d: %v", feature.ID, abortErr))
			}
		}
		return err
	}

	s.setState(StateAwaitingSession)

	runCtx := ctx
	if s.cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.SessionTimeout)
		defer cancel()
	}

	outcome, errMsg := s.runner.Run(runCtx, feature, s.outputWriter())

	// Record with a fresh context: the loop context may already be
	// canceled, and the outcome must still land in the ledger.
	recordCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if feature == nil && outcome == models.SessionOutcomePassing {
		if stats, statsErr := s.store.GetStats(recordCtx); statsErr == nil && stats.Total == 0 {
			outcome = models.SessionOutcomeNoWork
		}
	}

	var recordErr error
	if feature != nil {
		var resolved models.SessionOutcome
		resolved, recordErr = s.recordOutcome(recordCtx, feature, outcome, errMsg)
		if recordErr == nil {
			outcome = resolved
		}
	}

	if err := s.store.FinishSession(recordCtx, sess.ID, outcome, errMsg); err != nil {
		s.sendStatus(fmt.Sprintf("Failed to record session outcome: %v", err))
	}
	if recordErr != nil {
		return recordErr
	}

	if s.notifier != nil {
		s.notifier.Notify(recordCtx, "session_"+string(outcome))
	}

	s.setState(StateCheckpointing)
	if s.checkpointer != nil {
		// A failed snapshot never reverts the feature's status: the work
		// itself is worth more than the checkpoint.
		if err := s.checkpointer.Checkpoint(recordCtx, checkpointMessage(feature, outcome)); err != nil {
			s.sendStatus(fmt.Sprintf("Checkpoint failed: %v", err))
		}
	}

	return nil
}

func (s *Supervisor) recordOutcome(ctx context.Context, feature *models.Feature, outcome models.SessionOutcome, errMsg *string) (models.SessionOutcome, error) {
	var updated *models.Feature
	var err error

	switch outcome {
	case models.SessionOutcomeAborted:
		s.sendStatus(fmt.Sprintf("Session timed out, returning %q to the queue", feature.Name))
		updated, err = s.store.MarkAborted(ctx, feature.ID)
	case models.SessionOutcomePassing:
		updated, err = s.store.MarkOutcome(ctx, feature.ID, models.FeatureStatusPassing, nil)
	default:
		updated, err = s.store.MarkOutcome(ctx, feature.ID, models.FeatureStatusFailed, errMsg)
	}
	if err != nil {
		// The agent may have already resolved the feature over MCP
		// before the session exited. Its verdict wins.
		var conflict *db.ConflictError
		if !errors.As(err, &conflict) {
			return outcome, err
		}
		updated, err = s.store.GetFeature(ctx, feature.ID)
		if err != nil {
			return outcome, err
		}
		if updated == nil || updated.Status == models.FeatureStatusInProgress {
			return outcome, conflict
		}
		outcome = models.SessionOutcomeFailed
		if updated.Status == models.FeatureStatusPassing {
			outcome = models.SessionOutcomePassing
		}
	}

	s.sendResult(feature.Name, outcome == models.SessionOutcomePassing)

	if outcome != models.SessionOutcomePassing &&
		s.cfg.StallThreshold > 0 &&
		updated.ConsecutiveFailures >= s.cfg.StallThreshold {
		if err := s.store.FlagForReview(ctx, feature.ID); err != nil {
			s.sendStatus(fmt.Sprintf("Failed to flag feature %d for review: %v", feature.ID, err))
		} else {
			s.sendStatus(fmt.Sprintf("Feature %d failed %d attempts in a row, flagged for review",
				feature.ID, updated.ConsecutiveFailures))
		}
	}

	return outcome, nil
}

func (s *Supervisor) coolDown(ctx context.Context) error {
	s.setState(StateCoolingDown)

	t := time.NewTimer(s.cfg.Cooldown)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func checkpointMessage(feature *models.Feature, outcome models.SessionOutcome) string {
	if feature == nil {
		return fmt.Sprintf("Initializer session (%s)", outcome)
	}
	return fmt.Sprintf("Feature %d: %s (%s)", feature.ID, feature.Name, outcome)
}

func (s *Supervisor) setState(state State) {
	if s.program != nil {
		s.program.Send(StateMsg(state))
	}
}

func (s *Supervisor) sendStatus(msg string) {
	if s.program != nil {
		s.program.Send(StatusMsg(msg))
	} else {
		fmt.Printf("--- %s ---\n", msg)
	}
}

func (s *Supervisor) sendSession(f *models.Feature) {
	if s.program != nil {
		s.program.Send(SessionMsg{FeatureID: f.ID, Name: f.Name, Description: f.Description})
	} else {
		fmt.Printf("Dispatching feature %d: %s\n", f.ID, f.Name)
	}
}

func (s *Supervisor) sendInitializer() {
	if s.program != nil {
		s.program.Send(SessionMsg{Name: "initialize", Description: "Register the initial feature list"})
	} else {
		fmt.Println("Dispatching initializer session")
	}
}

func (s *Supervisor) sendResult(name string, success bool) {
	if s.program != nil {
		s.program.Send(ResultMsg{Name: name, Success: success})
	}
}

func (s *Supervisor) sendProgress(stats *db.Stats) {
	if s.program != nil {
		s.program.Send(ProgressMsg{Passing: stats.Passing, Total: stats.Total, Percentage: stats.Percentage})
	}
}

func (s *Supervisor) sendSessionCount(n int) {
	if s.program != nil {
		s.program.Send(SessionCountMsg(n))
	}
}

func (s *Supervisor) outputWriter() io.Writer {
	if s.program != nil {
		return &tuiWriter{p: s.program}
	}
	return os.Stdout
}

type tuiWriter struct {
	p *tea.Program
}

func (w *tuiWriter) Write(p []byte) (n int, err error) {
	w.p.Send(OutputMsg(string(p)))
	return len(p), nil
}
