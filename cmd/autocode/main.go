package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jacob8919/autonomous-coding/internal/agent"
	"github.com/jacob8919/autonomous-coding/internal/checkpoint"
	"github.com/jacob8919/autonomous-coding/internal/db"
	"github.com/jacob8919/autonomous-coding/internal/dupe"
	"github.com/jacob8919/autonomous-coding/internal/mcp"
	"github.com/jacob8919/autonomous-coding/internal/progress"
	"github.com/jacob8919/autonomous-coding/internal/supervisor"
	"github.com/jacob8919/autonomous-coding/internal/ui"
	"github.com/jacob8919/autonomous-coding/pkg/models"
)

var (
	dbPath       string
	snapshotPath string
)

func main() {
	flag.StringVar(&dbPath, "db-path", ".autocode/autocode.db", "Path to database file")
	flag.StringVar(&snapshotPath, "snapshot-path", ".autocode/snapshot.jsonl", "Path to snapshot file")
	flag.Parse()

	var command string
	var args []string

	if flag.NArg() == 0 {
		selected, err := ui.RunMenu()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error running menu: %v\n", err)
			os.Exit(1)
		}
		if selected == "" {
			os.Exit(0)
		}
		command = selected
		args = []string{}
	} else {
		command = flag.Arg(0)
		args = flag.Args()[1:]
	}

	var err error
	switch command {
	case "init":
		err = runInit(args)
	case "add":
		err = runAdd(args)
	case "status":
		err = runStatus(args)
	case "search":
		err = runSearch(args)
	case "run":
		err = runSupervisor(args)
	case "mcp":
		err = runMCP(args)
	case "reopen":
		err = runReopen(args)
	case "skip":
		err = runSkip(args)
	case "compact":
		err = runCompact(args)
	case "sessions":
		err = runSessions(args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openDB(ctx context.Context) (*db.DB, error) {
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := database.Init(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func runInit(args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	autocodeDir := filepath.Join(targetDir, ".autocode")
	if err := os.MkdirAll(autocodeDir, 0755); err != nil {
		return fmt.Errorf("failed to create .autocode directory: %w", err)
	}
	fmt.Println("✓ Created .autocode/ directory")

	gitignorePath := filepath.Join(autocodeDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte("autocode.db*\n"), 0644); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	fmt.Println("✓ Created .autocode/.gitignore")

	// Default paths if not overridden by flags
	finalDBPath := dbPath
	if dbPath == ".autocode/autocode.db" {
		finalDBPath = filepath.Join(autocodeDir, "autocode.db")
	}

	finalSnapshotPath := snapshotPath
	if snapshotPath == ".autocode/snapshot.jsonl" {
		finalSnapshotPath = filepath.Join(autocodeDir, "snapshot.jsonl")
	}

	database, err := db.Open(finalDBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	fmt.Printf("✓ Initialized database at %s\n", finalDBPath)

	if _, err := os.Stat(finalSnapshotPath); err == nil {
		if err := database.ImportSnapshot(ctx, finalSnapshotPath); err != nil {
			return fmt.Errorf("failed to import snapshot: %w", err)
		}
		fmt.Printf("✓ Imported snapshot from %s\n", finalSnapshotPath)
	}

	fmt.Println("✓ Autocode initialized successfully")
	return nil
}

func runAdd(args []string) error {
	addFlags := flag.NewFlagSet("add", flag.ContinueOnError)
	file := addFlags.String("file", "-", "JSON payload path ('-' for stdin)")
	mode := addFlags.String("mode", "", "Priority mode: append or prepend (overrides payload metadata)")
	source := addFlags.String("source", string(models.FeatureSourceInitial), "Feature source: initial or enhancement")
	force := addFlags.Bool("force", false, "Insert even when a near-duplicate exists")
	threshold := addFlags.Float64("threshold", 0.6, "Duplicate similarity threshold (0-1)")
	webhook := addFlags.String("webhook", "", "Progress webhook URL")
	project := addFlags.String("project", "", "Project name reported to the webhook")
	if err := addFlags.Parse(args); err != nil {
		return err
	}

	var payload []byte
	var err error
	if *file == "-" {
		payload, err = io.ReadAll(os.Stdin)
	} else {
		payload, err = os.ReadFile(*file)
	}
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	inputs, meta, err := parseBulkPayload(payload)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("payload contains no features")
	}

	priorityMode := models.PriorityModeAppend
	if meta != nil && meta.PriorityMode != "" {
		priorityMode = meta.PriorityMode
	}
	if *mode != "" {
		priorityMode = models.PriorityMode(*mode)
	}
	if priorityMode != models.PriorityModeAppend && priorityMode != models.PriorityModePrepend {
		return fmt.Errorf("unknown priority mode %q", priorityMode)
	}

	featureSource := models.FeatureSource(*source)
	if featureSource != models.FeatureSourceInitial && featureSource != models.FeatureSourceEnhancement {
		return fmt.Errorf("unknown source %q", featureSource)
	}

	batchID := uuid.NewString()
	if meta != nil && meta.BatchID != "" {
		batchID = meta.BatchID
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	if *webhook != "" {
		progress.NewReporter(database, *webhook, *project).WatchLedger()
	}

	if !*force {
		existing, err := database.ListFeatures(ctx)
		if err != nil {
			return err
		}
		kept := inputs[:0]
		for _, in := range inputs {
			if m := dupe.CheckDuplicate(existing, in, *threshold); m != nil {
				fmt.Printf("⚠ Skipping %q: near-duplicate of feature %d %q (%.0f%% match)\n",
					in.Name, m.Feature.ID, m.Feature.Name, m.Score*100)
				continue
			}
			kept = append(kept, in)
		}
		inputs = kept
		if len(inputs) == 0 {
			fmt.Println("Nothing to add after duplicate filtering (use -force to override)")
			return nil
		}
	}

	ids, err := database.InsertFeatures(ctx, inputs, &batchID, featureSource, priorityMode)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Added %d feature(s) in batch %s (%s)\n", len(ids), batchID, priorityMode)
	return nil
}

func parseBulkPayload(payload []byte) ([]models.FeatureInput, *models.BulkMetadata, error) {
	var req models.BulkRequest
	if err := json.Unmarshal(payload, &req); err == nil && len(req.Features) > 0 {
		return req.Features, &req.Metadata, nil
	}

	var inputs []models.FeatureInput
	if err := json.Unmarshal(payload, &inputs); err != nil {
		return nil, nil, fmt.Errorf("payload must be a bulk request object or a feature array: %w", err)
	}
	return inputs, nil, nil
}

func runStatus(args []string) error {
	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	stats, err := database.GetStats(ctx)
	if err != nil {
		return err
	}

	summary, err := database.GetSummaryByCategory(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Autocode Project Status")
	fmt.Println("=======================")
	fmt.Printf("Passing: %d/%d (%.1f%%)\n", stats.Passing, stats.Total, stats.Percentage)

	if len(summary) > 0 {
		fmt.Println("\nBy Category:")
		for _, c := range summary {
			fmt.Printf("  %-20s %d/%d\n", c.Name, c.Passing, c.Total)
		}
	}

	next, err := database.NextPending(ctx)
	if err != nil {
		return err
	}
	if next != nil {
		fmt.Printf("\nNext up: [%d] %s (priority %d)\n", next.ID, next.Name, next.Priority)
	}

	return nil
}

func runSearch(args []string) error {
	searchFlags := flag.NewFlagSet("search", flag.ContinueOnError)
	limit := searchFlags.Int("limit", 10, "Maximum results")
	if err := searchFlags.Parse(args); err != nil {
		return err
	}
	query := strings.Join(searchFlags.Args(), " ")
	if query == "" {
		return fmt.Errorf("usage: autocode search <query>")
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	features, err := database.SearchFeatures(ctx, query, *limit)
	if err != nil {
		return err
	}

	fmt.Printf("%-6s %-12s %-15s %-30s\n", "ID", "STATUS", "CATEGORY", "NAME")
	fmt.Println("------------------------------------------------------------------")
	for _, f := range features {
		fmt.Printf("%-6d %-12s %-15s %-30s\n", f.ID, f.Status, f.Category, f.Name)
	}
	return nil
}

func runSupervisor(args []string) error {
	runFlags := flag.NewFlagSet("run", flag.ContinueOnError)
	agentCmd := runFlags.String("agent", "claude", "Agent command to launch per session")
	timeout := runFlags.Duration("timeout", 30*time.Minute, "Per-session timeout (0 to disable)")
	cooldown := runFlags.Duration("cooldown", 5*time.Second, "Delay between sessions")
	stallThreshold := runFlags.Int("stall-threshold", 3, "Consecutive failures before a feature is flagged for review (0 to disable)")
	maxSessions := runFlags.Int("max-sessions", 0, "Stop after this many sessions (0 for unlimited)")
	webhook := runFlags.String("webhook", "", "Progress webhook URL")
	project := runFlags.String("project", "", "Project name reported to the webhook")
	repoDir := runFlags.String("repo", ".", "Repository to checkpoint after each session")
	noCheckpoint := runFlags.Bool("no-checkpoint", false, "Disable git checkpoints")
	noTUI := runFlags.Bool("no-tui", false, "Plain output instead of the TUI")
	if err := runFlags.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	database.EnableAutoSnapshot(snapshotPath)

	runner := agent.NewRunner(*agentCmd, runFlags.Args()...)

	var checkpointer supervisor.Checkpointer
	if !*noCheckpoint {
		checkpointer = checkpoint.NewGit(*repoDir)
	}

	var notifier supervisor.Notifier
	if *webhook != "" {
		notifier = progress.NewReporter(database, *webhook, *project)
	}

	sup := supervisor.New(database, runner, checkpointer, notifier, supervisor.Config{
		SessionTimeout: *timeout,
		Cooldown:       *cooldown,
		StallThreshold: *stallThreshold,
		MaxSessions:    *maxSessions,
	})
	sup.NoTUI = *noTUI

	err = sup.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

func runMCP(args []string) error {
	mcpFlags := flag.NewFlagSet("mcp", flag.ContinueOnError)
	webhook := mcpFlags.String("webhook", "", "Progress webhook URL")
	project := mcpFlags.String("project", "", "Project name reported to the webhook")
	if err := mcpFlags.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	database.EnableAutoSnapshot(snapshotPath)
	if *webhook != "" {
		progress.NewReporter(database, *webhook, *project).WatchLedger()
	}

	s := mcp.NewServer(database)
	return mcp.Serve(s)
}

func runReopen(args []string) error {
	id, err := parseID(args, "reopen")
	if err != nil {
		return err
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Reopen(ctx, id); err != nil {
		return err
	}

	fmt.Printf("✓ Feature %d reopened\n", id)
	return nil
}

func runSkip(args []string) error {
	id, err := parseID(args, "skip")
	if err != nil {
		return err
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	oldPriority, newPriority, err := database.SkipFeature(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Feature %d moved from priority %d to %d\n", id, oldPriority, newPriority)
	return nil
}

func runCompact(args []string) error {
	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	n, err := database.CompactRanks(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Renumbered %d feature(s)\n", n)
	return nil
}

func runSessions(args []string) error {
	sessionFlags := flag.NewFlagSet("sessions", flag.ContinueOnError)
	limit := sessionFlags.Int("limit", 20, "Maximum sessions to show")
	if err := sessionFlags.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	sessions, err := database.ListSessions(ctx, *limit)
	if err != nil {
		return err
	}

	fmt.Printf("%-38s %-8s %-10s %-20s\n", "ID", "FEATURE", "OUTCOME", "STARTED")
	fmt.Println("------------------------------------------------------------------------------")
	for _, s := range sessions {
		feature := "-"
		if s.FeatureID != nil {
			feature = strconv.FormatInt(*s.FeatureID, 10)
		}
		outcome := "open"
		if s.Outcome != nil {
			outcome = string(*s.Outcome)
		}
		fmt.Printf("%-38s %-8s %-10s %-20s\n", s.ID, feature, outcome, s.StartedAt.Format(time.RFC3339))
	}
	return nil
}

func parseID(args []string, command string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("usage: autocode %s <feature-id>", command)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid feature id %q", args[0])
	}
	return id, nil
}
