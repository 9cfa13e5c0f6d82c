package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sheriff/internal/config"
	"sheriff/internal/gate"
	"sheriff/internal/logging"
	"sheriff/internal/mission"
	"sheriff/internal/sandbox"
	"sheriff/internal/store"
	"sheriff/internal/strategist"
)

var (
	// Global flags
	verbose   bool
	apiKey    string
	workspace string
	timeout   time.Duration
	parallel  int

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sheriff",
	Short: "sheriff - autonomous mission orchestrator",
	Long: `sheriff decomposes a mission into a DAG of atomic tasks and drives each
through a guarded lifecycle: predictive simulation with consensus veto,
sandboxed execution under resource quotas, root-cause healing with
forbidden zones, and a three-tier delivery gate sealed by a Merkle
sign-off.

Missions pause at task boundaries when the resource quota is exhausted
and resume from persisted state.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// runCmd executes one or more mission files
var runCmd = &cobra.Command{
	Use:   "run [mission-file...]",
	Short: "Execute missions defined in JSON mission files",
	Long: `Loads each mission file, validates its task DAG, and runs the tasks
sequentially in topological order. Multiple mission files run as a fleet
with bounded parallelism; the missions share only the forbidden-zone
ledger and the failure circuit breaker.

A mission that exhausts its resource quota pauses at the next task
boundary and prints the mission id to resume with.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMissions,
}

// resumeCmd continues a paused mission
var resumeCmd = &cobra.Command{
	Use:   "resume [mission-id]",
	Short: "Resume a paused mission from its persisted state",
	Args:  cobra.ExactArgs(1),
	RunE:  resumeMission,
}

// statusCmd shows persisted missions and archived outcomes
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted mission state and run history",
	RunE:  showStatus,
}

// gateCmd runs the delivery gate over a project directory
var gateCmd = &cobra.Command{
	Use:   "gate [dir]",
	Short: "Run the three-tier delivery gate and write the sign-off record",
	Long: `Runs the delivery gate over the project directory:
  1. Static: syntax, unsafe constructs, secrets, quality score
  2. Dynamic: test suite with aggregate and core-module coverage minimums
  3. Semantic: remote logic review

All three tiers must approve. On approval a SIGN_OFF.json containing the
Merkle root of all delivered files is written to the directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runGate,
}

// verifyCmd checks a sign-off record against the current files
var verifyCmd = &cobra.Command{
	Use:   "verify [dir]",
	Short: "Verify delivered files against their sign-off Merkle root",
	Args:  cobra.ExactArgs(1),
	RunE:  verifySignOff,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Strategist API key (or set SHERIFF_API_KEY env)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Operation timeout")

	runCmd.Flags().IntVar(&parallel, "parallel", 2, "Maximum missions running concurrently")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(verifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveWorkspace returns the --workspace flag or the current directory.
func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	cwd, _ := os.Getwd()
	return cwd
}

// signalContext derives a context cancelled by SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// collaborators bundles the wired mission dependencies.
type collaborators struct {
	cfg     *config.Config
	client  *strategist.Client
	auditor *gate.StaticAuditor
	archive *store.Archive
	ledger  *mission.Ledger
}

// buildCollaborators wires config, strategist, archive, and the shared
// forbidden-zone ledger for the workspace.
func buildCollaborators(ws string, knownImports []string) (*collaborators, error) {
	cfg, err := config.Load(ws)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		cfg.Strategist.APIKey = apiKey
	}

	if err := logging.Initialize(ws); err != nil {
		logger.Warn("Category logging unavailable", zap.Error(err))
	}

	clientCfg := strategist.DefaultClientConfig(cfg.Strategist.APIKey)
	if cfg.Strategist.BaseURL != "" {
		clientCfg.BaseURL = cfg.Strategist.BaseURL
	}
	if cfg.Strategist.Model != "" {
		clientCfg.Model = cfg.Strategist.Model
	}
	clientCfg.Timeout = cfg.StrategistTimeout()

	archive, err := store.Open(ws)
	if err != nil {
		return nil, fmt.Errorf("failed to open mission archive: %w", err)
	}

	return &collaborators{
		cfg:     cfg,
		client:  strategist.NewClient(clientCfg),
		auditor: &gate.StaticAuditor{KnownImports: knownImports},
		archive: archive,
		ledger:  mission.NewLedger(),
	}, nil
}

// missionOptions assembles per-mission Options from the shared collaborators.
func (c *collaborators) missionOptions(ws string) mission.Options {
	return mission.Options{
		Workspace: ws,
		Config:    c.cfg,
		Generator: c.client,
		Reviewer:  c.client,
		Executor:  sandbox.NewExecutor(c.cfg.ExecutionTimeout(), c.cfg.Quota.MaxMemoryMB),
		Auditor:   c.auditor,
		Ledger:    c.ledger,
		Archive:   c.archive,
	}
}

// runMissions loads the mission files and executes them, as a fleet when
// more than one is given.
func runMissions(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx, stop := signalContext(ctx)
	defer stop()

	ws := resolveWorkspace()

	var files []*MissionFile
	var knownImports []string
	for _, path := range args {
		mf, err := loadMissionFile(path)
		if err != nil {
			return err
		}
		files = append(files, mf)
		knownImports = append(knownImports, mf.KnownImports...)
	}

	c, err := buildCollaborators(ws, knownImports)
	if err != nil {
		return err
	}
	defer c.archive.Close()

	var missions []*mission.Orchestrator
	objectives := make(map[string]string)
	for _, mf := range files {
		m, err := mission.New(mf.Objective, mf.Tasks, c.missionOptions(ws))
		if err != nil {
			return fmt.Errorf("mission %q rejected: %w", mf.Objective, err)
		}
		missions = append(missions, m)
		objectives[m.MissionID()] = mf.Objective
		logger.Info("Mission scheduled",
			zap.String("mission_id", m.MissionID()),
			zap.String("objective", mf.Objective),
			zap.Int("tasks", len(mf.Tasks)))
	}

	breaker := mission.NewCircuitBreaker(c.cfg.Retry.BreakerMaxFailures, c.cfg.BreakerResetTimeout())
	fleet := mission.NewFleet(parallel, breaker)
	outcomes, runErr := fleet.Run(ctx, missions)

	for _, out := range outcomes {
		if err := c.archive.RecordOutcome(out.MissionID, objectives[out.MissionID], out.Summary, out.Err); err != nil {
			logger.Warn("Failed to archive outcome", zap.Error(err))
		}
		reportOutcome(out)
	}

	if runErr != nil && !errors.Is(runErr, mission.ErrMissionPaused) {
		return runErr
	}
	return nil
}

// reportOutcome prints one mission's result.
func reportOutcome(out mission.MissionOutcome) {
	sum := out.Summary
	switch {
	case errors.Is(out.Err, mission.ErrMissionPaused):
		fmt.Printf("Mission %s PAUSED: %d/%d tasks done, %d resource units used\n",
			out.MissionID, sum.CompletedTasks, sum.TotalTasks, sum.ResourceUnitsUsed)
		fmt.Printf("  resume with: sheriff resume %s\n", out.MissionID)
	case out.Err != nil:
		fmt.Printf("Mission %s FAILED: %v (%d/%d tasks done)\n",
			out.MissionID, out.Err, sum.CompletedTasks, sum.TotalTasks)
	default:
		fmt.Printf("Mission %s COMPLETE: %d/%d tasks done, %d transitions, %d resource units used\n",
			out.MissionID, sum.CompletedTasks, sum.TotalTasks, sum.Transitions, sum.ResourceUnitsUsed)
	}
}

// resumeMission restores a paused mission and continues it with a fresh quota.
func resumeMission(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx, stop := signalContext(ctx)
	defer stop()

	ws := resolveWorkspace()
	missionID := args[0]

	c, err := buildCollaborators(ws, nil)
	if err != nil {
		return err
	}
	defer c.archive.Close()

	m, err := mission.Resume(missionID, c.missionOptions(ws))
	if err != nil {
		if errors.Is(err, mission.ErrNoPriorState) {
			return fmt.Errorf("no persisted state for mission %s", missionID)
		}
		return err
	}
	m.ResetQuota()

	logger.Info("Mission resumed", zap.String("mission_id", missionID))
	runErr := m.Run(ctx)

	out := mission.MissionOutcome{MissionID: missionID, Err: runErr, Summary: m.Summary()}
	if err := c.archive.RecordOutcome(missionID, "(resumed)", out.Summary, runErr); err != nil {
		logger.Warn("Failed to archive outcome", zap.Error(err))
	}
	reportOutcome(out)

	if runErr != nil && !errors.Is(runErr, mission.ErrMissionPaused) {
		return runErr
	}
	return nil
}

// showStatus lists persisted missions and recent archived outcomes.
func showStatus(cmd *cobra.Command, args []string) error {
	ws := resolveWorkspace()

	ids, err := mission.NewStateStore(ws).ListMissions()
	if err != nil {
		return fmt.Errorf("failed to list missions: %w", err)
	}

	fmt.Println("sheriff mission status")
	fmt.Println("======================")
	fmt.Printf("Workspace: %s\n\n", ws)

	if len(ids) == 0 {
		fmt.Println("No persisted missions.")
	} else {
		fmt.Printf("Persisted missions (%d):\n", len(ids))
		stateStore := mission.NewStateStore(ws)
		for _, id := range ids {
			st, err := stateStore.Load(id)
			if err != nil || st == nil {
				fmt.Printf("  %s  (unreadable state)\n", id)
				continue
			}
			label := "running"
			switch {
			case len(st.CompletedTaskIDs) == len(st.Tasks):
				label = "complete"
			case st.Paused:
				label = "paused"
			}
			fmt.Printf("  %s  %s  %d/%d tasks, %d units\n",
				id, label, len(st.CompletedTaskIDs), len(st.Tasks), st.TotalResourceUnitsUsed)
		}
	}

	archive, err := store.Open(ws)
	if err != nil {
		return fmt.Errorf("failed to open mission archive: %w", err)
	}
	defer archive.Close()

	records, err := archive.History(10)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		fmt.Printf("\nRecent runs:\n")
		for _, r := range records {
			status := "ok"
			if r.Paused {
				status = "paused"
			} else if r.ErrorMessage != "" {
				status = "failed"
			}
			fmt.Printf("  %s  %-7s %d/%d tasks  %s\n",
				r.FinishedAt.Format("2006-01-02 15:04"), status, r.CompletedTasks, r.TotalTasks, r.Objective)
		}
	}
	return nil
}

// runGate executes the three-tier delivery gate over a project directory.
func runGate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ws := resolveWorkspace()
	dir := args[0]

	c, err := buildCollaborators(ws, nil)
	if err != nil {
		return err
	}
	defer c.archive.Close()

	runner := &gate.GoTestRunner{CorePathFragment: c.cfg.Gate.CorePathFragment}
	g := gate.New(c.cfg.Gate, c.auditor, runner, c.client, c.cfg.StrategistTimeout())

	projectID := c.cfg.Name
	version := c.cfg.Version
	logger.Info("Running delivery gate",
		zap.String("dir", dir),
		zap.String("project", projectID),
		zap.String("version", version))

	record, err := g.Run(ctx, projectID, version, dir)
	if err != nil {
		var tier *gate.TierFailure
		if errors.As(err, &tier) {
			return fmt.Errorf("delivery REJECTED at %s tier: %s", tier.Tier, tier.Reason)
		}
		return err
	}

	fmt.Printf("Delivery APPROVED: %s %s\n", record.ProjectID, record.Version)
	fmt.Printf("  files:       %d\n", len(record.FileHashes))
	fmt.Printf("  merkle root: %s\n", record.MerkleRoot)
	fmt.Printf("  quality:     %.1f, coverage %.1f%% (core %.1f%%), logic %.1f\n",
		record.Local.QualityScore, record.Local.Coverage, record.Local.CoreCoverage,
		record.Semantic.LogicScore)
	return nil
}

// verifySignOff recomputes the Merkle root and compares it to the record.
func verifySignOff(cmd *cobra.Command, args []string) error {
	dir := args[0]

	record, err := gate.LoadSignOff(dir)
	if err != nil {
		return fmt.Errorf("failed to load sign-off: %w", err)
	}

	if err := gate.VerifyIntegrity(dir, record); err != nil {
		var integrity *gate.IntegrityError
		if errors.As(err, &integrity) {
			fmt.Printf("Integrity check FAILED for %s %s\n", record.ProjectID, record.Version)
			for _, f := range integrity.ChangedFiles {
				fmt.Printf("  changed:  %s\n", f)
			}
			for _, f := range integrity.MissingFiles {
				fmt.Printf("  missing:  %s\n", f)
			}
			for _, f := range integrity.UnlistedFiles {
				fmt.Printf("  unlisted: %s\n", f)
			}
			return errors.New("delivered files no longer match the sign-off record")
		}
		return err
	}

	fmt.Printf("Integrity OK: %s %s (%d files, root %s)\n",
		record.ProjectID, record.Version, len(record.FileHashes), record.MerkleRoot)
	return nil
}
