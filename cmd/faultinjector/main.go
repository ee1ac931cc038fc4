// Command faultinjector drives a fault-injection campaign against a
// FreeRTOS simulator binary, per spec §6.4. With no arguments it runs
// interactively: it spawns the golden run, lists the discovered data
// structures, prompts for campaign parameters, and runs the campaign.
// Invoked with six or seven positional arguments it instead runs as a
// single parallel-mode sibling trial and exits.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	injector "github.com/PeppeRu96/freertos-fault-injector"
	"github.com/PeppeRu96/freertos-fault-injector/internal/child"
	"github.com/PeppeRu96/freertos-fault-injector/internal/constants"
	"github.com/PeppeRu96/freertos-fault-injector/internal/logging"
	"github.com/PeppeRu96/freertos-fault-injector/internal/typeregistry"
)

func main() {
	var (
		simPath = flag.String("sim", "./simulator", "Path to the FreeRTOS simulator binary")
		verbose = flag.Bool("v", false, "Verbose (debug-level) logging")
		jsonLog = flag.Bool("json", false, "Emit logs as JSON instead of text")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	if *jsonLog {
		logConfig.Format = "json"
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	rest := flag.Args()
	var err error
	if len(rest) >= 6 {
		err = runSibling(logger, rest)
	} else {
		err = runInteractive(logger, *simPath)
	}
	if err != nil {
		logger.Error("fault-injector exiting with error", "error", err)
		os.Exit(1)
	}
}

// runInteractive implements spec §6.4's operator-driven path: spawn the
// golden run, list its catalog, prompt for the five campaign parameters,
// then run the campaign sequentially or in parallel.
func runInteractive(logger *logging.Logger, simPath string) error {
	registry := typeregistry.NewRegistry()

	logger.Info("spawning golden run", "sim", simPath)
	golden, err := injector.RunGolden(simPath, registry)
	if err != nil {
		return fmt.Errorf("golden run: %w", err)
	}
	logger.Info("golden run complete", "pid", golden.PID, "duration", golden.Duration, "lines", len(golden.Output))

	ctrl, err := child.Spawn(simPath, nil, registry)
	if err != nil {
		return fmt.Errorf("spawning probe child for catalog listing: %w", err)
	}
	if err := ctrl.Handshake(); err != nil {
		ctrl.Close()
		return fmt.Errorf("handshaking with probe child: %w", err)
	}
	defer func() {
		ctrl.Terminate()
		ctrl.Close()
	}()

	structures := ctrl.GetDataStructures()
	if len(structures) == 0 {
		return fmt.Errorf("no injectable data structures discovered")
	}
	fmt.Println("Discovered data structures:")
	for _, d := range structures {
		fmt.Printf("  [%d] %s (type=%s, fixed_size=%d)\n", d.ID, d.Name, d.Type, d.FixedSize)
	}

	reader := bufio.NewScanner(os.Stdin)
	structID := promptInt(reader, "Structure id to target", structures[0].ID)
	injectN := promptInt(reader, "Number of trials", 1)
	maxTimeMs := promptInt(reader, "Maximum injection delay (ms)", 1000)
	parallelize := promptBool(reader, "Run trials in parallel?", false)
	errorPattern := promptString(reader, "Error substring to watch for (blank for none)", "")

	cfg := injector.CampaignConfig{
		StructID:     structID,
		InjectN:      injectN,
		MaxTimeMs:    maxTimeMs,
		Parallelize:  parallelize,
		ErrorPattern: errorPattern,
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid campaign configuration: %w", err)
	}

	if err := os.MkdirAll(constants.LogDir, 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	logPath := filepath.Join(constants.LogDir, fmt.Sprintf("campaign_%d.log", time.Now().Unix()))
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("creating campaign log: %w", err)
	}
	defer logFile.Close()

	if cfg.Parallelize {
		selfPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolving self path for sibling fan-out: %w", err)
		}
		spec := injector.ParallelTrialSpec{
			GoldenPID:        golden.PID,
			GoldenDurationMs: golden.Duration.Milliseconds(),
			RandSeed:         time.Now().UnixNano(),
			StructID:         structID,
			MaxTimeMs:        maxTimeMs,
			ErrorPattern:     errorPattern,
		}
		campaign := &injector.Campaign{Config: cfg}
		if err := campaign.RunParallel(selfPath, spec, logFile); err != nil {
			return fmt.Errorf("running parallel campaign: %w", err)
		}
		fmt.Printf("Campaign complete, %d trials. Log: %s\n", injectN, logPath)
		return nil
	}

	runner := &injector.LiveTrialRunner{
		SimPath:        simPath,
		Registry:       registry,
		Memory:         injector.SystemMemory,
		StructID:       structID,
		MaxTimeMs:      maxTimeMs,
		ErrorPattern:   errorPattern,
		GoldenOutput:   golden.Output,
		GoldenDuration: golden.Duration,
		Rand:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	campaign := &injector.Campaign{Config: cfg, Runner: runner}
	results, runErr := campaign.RunSequential()
	for _, r := range results {
		line := r.LogLine()
		fmt.Println(line)
		fmt.Fprintln(logFile, line)
	}
	if runErr != nil {
		return fmt.Errorf("campaign aborted after %d trials: %w", len(results), runErr)
	}
	fmt.Printf("Campaign complete, %d trials. Log: %s\n", len(results), logPath)
	return nil
}

// runSibling implements spec §6.4's parallel-mode path: parse the
// positional argument vector a Campaign.RunParallel sibling receives,
// run exactly one trial against the inherited golden transcript, and
// append its log line to this sibling's own fragment file.
func runSibling(logger *logging.Logger, args []string) error {
	if len(args) < 6 {
		return fmt.Errorf("sibling mode requires at least 6 arguments, got %d", len(args))
	}

	goldenPID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("parsing goldenPid: %w", err)
	}
	goldenDurationMs, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("parsing goldenDurationMs: %w", err)
	}
	randSeed, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("parsing randSeed: %w", err)
	}
	structID, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("parsing structId: %w", err)
	}
	trialIndex, err := strconv.Atoi(args[4])
	if err != nil {
		return fmt.Errorf("parsing trialIndex: %w", err)
	}
	maxTimeMs, err := strconv.Atoi(args[5])
	if err != nil {
		return fmt.Errorf("parsing maxTimeMs: %w", err)
	}
	errorPattern := ""
	if len(args) >= 7 {
		errorPattern = args[6]
	}

	goldenOutput, err := injector.LoadGoldenOutput(goldenPID)
	if err != nil {
		return fmt.Errorf("loading golden output for pid %d: %w", goldenPID, err)
	}

	simPath := os.Getenv("FAULTINJECTOR_SIM_PATH")
	if simPath == "" {
		simPath = "./simulator"
	}

	runner := &injector.LiveTrialRunner{
		SimPath:        simPath,
		Registry:       typeregistry.NewRegistry(),
		Memory:         injector.SystemMemory,
		StructID:       structID,
		MaxTimeMs:      maxTimeMs,
		ErrorPattern:   errorPattern,
		GoldenOutput:   goldenOutput,
		GoldenDuration: time.Duration(goldenDurationMs) * time.Millisecond,
		Rand:           rand.New(rand.NewSource(randSeed)),
	}

	result, runErr := runner.RunTrial(trialIndex)

	if err := os.MkdirAll(constants.LogDir, 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	fragPath := filepath.Join(constants.LogDir, fmt.Sprintf("log_%d.log", os.Getpid()))
	f, openErr := os.Create(fragPath)
	if openErr != nil {
		return fmt.Errorf("creating log fragment %s: %w", fragPath, openErr)
	}
	defer f.Close()

	if runErr != nil {
		fmt.Fprintf(f, "trial=%d error=%q\n", trialIndex, runErr.Error())
		return runErr
	}
	fmt.Fprintln(f, result.LogLine())
	logger.Debug("sibling trial complete", "trial", trialIndex, "outcome", result.Outcome.Verdict)
	return nil
}

func promptInt(s *bufio.Scanner, prompt string, def int) int {
	fmt.Printf("%s [%d]: ", prompt, def)
	if !s.Scan() {
		return def
	}
	line := strings.TrimSpace(s.Text())
	if line == "" {
		return def
	}
	v, err := strconv.Atoi(line)
	if err != nil {
		return def
	}
	return v
}

func promptBool(s *bufio.Scanner, prompt string, def bool) bool {
	fmt.Printf("%s [%v]: ", prompt, def)
	if !s.Scan() {
		return def
	}
	line := strings.ToLower(strings.TrimSpace(s.Text()))
	switch line {
	case "y", "yes", "true":
		return true
	case "n", "no", "false":
		return false
	default:
		return def
	}
}

func promptString(s *bufio.Scanner, prompt string, def string) string {
	fmt.Printf("%s [%q]: ", prompt, def)
	if !s.Scan() {
		return def
	}
	line := strings.TrimSpace(s.Text())
	if line == "" {
		return def
	}
	return line
}
