// Command flowvm validates and runs workflow program documents against a
// local host backed by an embedded database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rendis/flowvm/internal/hosting"
	"github.com/rendis/flowvm/internal/logging"
	"github.com/rendis/flowvm/internal/store"
	"github.com/rendis/flowvm/pkg/interp"
	"github.com/rendis/flowvm/pkg/schema"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := loadConfig()
	setupLogging(cfg.LogLevel)

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(cfg, os.Args[2:])
	case "validate":
		err = cmdValidate(os.Args[2:])
	case "runs":
		err = cmdRuns(cfg, os.Args[2:])
	case "version":
		fmt.Println("flowvm", version)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: flowvm <command> [flags]

commands:
  run <program.json>       execute a program document
  validate <program.json>  validate a program document
  runs                     list recorded runs
  version                  print version`)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(logging.NewCorrelationHandler(inner)))
}

func loadProgram(path string) (*schema.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	validator, err := schema.NewDocumentValidator()
	if err != nil {
		return nil, err
	}
	return validator.ValidateAndDecode(data)
}

func cmdValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("validate: expected exactly one program file")
	}

	program, err := loadProgram(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Printf("ok: %s (%d top-level nodes)\n", program.Name, len(program.Body))
	return nil
}

func cmdRun(cfg Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	inputJSON := fs.String("input", "", "input record as JSON")
	argsJSON := fs.String("args", "", "args record as JSON")
	inMemory := fs.Bool("memory", false, "use an in-memory store instead of the database")
	quiet := fs.Bool("quiet", false, "suppress progress output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("run: expected exactly one program file")
	}

	program, err := loadProgram(fs.Arg(0))
	if err != nil {
		return err
	}

	var input, runArgs any
	if *inputJSON != "" {
		if err := json.Unmarshal([]byte(*inputJSON), &input); err != nil {
			return fmt.Errorf("parse --input: %w", err)
		}
	}
	if *argsJSON != "" {
		if err := json.Unmarshal([]byte(*argsJSON), &runArgs); err != nil {
			return fmt.Errorf("parse --args: %w", err)
		}
	}

	st, err := openStore(cfg, *inMemory)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := st.Migrate(ctx); err != nil {
		return err
	}

	ip := interp.New(interp.Config{
		ExprTimeout:     cfg.exprTimeout(),
		ConditionEngine: cfg.ConditionEngine,
	})
	host, err := hosting.NewLocalHost(hosting.Config{
		Store:       st,
		Interpreter: ip,
	})
	if err != nil {
		return err
	}

	run := ip.Execute(ctx, program, host, input, runArgs)

	if err := st.CreateRun(ctx, &store.RunRecord{
		ID:      run.ID(),
		Program: program.Name,
		Status:  store.RunStatusRunning,
	}); err != nil {
		return err
	}

	for ev := range run.Events() {
		if *quiet {
			continue
		}
		switch ev.Kind {
		case schema.ProgressWaiting:
			fmt.Printf("[waiting] %s (timeout %dms)\n", ev.Message, ev.TimeoutMs)
		default:
			if ev.Origin != "" {
				fmt.Printf("[%s] %s\n", ev.Origin, ev.Message)
			} else {
				fmt.Println(ev.Message)
			}
		}
	}

	value, runErr := run.Result()
	if err := recordOutcome(ctx, st, run.ID(), value, runErr); err != nil {
		slog.Warn("record run outcome", slog.String("error", err.Error()))
	}
	if runErr != nil {
		return runErr
	}

	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func recordOutcome(ctx context.Context, st store.Store, runID string, value any, runErr error) error {
	update := store.RunUpdate{}
	now := time.Now().UTC()
	update.FinishedAt = &now
	if runErr != nil {
		status := store.RunStatusFailed
		msg := runErr.Error()
		update.Status = &status
		update.Error = &msg
	} else {
		status := store.RunStatusCompleted
		update.Status = &status
		if raw, err := json.Marshal(value); err == nil {
			update.Result = raw
		}
	}
	return st.UpdateRun(ctx, runID, update)
}

func cmdRuns(cfg Config, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum runs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := openStore(cfg, false)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	runs, err := st.ListRuns(ctx, store.RunFilter{Limit: *limit})
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%s  %-10s  %-24s  %s\n",
			r.ID, r.Status, r.Program, r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func openStore(cfg Config, inMemory bool) (store.Store, error) {
	if inMemory {
		return store.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(flowvmDir(), 0o755); err != nil {
		return nil, err
	}
	return store.NewLibSQLStore("file:" + cfg.DBPath)
}
