// Command confluence runs the incremental denormalization engine as a
// standalone binary (§6 CLI surface).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/acksell/confluence/config"
	"github.com/acksell/confluence/engine"
	"github.com/acksell/confluence/relation"
)

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		configPath   string
		relationsURI []string
		doBuild      bool
		doRestore    bool
		doDeleteData bool
		doDeleteBak  bool
		doVerify     bool
		jsonLogs     bool
	)

	cmd := &cobra.Command{
		Use:   "confluence",
		Short: "Incremental tree-shaped denormalization engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runActions(ctx, actionRequest{
				configPath:   configPath,
				relationsURI: relationsURI,
				build:        doBuild,
				restore:      doRestore,
				deleteState:  doDeleteData,
				deleteBackup: doDeleteBak,
				verifyState:  doVerify,
				jsonLogs:     jsonLogs,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML configuration file")
	cmd.Flags().StringArrayVar(&relationsURI, "relations", nil, "path to a relations JSON file (repeatable)")
	cmd.Flags().BoolVar(&doBuild, "build", false, "run the probe/absorb/emit loop")
	cmd.Flags().BoolVar(&doRestore, "restore", false, "restore state from the latest backup before any other action")
	cmd.Flags().BoolVar(&doDeleteData, "delete-state", false, "wipe the state store's data")
	cmd.Flags().BoolVar(&doDeleteBak, "delete-backup", false, "wipe all snapshot backups")
	cmd.Flags().BoolVar(&doVerify, "verify-state", false, "verify every foreign-key index's forward/reverse invariant")
	cmd.Flags().BoolVar(&jsonLogs, "json-logs", false, "emit structured logs as JSON instead of text")

	cmd.MarkFlagRequired("config")
	cmd.MarkFlagRequired("relations")

	return cmd
}

type actionRequest struct {
	configPath   string
	relationsURI []string
	build        bool
	restore      bool
	deleteState  bool
	deleteBackup bool
	verifyState  bool
	jsonLogs     bool
}

func newLogger(jsonLogs bool, runID string) *slog.Logger {
	var handler slog.Handler
	if jsonLogs {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	return slog.New(handler).With("run_id", runID)
}

// runActions loads configuration and relations, wires the engine's
// collaborators, and performs the requested actions in the fixed order
// restore -> delete-backup/state -> build -> verify-state (§6 CLI
// surface: "order of side-effects is restore -> delete-backup/state ->
// build").
func runActions(ctx context.Context, req actionRequest) error {
	runID := uuid.NewString()

	cfg, err := config.Load(req.configPath)
	if err != nil {
		return err
	}

	roots, err := loadRelations(req.relationsURI)
	if err != nil {
		return err
	}

	log := newLogger(req.jsonLogs, runID)
	log.Info("starting run", "roots", len(roots), "actions", describeActions(req))

	eng, store, err := newEngine(ctx, cfg, roots, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if req.restore {
		log.Info("restoring from latest backup")
		if err := eng.Restore(ctx); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	if req.deleteBackup {
		log.Info("deleting all backups")
		if err := eng.DeleteBackups(ctx); err != nil {
			return fmt.Errorf("delete-backup: %w", err)
		}
	}

	if req.deleteState {
		log.Info("deleting state store data")
		if err := eng.DeleteState(ctx); err != nil {
			return fmt.Errorf("delete-state: %w", err)
		}
		if req.build || req.verifyState {
			// DeleteAll invalidates the store per its documented
			// contract; rebuild both the store and the engine before
			// continuing.
			store.Close()
			eng, store, err = newEngine(ctx, cfg, roots, log)
			if err != nil {
				return fmt.Errorf("rebuild engine after delete-state: %w", err)
			}
			defer store.Close()
		}
	}

	if req.build {
		log.Info("starting build")
		if err := eng.Build(ctx); err != nil {
			return fmt.Errorf("build: %w", err)
		}
	}

	if req.verifyState {
		violations, err := eng.VerifyState(ctx)
		if err != nil {
			return fmt.Errorf("verify-state: %w", err)
		}
		if len(violations) == 0 {
			log.Info("verify-state: no violations found")
		} else {
			for index, vs := range violations {
				for _, v := range vs {
					log.Warn("verify-state violation", "index", index, "index_key", v.IndexKey.String(), "member", v.Member.String(), "direction", v.Direction)
				}
			}
			return fmt.Errorf("verify-state: %d indices have violations", len(violations))
		}
	}

	return nil
}

func describeActions(req actionRequest) []string {
	var actions []string
	if req.restore {
		actions = append(actions, "restore")
	}
	if req.deleteBackup {
		actions = append(actions, "delete-backup")
	}
	if req.deleteState {
		actions = append(actions, "delete-state")
	}
	if req.build {
		actions = append(actions, "build")
	}
	if req.verifyState {
		actions = append(actions, "verify-state")
	}
	return actions
}

func loadRelations(paths []string) ([]*relation.Relation, error) {
	var roots []*relation.Relation
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open relations file %q: %w", path, err)
		}
		parsed, err := relation.Load(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parse relations file %q: %w", path, err)
		}
		roots = append(roots, parsed...)
	}
	if err := relation.ValidateRoots(roots); err != nil {
		return nil, err
	}
	return roots, nil
}

func newEngine(ctx context.Context, cfg config.Config, roots []*relation.Relation, log *slog.Logger) (*engine.Engine, storeCloser, error) {
	store := buildStore(cfg)
	if err := store.Open(ctx); err != nil {
		return nil, nil, fmt.Errorf("open state store: %w", err)
	}

	streams, err := buildStreams(ctx, cfg, roots)
	if err != nil {
		return nil, nil, err
	}
	sinks, err := buildSinks(ctx, cfg, roots)
	if err != nil {
		return nil, nil, err
	}

	reg := newMetricsRegistry()

	eng, err := engine.New(engine.Config{
		BackupTimeS:          int(cfg.BackupTimeS),
		CommitTimeS:          int(cfg.CommitTimeS),
		CreateRecordsTrigger: int(cfg.CreateRecordsTrigger),
		TotalLagTrigger:      cfg.TotalLagTrigger,
		BackupOnShutdown:     cfg.BackupOnShutdown,
		TopicAlias:           cfg.TopicAlias,
	}, roots, streams, sinks, store, reg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("construct engine: %w", err)
	}
	return eng, store, nil
}

// storeCloser is the subset of state.Store this package needs to defer a
// Close call on; kept narrow so newEngine's return type doesn't leak the
// full state.Store surface into main.
type storeCloser interface {
	Close() error
}
