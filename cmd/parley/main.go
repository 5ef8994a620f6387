package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/parley-sim/parley/internal/campaign"
	"github.com/parley-sim/parley/internal/config"
	"github.com/parley-sim/parley/internal/engine"
	"github.com/parley-sim/parley/internal/events"
	"github.com/parley-sim/parley/internal/generator"
	"github.com/parley-sim/parley/internal/logging"
	"github.com/parley-sim/parley/internal/session"
	"github.com/parley-sim/parley/internal/store"
	"github.com/parley-sim/parley/internal/telemetry"
	"github.com/parley-sim/parley/internal/voice"
)

// Version is set at build time.
var Version = "dev"

const defaultCrisis = "Border tensions in the Kavros Strait have escalated " +
	"after a naval blockade; the Security Council convenes an emergency session."

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(ctx)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	cmd := newRootCommand(ctx, cfg, logger.Logger)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		return err
	}

	return nil
}

func newRootCommand(ctx context.Context, cfg *config.Config, logger *log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "parley",
		Short:         "Parley autonomous negotiation campaign runner",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.AddCommand(
		newRunCommand(cfg, logger),
		newStatusCommand(cfg),
		newBugreportCommand(logger),
	)

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if logger == nil {
			return errors.New("logger is required")
		}
		if cfg == nil {
			return errors.New("config is required")
		}
		logger.With("command", cmd.Name()).Debug("command invocation")
		return nil
	}

	_ = ctx
	return root
}

func newRunCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	var (
		minutes    int
		crisis     string
		rosterPath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one negotiation campaign to its conclusion",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCampaign(cmd.Context(), cmd.OutOrStdout(), cfg, logger, minutes, crisis, rosterPath)
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 30, "total campaign duration in minutes")
	cmd.Flags().StringVar(&crisis, "crisis", defaultCrisis, "crisis scenario text")
	cmd.Flags().StringVar(&rosterPath, "roster", "", "path to a JSON delegate roster file")
	return cmd
}

func runCampaign(
	ctx context.Context,
	out io.Writer,
	cfg *config.Config,
	logger *log.Logger,
	minutes int,
	crisis string,
	rosterPath string,
) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if logger == nil {
		return errors.New("logger is required")
	}
	if out == nil {
		out = os.Stdout
	}

	shutdownTelemetry, err := telemetry.Init(ctx)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer shutdownTelemetry()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	roster, err := loadRoster(rosterPath)
	if err != nil {
		return err
	}

	campaignID := uuid.NewString()
	logger = logger.With("campaign_id", campaignID)
	sess := session.New(campaignID, crisis, roster)

	gateway, err := store.NewFileGateway(cfg.SnapshotDir)
	if err != nil {
		return fmt.Errorf("open snapshot gateway: %w", err)
	}

	bus := events.New(events.WithLogger(logger))
	defer bus.Close()
	bus.Subscribe(events.EventTypeCollaboratorFailure, func(event events.Event) {
		if failure, ok := event.Payload.(events.CollaboratorFailure); ok {
			logger.With("collaborator", failure.Collaborator, "error", failure.Err).
				Warn("collaborator degraded, continuing with local fallbacks")
		}
	})

	gen, err := buildGenerator(cfg)
	if err != nil {
		return err
	}

	engineOptions := []engine.Option{engine.WithPublisher(bus)}
	if strings.TrimSpace(cfg.VoiceCommand) != "" {
		speaker, speakerErr := voice.NewCommand(cfg.VoiceCommand, cfg.VoiceArgs...)
		if speakerErr != nil {
			return fmt.Errorf("configure voice playback: %w", speakerErr)
		}
		engineOptions = append(engineOptions, engine.WithSpeaker(speaker))
	}

	eng, err := engine.New(gen, logger, engine.Config{
		Cooldown:    cfg.ActionCooldown,
		CallTimeout: cfg.CallTimeout,
		VoiceTuning: engine.VoiceSettings{
			Stability:       cfg.VoiceStability,
			SimilarityBoost: cfg.VoiceSimilarity,
		},
	}, engineOptions...)
	if err != nil {
		return fmt.Errorf("build action engine: %w", err)
	}

	orch, err := campaign.New(campaignID, sess, eng, gateway, logger, campaign.Config{
		TickInterval:        cfg.TickInterval,
		ObjectiveThreshold:  cfg.ObjectiveThreshold,
		CrisisIdleThreshold: cfg.CrisisIdleThreshold,
		Partition:           cfg.Partition,
		Thresholds:          cfg.Thresholds,
	}, campaign.WithPublisher(bus))
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	registry := campaign.NewRegistry()
	if err := registry.Register(campaignID, orch); err != nil {
		return fmt.Errorf("register campaign: %w", err)
	}
	defer registry.StopAll()

	if err := orch.Start(ctx, minutes); err != nil {
		return fmt.Errorf("start campaign: %w", err)
	}
	fmt.Fprintf(out, "campaign %s started: %d minutes, %d delegates\n", campaignID, minutes, len(roster))

	select {
	case <-orch.Done():
	case <-ctx.Done():
		orch.Stop()
		<-orch.Done()
	}

	final := orch.FinalResolution()
	if final == nil {
		fmt.Fprintf(out, "campaign %s stopped before conclusion\n", campaignID)
		return nil
	}
	fmt.Fprintf(out, "campaign %s concluded: %s (score %.2f)\n%s\n", campaignID, final.Kind, final.PlayerScore, final.Description)
	return nil
}

func buildGenerator(cfg *config.Config) (engine.Generator, error) {
	if strings.TrimSpace(cfg.GeneratorCommand) == "" {
		return generator.Offline{}, nil
	}
	gen, err := generator.NewCommand(cfg.GeneratorCommand, cfg.GeneratorArgs...)
	if err != nil {
		return nil, fmt.Errorf("configure generator: %w", err)
	}
	return gen, nil
}

func newStatusCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status [campaign-id]",
		Short: "Show the persisted state of a campaign",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			campaignID := ""
			if len(args) == 1 {
				campaignID = args[0]
			}
			return printStatus(cmd.OutOrStdout(), cfg, campaignID)
		},
	}
}

func printStatus(out io.Writer, cfg *config.Config, campaignID string) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	gateway, err := store.NewFileGateway(cfg.SnapshotDir)
	if err != nil {
		return fmt.Errorf("open snapshot gateway: %w", err)
	}

	if campaignID == "" {
		campaignID, err = newestCampaignID(cfg.SnapshotDir)
		if err != nil {
			return err
		}
	}

	snapshot, err := gateway.Load(campaignID)
	if err != nil {
		return fmt.Errorf("load campaign %s: %w", campaignID, err)
	}

	fmt.Fprintf(out, "campaign: %s\n", snapshot.ID)
	fmt.Fprintf(out, "crisis: %s\n", snapshot.Crisis)
	fmt.Fprintf(out, "delegates: %d\n", len(snapshot.Characters))
	fmt.Fprintf(out, "log entries: %d\n", len(snapshot.CampaignLog))
	if snapshot.ResolutionType != "" {
		fmt.Fprintf(out, "resolution: %s (score %.2f)\n", snapshot.ResolutionType, snapshot.FinalScore)
		for _, outcome := range snapshot.Outcomes {
			fmt.Fprintf(out, "  - %s\n", outcome)
		}
		return nil
	}
	if len(snapshot.CampaignLog) > 0 {
		last := snapshot.CampaignLog[len(snapshot.CampaignLog)-1]
		fmt.Fprintf(out, "last development: [%s] %s\n", last.Type, last.Title)
	}
	return nil
}

func newestCampaignID(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read snapshot directory: %w", err)
	}
	newest := ""
	var newestMod int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			continue
		}
		if newest == "" || info.ModTime().UnixNano() > newestMod {
			newest = strings.TrimSuffix(entry.Name(), ".json")
			newestMod = info.ModTime().UnixNano()
		}
	}
	if newest == "" {
		return "", errors.New("no campaign snapshots found")
	}
	return newest, nil
}

func loadRoster(path string) ([]session.Character, error) {
	if strings.TrimSpace(path) == "" {
		return defaultRoster(), nil
	}
	// #nosec G304 -- roster path is operator-provided on the command line.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster file: %w", err)
	}
	var roster []session.Character
	if err := json.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("parse roster file %q: %w", path, err)
	}
	if len(roster) == 0 {
		return nil, fmt.Errorf("roster file %q contains no delegates", path)
	}
	return roster, nil
}

func defaultRoster() []session.Character {
	return []session.Character{
		{ID: "us-ambassador", Name: "Ambassador Hayes", Country: "United States", Color: "#3C3B6E"},
		{ID: "cn-ambassador", Name: "Ambassador Wei", Country: "China", Color: "#DE2910"},
		{ID: "ru-ambassador", Name: "Ambassador Volkov", Country: "Russia", Color: "#0039A6"},
		{ID: "un-mediator", Name: "Secretary-General Okafor", Country: "United Nations", Color: "#5B92E5"},
	}
}

func resolveCommandName(args []string) string {
	for _, arg := range args {
		trimmed := strings.TrimSpace(arg)
		if trimmed == "" || strings.HasPrefix(trimmed, "-") {
			continue
		}
		return trimmed
	}
	return "root"
}
