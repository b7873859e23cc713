package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/chuahwb/ai-content-creation-sub005/internal/config"
	"github.com/chuahwb/ai-content-creation-sub005/internal/janitor"
	"github.com/chuahwb/ai-content-creation-sub005/internal/jobstore"
	"github.com/chuahwb/ai-content-creation-sub005/internal/notify"
	"github.com/chuahwb/ai-content-creation-sub005/internal/progress"
	"github.com/chuahwb/ai-content-creation-sub005/internal/registry"
	"github.com/chuahwb/ai-content-creation-sub005/internal/service"
	"github.com/chuahwb/ai-content-creation-sub005/internal/stages"
	"github.com/chuahwb/ai-content-creation-sub005/tui"
	"github.com/chuahwb/ai-content-creation-sub005/web/api"
)

var (
	serveAddr      string
	servePort      int
	submitMode     string
	submitPlatform string
	submitVariants int
	refineType     string
	refineImage    string
	refineIndex    int
	refineKind     string
	listMode       string
	listStatus     string
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator and API server",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)

	submitCmd := &cobra.Command{
		Use:   "submit PROMPT",
		Short: "Submit a new run",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}
	submitCmd.Flags().StringVar(&submitMode, "mode", "generation", "pipeline mode")
	submitCmd.Flags().StringVar(&submitPlatform, "platform", "", "target platform")
	submitCmd.Flags().IntVar(&submitVariants, "variants", 1, "number of variants to render")
	rootCmd.AddCommand(submitCmd)

	refineCmd := &cobra.Command{
		Use:   "refine RUN_ID INSTRUCTION",
		Short: "Refine one output of a completed run",
		Args:  cobra.ExactArgs(2),
		RunE:  runRefine,
	}
	refineCmd.Flags().StringVar(&refineType, "type", "subject", "refinement type (subject, text, prompt)")
	refineCmd.Flags().StringVar(&refineImage, "image", "", "parent image ID")
	refineCmd.Flags().IntVar(&refineIndex, "index", -1, "generation index of the parent image")
	refineCmd.Flags().StringVar(&refineKind, "kind", "original", "parent kind (original, refinement)")
	rootCmd.AddCommand(refineCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show orchestrator status",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listMode, "mode", "", "filter by mode")
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	rootCmd.AddCommand(listCmd)

	logsCmd := &cobra.Command{
		Use:   "logs RUN_ID",
		Short: "View logs for a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogs,
	}
	rootCmd.AddCommand(logsCmd)

	cancelCmd := &cobra.Command{
		Use:   "cancel RUN_ID",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runCancel,
	}
	rootCmd.AddCommand(cancelCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Launch the live run monitor",
		RunE:  runWatch,
	}
	rootCmd.AddCommand(watchCmd)

	rootCmd.PersistentFlags().StringVar(&serveAddr, "addr", "", "API address (defaults to config host:port)")
}

func loadConfig() (*config.Config, error) {
	return config.LoadWithLocalFallback(configPath)
}

func apiBase(cfg *config.Config) string {
	if serveAddr != "" {
		return "http://" + serveAddr
	}
	return fmt.Sprintf("http://%s:%d", cfg.Web.Host, cfg.Web.Port)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := jobstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := registry.New()
	if err := reg.LoadModesFile(cfg.General.ModesFile); err != nil {
		return fmt.Errorf("modes file: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watcher, err := registry.NewWatcher(reg, cfg.General.ModesFile); err == nil {
		go watcher.Start(ctx)
		defer watcher.Stop()
	} else {
		log.Printf("modes file watcher disabled: %v", err)
	}

	hub := progress.NewHub(store.StageSnapshot)
	hub.StartHeartbeat(15 * time.Second)
	defer hub.Stop()

	llm := stages.NewHTTPLLMClient(cfg.Providers.LLMBaseURL, cfg.Providers.LLMAPIKey, cfg.Providers.LLMModel, cfg.Providers.TextCostUSD)
	images := stages.NewHTTPImageClient(cfg.Providers.ImageBaseURL, cfg.Providers.ImageAPIKey, cfg.Providers.ImageModel, cfg.Providers.RenderCostUSD)
	stageSet := stages.All(llm, images, stages.Config{MaxConcurrentRenders: cfg.General.MaxConcurrentRenders})

	notifier := notify.NewMultiNotifier(
		notify.NewDesktopNotifier(cfg.Notifications.Desktop),
		notify.NewSlackNotifier(cfg.Notifications.SlackWebhook),
	)

	svc := service.New(store, reg, hub, stageSet, notifier, cfg.General.MaxConcurrentRuns)

	if cfg.Retention.Enabled {
		maxAge, err := time.ParseDuration(cfg.Retention.MaxAge)
		if err != nil {
			return fmt.Errorf("retention max_age: %w", err)
		}
		j, err := janitor.New(cfg.Retention.Schedule, maxAge, store.PruneTerminalRunsBefore)
		if err != nil {
			return err
		}
		go j.Start()
		defer j.Stop()
	}

	port := cfg.Web.Port
	if servePort != 0 {
		port = servePort
	}
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, port)
	apiServer := api.NewServer(svc, reg, hub, addr)

	httpServer := &http.Server{Addr: addr, Handler: apiServer.Handler()}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	log.Printf("listening on http://%s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	return svc.Shutdown(shutdownCtx)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var resp api.RunResponse
	err = postJSON(apiBase(cfg)+"/api/runs", api.SubmitRunRequest{
		Mode:        submitMode,
		Prompt:      args[0],
		Platform:    submitPlatform,
		NumVariants: submitVariants,
	}, &resp)
	if err != nil {
		return err
	}

	fmt.Printf("Submitted %s run %s\n", resp.Mode, resp.ID)
	return nil
}

func runRefine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req := api.SubmitRefinementRequest{
		ParentKind:    refineKind,
		ParentImageID: refineImage,
		Type:          refineType,
		Instruction:   args[1],
	}
	if refineIndex >= 0 {
		idx := refineIndex
		req.GenerationIndex = &idx
	}

	var resp api.RefinementResponse
	if err := postJSON(apiBase(cfg)+"/api/runs/"+args[0]+"/refinements", req, &resp); err != nil {
		return err
	}

	fmt.Printf("Submitted %s refinement %s (run %s)\n", resp.Type, resp.ID, resp.RunID)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var status api.StatusResponse
	if err := getJSON(apiBase(cfg)+"/api/status", &status); err != nil {
		return err
	}

	fmt.Printf("Runs: %d total | %d pending | %d running | %d completed | %d failed | %d cancelled\n",
		status.Total, status.Pending, status.Running, status.Completed, status.Failed, status.Cancelled)
	fmt.Printf("Slots: %d free, %d runs active\n", status.AvailableSlots, status.ActiveRuns)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	url := apiBase(cfg) + "/api/runs"
	sep := "?"
	if listMode != "" {
		url += sep + "mode=" + listMode
		sep = "&"
	}
	if listStatus != "" {
		url += sep + "status=" + listStatus
	}

	var runs []api.RunResponse
	if err := getJSON(url, &runs); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tSTATUS\tPROMPT\tCOST")
	for _, run := range runs {
		prompt := run.Prompt
		if len(prompt) > 40 {
			prompt = prompt[:37] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t$%.4f\n", run.ID, run.Mode, run.Status, prompt, run.CostUSD)
	}
	w.Flush()

	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var resp api.LogResponse
	if err := getJSON(apiBase(cfg)+"/api/runs/"+args[0]+"/logs", &resp); err != nil {
		return err
	}

	for _, line := range resp.Lines {
		fmt.Printf("%s [%s] %s\n", line.Timestamp, line.Level, line.Message)
	}
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := postJSON(apiBase(cfg)+"/api/runs/"+args[0]+"/cancel", nil, nil); err != nil {
		return err
	}
	fmt.Printf("Cancellation requested for run %s\n", args[0])
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	model := tui.NewModel(tui.NewHTTPClient(apiBase(cfg)))
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(url string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s", body.Error)
	}
	return fmt.Errorf("API returned %d", resp.StatusCode)
}
