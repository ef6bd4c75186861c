// Package main is the budgetrag CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hyperjump/budgetrag/internal/cli"
	"github.com/hyperjump/budgetrag/internal/config"
	"github.com/hyperjump/budgetrag/internal/indexer"
	"github.com/hyperjump/budgetrag/internal/models"
	"github.com/hyperjump/budgetrag/internal/modification"
	"github.com/hyperjump/budgetrag/internal/server"
	"github.com/hyperjump/budgetrag/internal/storage"
	"github.com/hyperjump/budgetrag/internal/watcher"
	urfave "github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/budgetrag/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp() *urfave.App {
	serverFlag := func() urfave.Flag {
		return &urfave.StringFlag{
			Name:  "server",
			Usage: "server URL (empty = open the stores directly when the server is not running)",
			Value: defaultServerURL,
		}
	}
	outputFlag := func() urfave.Flag {
		return &urfave.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format: text, compact, or json",
			Value:   string(cli.OutputText),
		}
	}
	return &urfave.App{
		Name:    "budgetrag",
		Usage:   "Financial document retrieval and validated budget modifications",
		Version: version,
		Flags: []urfave.Flag{
			&urfave.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file path",
				Value:   defaultConfigPath,
			},
			&urfave.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before the config",
				Value: ".env",
			},
			&urfave.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: func(c *urfave.Context) error {
			return config.LoadEnvFile(c.String("env-file"))
		},
		Commands: []*urfave.Command{
			{
				Name:   "serve",
				Usage:  "Watch the drop folders and serve the HTTP API",
				Action: serveCommand,
			},
			{
				Name:      "ingest",
				Usage:     "Index a file or every supported file under a directory",
				ArgsUsage: "<file-or-directory>",
				Action:    ingestCommand,
			},
			{
				Name:      "retrieve",
				Usage:     "Retrieve context for a free-form query",
				ArgsUsage: "<query>",
				Action:    retrieveCommand,
				Flags: []urfave.Flag{
					serverFlag(),
					outputFlag(),
					&urfave.IntFlag{Name: "top-k", Aliases: []string{"k"}, Usage: "number of chunks to retrieve (default from config)"},
					&urfave.Float64Flag{Name: "threshold", Usage: "minimum similarity score (default from config)", Value: -1},
					&urfave.IntFlag{Name: "budget", Usage: "maximum context characters (default from config)"},
					&urfave.StringSliceFlag{Name: "filter", Usage: "metadata filter key=value, repeatable"},
				},
			},
			{
				Name:      "modify",
				Usage:     "Validate and apply a budget modification",
				ArgsUsage: "[request text]",
				Action:    modifyCommand,
				Flags: []urfave.Flag{
					outputFlag(),
					&urfave.StringFlag{Name: "action", Usage: "increase, decrease, or set"},
					&urfave.StringFlag{Name: "category", Usage: "budget category"},
					&urfave.StringFlag{Name: "line-item", Usage: "line item within the category"},
					&urfave.Float64Flag{Name: "amount", Usage: "absolute amount"},
					&urfave.Float64Flag{Name: "percent", Usage: "percent of the current amount"},
					&urfave.StringFlag{Name: "justification", Aliases: []string{"j"}, Usage: "reason for the change"},
					&urfave.StringFlag{Name: "actor", Usage: "who is requesting the change", Value: currentUser()},
					&urfave.BoolFlag{Name: "elevated", Usage: "the change has elevated approval"},
					&urfave.Int64Flag{Name: "expected-version", Usage: "reject if the line item version differs"},
					&urfave.BoolFlag{Name: "parse-only", Usage: "print the parsed intent without validating"},
				},
			},
			{
				Name:   "history",
				Usage:  "List the modification ledger",
				Action: historyCommand,
				Flags: []urfave.Flag{
					outputFlag(),
					&urfave.Int64Flag{Name: "line-item-id", Usage: "only records for this line item"},
					&urfave.IntFlag{Name: "limit", Usage: "maximum records", Value: 50},
				},
			},
			{
				Name:   "categories",
				Usage:  "List budget categories",
				Action: categoriesCommand,
				Flags:  []urfave.Flag{outputFlag()},
			},
			{
				Name:   "line-items",
				Usage:  "List budget line items",
				Action: lineItemsCommand,
				Flags: []urfave.Flag{
					outputFlag(),
					&urfave.StringFlag{Name: "category", Usage: "only items in this category"},
				},
			},
			{
				Name:   "status",
				Usage:  "Show ingestion and storage status",
				Action: statusCommand,
				Flags:  []urfave.Flag{serverFlag(), outputFlag()},
			},
			{
				Name:   "seed",
				Usage:  "Load sample budget data into an empty database",
				Action: seedCommand,
			},
			{
				Name:  "watch",
				Usage: "Manage watched directories of a running server",
				Subcommands: []*urfave.Command{
					{Name: "add", ArgsUsage: "<path>", Action: watchAddCommand, Flags: []urfave.Flag{serverFlag()}},
					{Name: "remove", ArgsUsage: "<path>", Action: watchRemoveCommand, Flags: []urfave.Flag{serverFlag()}},
					{Name: "list", Action: watchListCommand, Flags: []urfave.Flag{serverFlag()}},
				},
			},
		},
	}
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

// setup loads config and builds a logger for the current command.
func setup(c *urfave.Context) (*config.Config, string, *zap.Logger, error) {
	cfg, path, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg, c.Bool("debug"))
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, path, logger, nil
}

func serveCommand(c *urfave.Context) error {
	cfg, configPath, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("config loaded", zap.String("config_path", configPath), zap.Bool("debug", cfg.Debug))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	sched, err := indexer.NewScheduler(components.Indexer, cfg.Watch.Workers,
		indexer.WithSchedulerLogger(logger),
		indexer.WithResultFunc(func(path string, res *indexer.Result, err error) {
			if err != nil {
				logger.Warn("ingest failed",
					zap.String("path", path),
					zap.String("kind", string(models.KindOf(err))),
					zap.Error(err))
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	defer sched.Close()

	watchSvc := watcher.New(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		sched,
		watcher.WithLogger(logger),
		watcher.WithDebounce(cfg.Watch.Debounce),
		watcher.WithScanInterval(cfg.Watch.ScanInterval),
		watcher.WithKnownFiles(knownPaths(components.Storage, logger)),
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watchSvc.Stop()
	n := watchSvc.SyncExistingFiles()
	logger.Info("initial sync submitted", zap.Int("files", n))

	srv := server.NewServer(server.Deps{
		Engine:   components.Engine,
		Modifier: components.Modification,
		Storage:  components.Storage,
		Tracker:  components.Indexer.Tracker(),
		Watch:    watchSvc,
	}, cfg, configPath, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}

func ingestCommand(c *urfave.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: budgetrag ingest <file-or-directory>")
	}
	path, err := filepath.Abs(c.Args().First())
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat path: %w", err)
	}

	cfg, _, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !info.IsDir() {
		res, err := components.Indexer.IndexFile(ctx, path)
		if err != nil {
			return fmt.Errorf("indexing failed: %s", models.UserMessage(err))
		}
		printIngestResult(c.App.Writer, res)
		return nil
	}

	var (
		mu               sync.Mutex
		indexed, skipped int
		failed           int
	)
	sched, err := indexer.NewScheduler(components.Indexer, cfg.Watch.Workers,
		indexer.WithSchedulerLogger(logger),
		indexer.WithResultFunc(func(p string, res *indexer.Result, err error) {
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failed++
				fmt.Fprintf(c.App.ErrWriter, "failed  %s: %s\n", p, models.UserMessage(err))
			case res != nil && res.Skipped:
				skipped++
			case res != nil:
				indexed++
				printIngestResult(c.App.Writer, res)
			}
		}),
	)
	if err != nil {
		return err
	}
	defer sched.Close()

	w := watcher.New([]string{path}, cfg.Watch.Extensions, cfg.Watch.RecursiveOrDefault(), sched)
	submitted := w.SyncExistingFiles()
	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		sched.Close()
		<-done
	}
	fmt.Fprintf(c.App.Writer, "Submitted %d file(s) from %s: %d indexed, %d unchanged, %d failed\n",
		submitted, path, indexed, skipped, failed)
	return nil
}

func printIngestResult(w io.Writer, res *indexer.Result) {
	if res.Skipped {
		fmt.Fprintf(w, "unchanged %s\n", res.Path)
		return
	}
	fmt.Fprintf(w, "indexed %s: %d chunk(s), %d fallback, %d dropped, generation %s\n",
		res.Path, res.Chunks, res.Fallbacks, res.Dropped, shortGeneration(res.Generation))
}

func shortGeneration(g string) string {
	if len(g) > 12 {
		return g[:12]
	}
	return g
}

func parseFilters(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	filters := make(map[string]string, len(values))
	for _, v := range values {
		k, val, ok := strings.Cut(v, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q; use key=value", v)
		}
		filters[k] = val
	}
	return filters, nil
}

func retrieveCommand(c *urfave.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return fmt.Errorf("usage: budgetrag retrieve [flags] <query>")
	}
	format, err := cli.ParseOutputFormat(c.String("output"))
	if err != nil {
		return err
	}
	filters, err := parseFilters(c.StringSlice("filter"))
	if err != nil {
		return err
	}
	q := &models.RetrievalQuery{
		Query:   query,
		TopK:    c.Int("top-k"),
		Budget:  c.Int("budget"),
		Filters: filters,
	}
	if t := c.Float64("threshold"); t >= 0 {
		q.ScoreThreshold = &t
	}

	var resp *models.RetrievalResponse
	if serverURL := c.String("server"); serverURL != "" {
		resp = &models.RetrievalResponse{}
		if err := postJSON(serverURL+"/api/v1/retrieve", q, http.StatusOK, resp); err != nil {
			return fmt.Errorf("retrieve failed: %w", err)
		}
	} else {
		cfg, _, logger, err := setup(c)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			return err
		}
		defer components.Close()
		resp, err = components.Engine.Retrieve(c.Context, q)
		if err != nil {
			return fmt.Errorf("retrieve failed: %s", models.UserMessage(err))
		}
	}
	return cli.WriteRetrieval(c.App.Writer, resp, format)
}

// intentFromFlags builds an intent from the structured flags, or returns nil
// when no action was given.
func intentFromFlags(c *urfave.Context) (*models.ModificationIntent, error) {
	if !c.IsSet("action") {
		return nil, nil
	}
	intent := &models.ModificationIntent{
		Action:        models.ModificationAction(strings.ToLower(c.String("action"))),
		Category:      c.String("category"),
		Justification: c.String("justification"),
	}
	if !intent.Action.Valid() {
		return nil, fmt.Errorf("--action must be increase, decrease, or set")
	}
	if intent.Category == "" {
		return nil, fmt.Errorf("--category is required with --action")
	}
	if c.IsSet("line-item") {
		li := c.String("line-item")
		intent.LineItem = &li
	}
	switch {
	case c.IsSet("amount") && c.IsSet("percent"):
		return nil, fmt.Errorf("use either --amount or --percent, not both")
	case c.IsSet("amount"):
		v := c.Float64("amount")
		intent.Amount = &v
	case c.IsSet("percent"):
		v := c.Float64("percent")
		intent.Percent = &v
	default:
		return nil, fmt.Errorf("--amount or --percent is required with --action")
	}
	if (intent.Amount != nil && *intent.Amount < 0) || (intent.Percent != nil && *intent.Percent < 0) {
		return nil, fmt.Errorf("--amount and --percent must not be negative; use --action decrease instead")
	}
	return intent, nil
}

func modifyCommand(c *urfave.Context) error {
	format, err := cli.ParseOutputFormat(c.String("output"))
	if err != nil {
		return err
	}
	intent, err := intentFromFlags(c)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if intent == nil && text == "" {
		return fmt.Errorf("usage: budgetrag modify [flags] <request text>, or --action with --category")
	}

	cfg, _, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	components, err := initializeBudget(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	if c.Bool("parse-only") {
		if intent == nil {
			intent, err = components.Modification.Parse(c.Context, text)
			if err != nil {
				return fmt.Errorf("parse failed: %s", models.UserMessage(err))
			}
		}
		return cli.WriteJSON(c.App.Writer, intent)
	}

	req := modification.Request{
		Intent:           intent,
		Text:             text,
		Actor:            c.String("actor"),
		ElevatedApproval: c.Bool("elevated"),
	}
	if c.IsSet("expected-version") {
		v := c.Int64("expected-version")
		req.ExpectedVersion = &v
	}
	res, err := components.Modification.Submit(c.Context, req)
	if res != nil {
		if werr := cli.WriteModification(c.App.Writer, res, format); werr != nil {
			return werr
		}
	}
	if err != nil {
		return urfave.Exit(models.UserMessage(err), exitCodeFor(err))
	}
	return nil
}

// exitCodeFor gives rejected and conflicting modifications distinct exit codes.
func exitCodeFor(err error) int {
	switch models.KindOf(err) {
	case models.KindValidationRejected:
		return 2
	case models.KindConflict:
		return 3
	case models.KindIntentParse:
		return 4
	}
	return 1
}

func historyCommand(c *urfave.Context) error {
	format, err := cli.ParseOutputFormat(c.String("output"))
	if err != nil {
		return err
	}
	cfg, _, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	components, err := initializeBudget(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	filter := storage.ModificationFilter{Limit: c.Int("limit")}
	if c.IsSet("line-item-id") {
		id := c.Int64("line-item-id")
		filter.LineItemID = &id
	}
	recs, err := components.Storage.ListModifications(c.Context, filter)
	if err != nil {
		return err
	}
	return cli.WriteHistory(c.App.Writer, recs, format)
}

func categoriesCommand(c *urfave.Context) error {
	format, err := cli.ParseOutputFormat(c.String("output"))
	if err != nil {
		return err
	}
	cfg, _, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	components, err := initializeBudget(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	cats, err := components.Storage.ListCategories(c.Context)
	if err != nil {
		return err
	}
	return cli.WriteCategories(c.App.Writer, cats, format)
}

func lineItemsCommand(c *urfave.Context) error {
	format, err := cli.ParseOutputFormat(c.String("output"))
	if err != nil {
		return err
	}
	cfg, _, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	components, err := initializeBudget(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	items, err := components.Storage.ListLineItems(c.Context, c.String("category"))
	if err != nil {
		return err
	}
	return cli.WriteLineItems(c.App.Writer, items, format)
}

func seedCommand(c *urfave.Context) error {
	cfg, _, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	components, err := initializeBudget(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	seeded, err := components.Storage.Seed(c.Context)
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}
	if !seeded {
		fmt.Fprintln(c.App.Writer, "Database already has budget data; nothing seeded")
		return nil
	}
	fmt.Fprintf(c.App.Writer, "Seeded sample budget into %s\n", cfg.Storage.DatabasePath)
	return nil
}

func statusCommand(c *urfave.Context) error {
	format, err := cli.ParseOutputFormat(c.String("output"))
	if err != nil {
		return err
	}
	status := &cli.Status{}
	if serverURL := c.String("server"); serverURL != "" {
		if err := getJSON(serverURL+"/api/v1/status", status); err != nil {
			return fmt.Errorf("status failed: %w", err)
		}
		return cli.WriteStatus(c.App.Writer, status, format)
	}

	cfg, _, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	components, err := initializeBudget(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	stats, err := components.Storage.DocumentStats(c.Context)
	if err != nil {
		return err
	}
	status.Documents = stats.Documents
	status.Chunks = stats.Chunks
	status.FallbackChunks = stats.Fallbacks
	status.Config = map[string]interface{}{
		"embedding_provider": cfg.Embedding.Provider,
		"vector_backend":     cfg.Vector.Backend,
		"chunk_size":         cfg.Chunking.ChunkSize,
		"chunk_overlap":      cfg.Chunking.OverlapOrDefault(),
		"database_path":      cfg.Storage.DatabasePath,
		"vector_path":        cfg.Storage.VectorPath,
	}
	if n, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.VectorPath); err == nil {
		status.DiskUsageBytes = &n
	}
	return cli.WriteStatus(c.App.Writer, status, format)
}

func watchAddCommand(c *urfave.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: budgetrag watch %s <path>", c.Command.Name)
	}
	path, err := filepath.Abs(c.Args().First())
	if err != nil {
		return err
	}
	body := map[string]interface{}{"path": path, "sync": true}
	if err := postJSON(c.String("server")+"/api/v1/watch/directories", body, http.StatusCreated, nil); err != nil {
		return fmt.Errorf("add failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Added: %s\n", path)
	return nil
}

func watchRemoveCommand(c *urfave.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: budgetrag watch %s <path>", c.Command.Name)
	}
	path, err := filepath.Abs(c.Args().First())
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(c.Context, http.MethodDelete,
		c.String("server")+"/api/v1/watch/directories?path="+url.QueryEscape(path), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return fmt.Errorf("remove failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Removed: %s\n", path)
	return nil
}

func watchListCommand(c *urfave.Context) error {
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := getJSON(c.String("server")+"/api/v1/watch/directories", &out); err != nil {
		return fmt.Errorf("list failed: %w", err)
	}
	for _, d := range out.Directories {
		fmt.Fprintln(c.App.Writer, d)
	}
	return nil
}

func postJSON(endpoint string, body interface{}, want int, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(endpoint, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, want); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func getJSON(endpoint string, out interface{}) error {
	resp, err := http.Get(endpoint)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkStatus returns the server's error message when the status is not want.
func checkStatus(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	b, _ := io.ReadAll(resp.Body)
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}
