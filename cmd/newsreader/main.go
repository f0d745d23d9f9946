package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/newsreader/internal/audiofocus"
	"github.com/TobiSchelling/newsreader/internal/browse"
	"github.com/TobiSchelling/newsreader/internal/catalog"
	"github.com/TobiSchelling/newsreader/internal/collect"
	"github.com/TobiSchelling/newsreader/internal/config"
	"github.com/TobiSchelling/newsreader/internal/database"
	"github.com/TobiSchelling/newsreader/internal/fetch"
	"github.com/TobiSchelling/newsreader/internal/pipeline"
	"github.com/TobiSchelling/newsreader/internal/playback"
	"github.com/TobiSchelling/newsreader/internal/server"
	"github.com/TobiSchelling/newsreader/internal/speech"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "newsreader",
	Short:   "Vietnamese news feeds, read aloud",
	Long:    "newsreader collects Vietnamese news feeds, extracts full article text and narrates it through a speech engine.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		_ = godotenv.Load()

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		log.SetLevel(cfg.LogLevel())
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(categoriesCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("newsreader", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/newsreader/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to pick the speech command, refresh schedule and default source.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Articles:")
		fmt.Printf("  Total: %d\n", stats.TotalArticles)
		fmt.Printf("  Unread: %d\n", stats.UnreadArticles)
		fmt.Printf("  With full text: %d\n", stats.WithFullContent)
		fmt.Printf("  Sources: %d\n", stats.Sources)
		return nil
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the news sources in the catalog",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range catalog.Default().Sources() {
			fmt.Println(name)
		}
	},
}

var categoriesCmd = &cobra.Command{
	Use:   "categories [source]",
	Short: "List the categories of a source, or every category name",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat := catalog.Default()
		names := cat.CategoryNames()
		if len(args) == 1 {
			var err error
			names, err = cat.CategoriesOf(args[0])
			if err != nil {
				return err
			}
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

// --- refresh command ---

var (
	dryRun   bool
	prefetch int
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [source|*] [category]",
	Short: "Fetch feeds into the database",
	Long: "Fetch one category feed, every category of a source, or a category across every " +
		"source (source \"*\"). Without arguments the refresh section of the config is used.",
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		req := pipeline.Request{Source: cfg.Refresh.Source, Category: cfg.Refresh.Category, Prefetch: cfg.Refresh.Prefetch}
		if len(args) > 0 {
			req.Source, req.Category = args[0], ""
			if len(args) > 1 {
				req.Category = args[1]
			}
		}
		if req.Source == "*" {
			req.Source = ""
		}
		if cmd.Flags().Changed("prefetch") {
			req.Prefetch = prefetch
		}

		collector := newCollector(db)
		pipe := pipeline.New(collector, db, newExtractor(), 0)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun(req)
		} else {
			result = pipe.Run(ctx, req)
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}
		return result.Err()
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	refreshCmd.Flags().IntVar(&prefetch, "prefetch", 0, "Fetch full text for up to N articles lacking it")
}

// --- list command ---

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently added articles",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		articles, err := db.ListRecent(listLimit)
		if err != nil {
			return err
		}
		if len(articles) == 0 {
			fmt.Println("No articles yet. Fetch some with: newsreader refresh VnExpress")
			return nil
		}

		for _, a := range articles {
			mark := " "
			if a.IsRead {
				mark = "✓"
			}
			published := ""
			if a.PublishedDate > 0 {
				published = time.UnixMilli(a.PublishedDate).Format("02/01 15:04")
			}
			fmt.Printf("%s %s  %-11s %-12s %s\n", mark, a.ID, published, a.Source, a.Title)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Number of articles to show")
}

// --- read command ---

var readCmd = &cobra.Command{
	Use:   "read [id]",
	Short: "Narrate an article in the foreground",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		player, engine, err := newPlayer(db)
		if err != nil {
			return err
		}
		defer engine.Close()

		loopCtx, cancelLoop := context.WithCancel(context.Background())
		defer cancelLoop()
		go player.Run(loopCtx)

		sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		states := player.Subscribe()
		defer player.Unsubscribe(states)

		if err := player.PlayID(sigCtx, args[0]); err != nil {
			return err
		}

		started := false
		for {
			select {
			case <-sigCtx.Done():
				return player.Stop(context.Background())
			case s := <-states:
				switch s.Status {
				case playback.Loading, playback.Playing:
					if !started {
						fmt.Printf("Reading: %s (%s)\n", s.ArticleTitle, s.Source)
					}
					started = true
				case playback.Error:
					return fmt.Errorf("narration failed: %s", s.Err)
				case playback.Paused, playback.Stopped:
					if started {
						return nil
					}
				}
			}
		}
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored article",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.Count()
		if err != nil {
			return err
		}
		if err := db.Clear(); err != nil {
			return fmt.Errorf("clearing articles: %w", err)
		}
		fmt.Printf("Deleted %d articles\n", n)
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server with narration controls",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		player, engine, err := newPlayer(db)
		if err != nil {
			return err
		}
		defer engine.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			if err := player.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("playback loop: %v", err)
			}
		}()

		collector := newCollector(db)
		pipe := pipeline.New(collector, db, newExtractor(), 0)

		if cfg.Refresh.Schedule != "" {
			sched, err := startSchedule(ctx, pipe)
			if err != nil {
				return err
			}
			defer sched.Stop()
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, server.Deps{
			Store:     db,
			Player:    player,
			Browser:   browse.New(collector.Client().Catalog(), collector, db),
			Refresher: pipe,
		}, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// startSchedule runs the configured refresh on the cron schedule until ctx
// is done.
func startSchedule(ctx context.Context, pipe *pipeline.Pipeline) (*cron.Cron, error) {
	req := pipeline.Request{Source: cfg.Refresh.Source, Category: cfg.Refresh.Category, Prefetch: cfg.Refresh.Prefetch}
	c := cron.New()
	_, err := c.AddFunc(cfg.Refresh.Schedule, func() {
		log.Infof("Scheduled refresh of %s/%s", req.Source, req.Category)
		if err := pipe.Run(ctx, req).Err(); err != nil {
			log.Warnf("scheduled refresh: %v", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid refresh.schedule %q: %w", cfg.Refresh.Schedule, err)
	}
	c.Start()
	log.Infof("Refresh scheduled: %s", cfg.Refresh.Schedule)
	return c, nil
}

func newCollector(db *database.DB) *collect.Collector {
	client := collect.New(catalog.Default(), collect.Options{
		Timeout:   cfg.Feeds.Timeout,
		UserAgent: cfg.Feeds.UserAgent,
		Location:  cfg.FeedLocation(),
	})
	return collect.NewCollector(client, db)
}

func newExtractor() *fetch.Extractor {
	return fetch.New(fetch.Options{
		Timeout:        cfg.Extractor.Timeout,
		Attempts:       cfg.Extractor.Attempts,
		TimeoutBackoff: cfg.Extractor.TimeoutBackoff,
		IOBackoff:      cfg.Extractor.IOBackoff,
		UserAgent:      cfg.Extractor.UserAgent,
		Selectors:      cfg.Extractor.Selectors,
		Readability:    cfg.Extractor.ReadabilityFallback,
	})
}

// newPlayer wires an orchestrator to the configured speech command. The
// caller runs the orchestrator and closes the engine.
func newPlayer(db *database.DB) (*playback.Orchestrator, *speech.CommandEngine, error) {
	engine, err := speech.New(cfg.Speech.Command, cfg.Speech.Language)
	if err != nil {
		return nil, nil, err
	}

	deps := playback.Deps{
		Store:     db,
		Extractor: newExtractor(),
		Engine:    engine,
		Focus:     audiofocus.New().Handle("newsreader"),
	}
	if len(cfg.Speech.DetectLanguages) > 0 {
		detector, err := playback.NewLinguaDetector(cfg.Speech.DetectLanguages)
		if err != nil {
			log.Warnf("language detection disabled: %v", err)
		} else {
			deps.Detector = detector
		}
	}

	player := playback.New(deps, playback.Options{
		ChunkSize: cfg.Speech.ChunkSize,
		Language:  strings.ToLower(cfg.Speech.Language),
	})
	return player, engine, nil
}

func openDB() (*database.DB, error) {
	if err := os.MkdirAll(cfg.GetDataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DBPath())
}
