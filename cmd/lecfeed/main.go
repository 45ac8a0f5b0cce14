package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/skawano/lecfeed/internal/classify"
	"github.com/skawano/lecfeed/internal/config"
	"github.com/skawano/lecfeed/internal/database"
	"github.com/skawano/lecfeed/internal/ingest"
	"github.com/skawano/lecfeed/internal/jobs"
	"github.com/skawano/lecfeed/internal/llm"
	"github.com/skawano/lecfeed/internal/pipeline"
	"github.com/skawano/lecfeed/internal/server"
	"github.com/skawano/lecfeed/internal/storage"
	"github.com/skawano/lecfeed/internal/summary"
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
	Use:     "lecfeed",
	Short:   "Lecture survey feedback analysis",
	Long:    "lecfeed ingests lecture survey CSV exports, classifies free-text comments with an LLM, and serves aggregated feedback summaries.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Local development convenience; a missing .env is fine.
		_ = godotenv.Load()

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
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
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(recomputeCmd)
	rootCmd.AddCommand(batchesCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("lecfeed", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/lecfeed/",
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
		fmt.Println("Edit it to configure storage, NG words, and the LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
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
		fmt.Println("Batches:")
		fmt.Printf("  Total: %d\n", stats.TotalBatches)
		fmt.Printf("  Completed: %d\n", stats.CompletedBatches)
		fmt.Printf("  Failed: %d\n", stats.FailedBatches)
		fmt.Println("\nData:")
		fmt.Printf("  Courses: %d\n", stats.Courses)
		fmt.Printf("  Survey responses: %d\n", stats.TotalResponses)
		fmt.Printf("  Comments: %d\n", stats.TotalComments)
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload API and dashboard with background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		store, runner, parser, err := buildComponents(db)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		runner.Start(ctx)
		defer runner.Stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, store, runner, parser, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// --- process command ---

var (
	processCourse    string
	processDate      string
	processLecture   int
	processBatchType string
)

var processCmd = &cobra.Command{
	Use:   "process <file.csv>",
	Short: "Upload and analyze a survey file without the HTTP server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if processCourse == "" || processDate == "" || processLecture < 1 {
			return fmt.Errorf("--course, --date and --lecture are required")
		}
		if _, err := time.Parse("2006-01-02", processDate); err != nil {
			return fmt.Errorf("--date must be YYYY-MM-DD")
		}
		if processBatchType != database.BatchTypePreliminary && processBatchType != database.BatchTypeConfirmed {
			return fmt.Errorf("--batch-type must be preliminary or confirmed")
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		store, runner, parser, err := buildComponents(db)
		if err != nil {
			return err
		}

		if err := parser.Validate(data); err != nil {
			return err
		}

		ctx := context.Background()
		path := storage.BuildPath(processCourse, processDate, processLecture, filepath.Base(args[0]))
		uri, err := store.Save(ctx, path, data, "text/csv")
		if err != nil {
			return fmt.Errorf("storing file: %w", err)
		}

		filename := filepath.Base(args[0])
		batchID, err := db.InsertBatch(&database.Batch{
			CourseName:       processCourse,
			LectureDate:      processDate,
			LectureNumber:    processLecture,
			BatchType:        processBatchType,
			StorageURI:       &uri,
			OriginalFilename: &filename,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Processing batch %d...\n", batchID)
		if err := runner.ProcessBatch(ctx, batchID); err != nil {
			return err
		}

		batch, err := db.GetBatch(batchID)
		if err != nil {
			return err
		}
		fmt.Println("\nDone:")
		fmt.Printf("  Responses: %d\n", batch.TotalResponses)
		fmt.Printf("  Comments: %d/%d processed\n", batch.ProcessedComments, batch.TotalComments)
		fmt.Printf("\nRun 'lecfeed serve' and open /dashboard/%d to view the report.\n", batchID)
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processCourse, "course", "", "Course name")
	processCmd.Flags().StringVar(&processDate, "date", "", "Lecture date (YYYY-MM-DD)")
	processCmd.Flags().IntVar(&processLecture, "lecture", 0, "Lecture number")
	processCmd.Flags().StringVar(&processBatchType, "batch-type", database.BatchTypePreliminary, "Batch type: preliminary or confirmed")
}

// --- recompute command ---

var recomputeCmd = &cobra.Command{
	Use:   "recompute <batch-id>",
	Short: "Recompute the aggregates for a processed batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batchID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid batch id %q", args[0])
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		batch, err := db.GetBatch(batchID)
		if err != nil {
			return err
		}
		if batch == nil {
			return fmt.Errorf("batch %d not found", batchID)
		}

		result, err := summary.New(db, cfg.Analysis.NPSScale).Recompute(context.Background(), batchID)
		if err != nil {
			return err
		}

		fmt.Printf("Recomputed batch %d (%s #%d):\n", batchID, batch.CourseName, batch.LectureNumber)
		fmt.Printf("  Responses: %d\n", result.ResponseCount)
		fmt.Printf("  NPS: %.1f (%d promoters / %d passives / %d detractors)\n",
			result.NPSScore, result.NPSPromoters, result.NPSPassives, result.NPSDetractors)
		fmt.Printf("  Comments: %d (%d important)\n", result.CommentsCount, result.ImportantCommentsCount)
		return nil
	},
}

// --- batches command ---

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "Inspect uploaded batches",
}

var batchesListCmd = &cobra.Command{
	Use:   "list <course>",
	Short: "List batches for a course; the effective batch per lecture is marked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		batches, err := db.ListBatchesForCourse(args[0])
		if err != nil {
			return err
		}
		if len(batches) == 0 {
			fmt.Printf("No batches for course %q.\n", args[0])
			return nil
		}

		effective, err := db.EffectiveBatches(args[0])
		if err != nil {
			return err
		}
		isEffective := make(map[int64]bool, len(effective))
		for _, eb := range effective {
			isEffective[eb.ID] = true
		}

		fmt.Printf("%-4s %-8s %-12s %-12s %-11s %-10s %s\n",
			"", "ID", "Lecture", "Date", "Type", "Status", "Responses")
		for _, b := range batches {
			marker := ""
			if isEffective[b.ID] {
				marker = "*"
			}
			fmt.Printf("%-4s %-8d #%-11d %-12s %-11s %-10s %d\n",
				marker, b.ID, b.LectureNumber, b.LectureDate, b.BatchType, b.Status, b.TotalResponses)
		}
		fmt.Println("\n* effective batch for its lecture number")
		return nil
	},
}

func init() {
	batchesCmd.AddCommand(batchesListCmd)
}

// --- shared helpers ---

func openDB() (*database.DB, error) {
	return database.Open(cfg.DatabasePath())
}

// buildComponents wires the storage backend, LLM client and worker runner
// from the loaded config.
func buildComponents(db *database.DB) (storage.Store, *jobs.Runner, *ingest.Parser, error) {
	store, err := storage.New(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("configuring storage: %w", err)
	}

	client, err := llm.NewClient(llm.Config{
		Provider:     cfg.LLM.Provider,
		BaseURL:      cfg.LLM.BaseURL,
		Model:        cfg.LLM.Model,
		APIKey:       os.Getenv(cfg.LLM.APIKeyEnv),
		Timeout:      time.Duration(cfg.LLM.TimeoutSeconds * float64(time.Second)),
		ExtraHeaders: cfg.LLM.ExtraHeaders,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("configuring llm client: %w", err)
	}

	parser := ingest.NewParser(cfg.Analysis.OptionalPrefix, cfg.Analysis.RequiredPrefix)
	classifier := classify.New(client, cfg.Analysis.NGWords)
	processor := pipeline.New(db, classifier, parser)
	aggregator := summary.New(db, cfg.Analysis.NPSScale)

	runner := jobs.NewRunner(db, store, processor, aggregator, jobs.Config{
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: time.Duration(cfg.Jobs.RetryDelaySeconds * float64(time.Second)),
	})
	return store, runner, parser, nil
}
