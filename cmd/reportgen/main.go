package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/islentev/report-generator/internal/api"
	"github.com/islentev/report-generator/internal/config"
	"github.com/islentev/report-generator/internal/crawler"
	"github.com/islentev/report-generator/internal/document"
	"github.com/islentev/report-generator/internal/metadata"
	"github.com/islentev/report-generator/internal/pipeline"
	"github.com/islentev/report-generator/internal/rewrite"
	"github.com/islentev/report-generator/internal/storage"
)

var (
	rootCmd = &cobra.Command{
		Use:   "reportgen",
		Short: "Turn a contract's technical specification into a completed-services report",
	}
	configPath string
	dbPath     string
	noHistory  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Path to the run history and rewrite cache database (SQLite); overrides storage.path")
	rootCmd.PersistentFlags().BoolVar(&noHistory, "no-db", false, "Do not open the database: no cache, no history")

	generateCmd.Flags().StringP("output", "o", "", "Output .docx path (default: <input>_report.docx)")
	generateCmd.Flags().String("metadata", "", "JSON file with contract metadata; overrides extracted values")
	generateCmd.Flags().String("requirements", "", "Text file with the required documentation list; overrides the located section")
	generateCmd.Flags().String("report", "", "Write the JSON run report to this path")
	historyCmd.Flags().IntP("limit", "n", 20, "Number of runs to show")
	batchCmd.Flags().StringSlice("ext", nil, "File extensions to pick up (default .docx,.txt,.md)")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(batchCmd)
}

var generateCmd = &cobra.Command{
	Use:   "generate [file]",
	Short: "Generate the report .docx for a specification document",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env := mustLoad(ctx, true)
		defer env.Close()

		src, err := document.Load(args[0])
		if err != nil {
			log.Fatalf("❌ %s (%v)", pipeline.DisplayMessage(err), err)
		}
		in := pipeline.Input{Name: src.Name, Text: src.Text()}

		if path, _ := cmd.Flags().GetString("metadata"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				log.Fatalf("Failed to read metadata file: %v", err)
			}
			meta, err := metadata.ParseContract(data)
			if err != nil {
				log.Fatalf("Invalid metadata file: %v", err)
			}
			in.Metadata = &meta
		}
		if path, _ := cmd.Flags().GetString("requirements"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				log.Fatalf("Failed to read requirements file: %v", err)
			}
			req := string(data)
			in.Requirements = &req
		}

		fmt.Printf("📄 Source: %s\n", src.Name)
		start := time.Now()
		res, err := env.Pipeline.Run(ctx, in)

		if path, _ := cmd.Flags().GetString("report"); path != "" && res != nil {
			if err := res.Report.Save(path); err != nil {
				fmt.Printf("⚠️ Failed to save run report: %v\n", err)
			} else {
				fmt.Printf("🧾 Run report: %s\n", path)
			}
		}
		if err != nil {
			log.Fatalf("❌ %s (%v)", pipeline.DisplayMessage(err), err)
		}

		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + crawler.ReportSuffix
		}
		data, err := res.Docx()
		if err != nil {
			log.Fatalf("Failed to build .docx: %v", err)
		}
		if err := os.WriteFile(out, data, 0644); err != nil {
			log.Fatalf("Failed to write %s: %v", out, err)
		}

		for _, s := range res.Report.Signals {
			fmt.Printf("⚠️ [%s] %s\n", s.Code, s.Message)
		}
		fmt.Printf("✅ Report written to %s in %v (%d chunks).\n", out, time.Since(start).Round(time.Millisecond), len(res.Chunks))
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch [dir]",
	Short: "Generate a report next to every specification document in a directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env := mustLoad(ctx, false)
		defer env.Close()

		exts, _ := cmd.Flags().GetStringSlice("ext")
		c := crawler.NewCrawler(exts...)

		var done, failed int
		err := c.Scan(args[0], func(path string) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Printf("📄 %s\n", path)
			src, err := document.Load(path)
			if err != nil {
				failed++
				fmt.Printf("  ❌ %s (%v)\n", pipeline.DisplayMessage(err), err)
				return nil
			}
			res, err := env.Pipeline.Run(ctx, pipeline.Input{Name: src.Name, Text: src.Text()})
			if err != nil {
				failed++
				fmt.Printf("  ❌ %s (%v)\n", pipeline.DisplayMessage(err), err)
				return nil
			}
			data, err := res.Docx()
			if err == nil {
				out := strings.TrimSuffix(path, filepath.Ext(path)) + crawler.ReportSuffix
				err = os.WriteFile(out, data, 0644)
			}
			if err != nil {
				failed++
				fmt.Printf("  ❌ Failed to write report: %v\n", err)
				return nil
			}
			done++
			fmt.Printf("  ✅ %d chunks, signals: %s\n", len(res.Chunks), strings.Join(res.Report.SignalCodes(), ","))
			return nil
		})
		if err != nil {
			log.Fatalf("Scan stopped: %v", err)
		}
		fmt.Printf("✨ Batch finished: %d reports, %d failed.\n", done, failed)
		if failed > 0 {
			env.Close()
			os.Exit(1)
		}
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract contract metadata and print it as JSON",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env := mustLoad(ctx, false)
		defer env.Close()

		src, err := document.Load(args[0])
		if err != nil {
			log.Fatalf("❌ %s (%v)", pipeline.DisplayMessage(err), err)
		}
		meta, err := env.Pipeline.ExtractMetadata(ctx, src.Text())
		if err != nil {
			log.Fatalf("❌ %s (%v)", pipeline.DisplayMessage(err), err)
		}
		printJSON(meta)
		if missing := meta.Missing(); len(missing) > 0 {
			fmt.Fprintf(os.Stderr, "🔎 Not found in the document: %v\n", missing)
		}
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview [file]",
	Short: "Show the located section, its chunks and the requirements text without calling the text service",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		p, err := buildPipeline(cfg, offlineClient, nil, nil, zap.NewNop(), nil)
		if err != nil {
			log.Fatalf("Failed to build pipeline: %v", err)
		}

		src, err := document.Load(args[0])
		if err != nil {
			log.Fatalf("❌ %s (%v)", pipeline.DisplayMessage(err), err)
		}
		plan, err := p.Prepare(src.Text())
		if err != nil {
			log.Fatalf("❌ %s (%v)", pipeline.DisplayMessage(err), err)
		}

		if plan.Span.Anchored {
			fmt.Printf("📍 Section [%d, %d) anchored on %q\n", plan.Span.Start, plan.Span.End, plan.Span.StartMarker)
		} else {
			fmt.Printf("📍 Section [%d, %d) from the trailing-fraction fallback (no marker matched)\n", plan.Span.Start, plan.Span.End)
		}
		if plan.Parts.Preamble != "" {
			fmt.Printf("📝 Preamble: %s\n", firstLine(plan.Parts.Preamble))
		}
		fmt.Printf("🧩 %d chunks:\n", len(plan.Parts.Chunks))
		for _, c := range plan.Parts.Chunks {
			fmt.Printf("  %3d. %s\n", c.Ordinal+1, firstLine(c.Text))
		}
		if plan.Requirements != "" {
			fmt.Printf("📋 Requirements (%d chars): %s\n", len([]rune(plan.Requirements)), firstLine(plan.Requirements))
		} else {
			fmt.Println("📋 No requirements section found.")
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the report API over HTTP",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env := mustLoad(ctx, false)
		defer env.Close()

		gin.SetMode(gin.ReleaseMode)
		h := api.NewHandler(api.HandlerOptions{
			Pipeline:   env.Pipeline,
			History:    env.historyOrNil(),
			MaxUpload:  int64(env.Config.Server.MaxUploadMB) << 20,
			RunTimeout: time.Duration(env.Config.Server.RunTimeoutSec) * time.Second,
			Logger:     env.Logger,
		})
		srv := &http.Server{
			Addr:              env.Config.Server.Addr,
			Handler:           api.SetupRouter(h),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		fmt.Printf("🚀 Listening on %s\n", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
		fmt.Println("👋 Server stopped.")
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		store, err := storage.NewSQLiteStore(resolveDBPath(cfg))
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := store.ListRuns(context.Background(), limit)
		if err != nil {
			log.Fatalf("Failed to list runs: %v", err)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return
		}
		for _, r := range runs {
			mark := "✅"
			if r.Status != "succeeded" {
				mark = "❌"
			}
			fmt.Printf("%s %s  %s  %-24s chunks=%d repaired=%d %s\n",
				mark, r.StartedAt.Local().Format("2006-01-02 15:04"), r.ID, r.Source, r.Chunks, r.Repaired, strings.Join(r.Signals, ","))
			if r.Error != "" {
				fmt.Printf("    %s: %s\n", r.ErrorKind, r.Error)
			}
		}
	},
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	if r := []rune(line); len(r) > 100 {
		return string(r[:100]) + "…"
	}
	return line
}

// progressPrinter reports finished chunks the way a progress bar would.
func progressPrinter() rewrite.ProgressFunc {
	return func(done, total int, o rewrite.Outcome) {
		switch {
		case o.Err != nil:
			fmt.Printf("  ❌ %d/%d failed: %v\n", done, total, o.Err)
		case o.Result.Cached:
			fmt.Printf("  ♻️ %d/%d chunk %d (cached)\n", done, total, o.Result.Ordinal+1)
		default:
			fmt.Printf("  ⌛ %d/%d chunk %d %s\n", done, total, o.Result.Ordinal+1, o.Result.Status)
		}
	}
}
