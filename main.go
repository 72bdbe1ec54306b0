package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sukeesh/drcopilot/internal/manager"
	"github.com/sukeesh/drcopilot/pkg/aggregate"
	"github.com/sukeesh/drcopilot/pkg/extract"
	"github.com/sukeesh/drcopilot/pkg/ingest"
	"github.com/sukeesh/drcopilot/pkg/mcp"
	"github.com/sukeesh/drcopilot/pkg/repl"
	"github.com/sukeesh/drcopilot/pkg/server"
	"github.com/sukeesh/drcopilot/pkg/store"
	"github.com/sukeesh/drcopilot/pkg/summarize"
)

const defaultPromptDir = "./prompts"

func main() {
	root := &cobra.Command{
		Use:   "drcopilot",
		Short: "Prescription image archive and doctor assistant",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}

	root.AddCommand(ingestCmd())
	root.AddCommand(consoleCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(mcpCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func geminiModel() string {
	return os.Getenv("GEMINI_MODEL")
}

// openStore opens a single archive for direct (non-serving) use.
func openStore(dataDir string, readOnly bool) (*store.RecordStore, error) {
	cfg := store.DefaultConfig(dataDir)
	cfg.ReadOnly = readOnly
	if !readOnly {
		cfg.SyncWrites = true
	}
	return store.Open(cfg)
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <image_root> <data_dir>",
		Short: "Scan patient image directories and archive new prescriptions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			imageRoot, dataDir := args[0], args[1]
			ctx := cmd.Context()

			s, err := openStore(dataDir, false)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			client, err := extract.NewClient(ctx, os.Getenv("GEMINI_API_KEY"), geminiModel())
			if err != nil {
				return err
			}
			defer client.Close()

			stats, err := ingest.Run(ctx, s, client, imageRoot)
			if err != nil {
				return fmt.Errorf("ingestion failed: %w", err)
			}
			fmt.Printf("Done: %d new, %d skipped, %d failed\n",
				stats.Processed, stats.Skipped, stats.Failed)
			return nil
		},
	}
}

func consoleCmd() *cobra.Command {
	var imageRoot string
	var promptDir string

	cmd := &cobra.Command{
		Use:   "console [data_dir]",
		Short: "Interactive doctor console over an archive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir := "./data"
			if len(args) == 1 {
				dataDir = args[0]
			}
			ctx := cmd.Context()

			// Writable only when reingestion is enabled.
			s, err := openStore(dataDir, imageRoot == "")
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			svc, err := summarize.New(ctx, os.Getenv("GEMINI_API_KEY"), promptDir)
			if err != nil {
				return err
			}
			defer svc.Close()

			var reingest repl.ReingestFunc
			if imageRoot != "" {
				client, err := extract.NewClient(ctx, os.Getenv("GEMINI_API_KEY"), geminiModel())
				if err != nil {
					return err
				}
				defer client.Close()
				reingest = func(ctx context.Context) (*ingest.Stats, error) {
					return ingest.Run(ctx, s, client, imageRoot)
				}
			}

			repl.Run(ctx, s, aggregate.NewReader(s), svc, reingest)
			return nil
		},
	}
	cmd.Flags().StringVar(&imageRoot, "images", "", "image root enabling the reingest command")
	cmd.Flags().StringVar(&promptDir, "prompts", defaultPromptDir, "directory containing .prompt templates")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	var imageRoot string
	var promptDir string
	var lowMem bool

	cmd := &cobra.Command{
		Use:   "serve [base_dir]",
		Short: "Run the REST API server over a directory of site archives",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseDir := "./data"
			if len(args) == 1 {
				baseDir = args[0]
			}
			ctx := cmd.Context()

			mgr := manager.NewArchiveManager(baseDir, imageRoot == "", lowMem)
			defer mgr.CloseAll()

			var svc server.SummaryService
			if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
				sum, err := summarize.New(ctx, apiKey, promptDir)
				if err != nil {
					return err
				}
				defer sum.Close()
				svc = sum
			} else {
				slog.Warn("GEMINI_API_KEY not set, summary endpoints disabled")
			}

			var extractor ingest.Extractor
			if imageRoot != "" {
				client, err := extract.NewClient(ctx, os.Getenv("GEMINI_API_KEY"), geminiModel())
				if err != nil {
					return err
				}
				defer client.Close()
				extractor = client
			}

			if addr == "" {
				port := os.Getenv("PORT")
				if port == "" {
					port = "8080"
				}
				addr = ":" + port
			}

			srv := server.NewServer(mgr, svc, extractor, imageRoot)
			slog.Info("Starting REST API server", "addr", addr, "base_dir", baseDir)
			return srv.Run(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to :$PORT or :8080)")
	cmd.Flags().StringVar(&imageRoot, "images", "", "image root enabling POST /v1/ingest")
	cmd.Flags().StringVar(&promptDir, "prompts", defaultPromptDir, "directory containing .prompt templates")
	cmd.Flags().BoolVar(&lowMem, "low-mem", false, "optimize for low-memory environments")
	return cmd
}

func mcpCmd() *cobra.Command {
	var promptDir string

	cmd := &cobra.Command{
		Use:   "mcp [data_dir]",
		Short: "Expose an archive over the Model Context Protocol on stdio",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir := "./data"
			if len(args) == 1 {
				dataDir = args[0]
			}
			ctx := cmd.Context()

			s, err := openStore(dataDir, true)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			var svc mcp.SummaryService
			if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
				sum, err := summarize.New(ctx, apiKey, promptDir)
				if err != nil {
					return err
				}
				defer sum.Close()
				svc = sum
			}

			return mcp.Run(ctx, s, svc)
		},
	}
	cmd.Flags().StringVar(&promptDir, "prompts", defaultPromptDir, "directory containing .prompt templates")
	return cmd
}
