package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/civicdata/internal/app"
	"github.com/malbeclabs/civicdata/internal/catalog"
)

var (
	ingestOut           string
	ingestEnhanceTitles bool
	ingestReembed       bool
	ingestConcurrency   int
	mirrorBucket        string
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the dataset catalog",
}

var catalogIngestCmd = &cobra.Command{
	Use:   "ingest <catalog.yaml>",
	Short: "Embed dataset metadata and write it to the catalog",
	Long: `Embed each dataset's title and description and upsert it into the postgres catalog.
Without a postgres url, the embedded catalog is written to --out as YAML instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		datasets, err := catalog.LoadFile(args[0])
		if err != nil {
			return err
		}
		if cfg.VoyageAPIKey == "" {
			return errors.New("VOYAGE_API_KEY is required to embed datasets")
		}
		embedder, err := app.NewEmbedder(log, cfg)
		if err != nil {
			return err
		}

		var writer catalog.Writer
		switch {
		case cfg.PostgresURL != "":
			pgCfg := cfg
			pgCfg.CacheTTL = 0
			cat, err := app.OpenCatalog(ctx, log, pgCfg)
			if err != nil {
				return err
			}
			defer cat.Close()
			writer = cat.Writer
		case ingestOut != "":
			mem, err := catalog.NewMemoryStore(nil)
			if err != nil {
				return err
			}
			writer = mem
		default:
			return errors.New("either --postgres-url or --out is required")
		}

		ingesterCfg := catalog.IngesterConfig{
			Logger:      log,
			Embedder:    embedder,
			Writer:      writer,
			Concurrency: ingestConcurrency,
			Reembed:     ingestReembed,
		}
		if ingestEnhanceTitles {
			if cfg.AnthropicAPIKey == "" {
				return errors.New("ANTHROPIC_API_KEY is required to enhance titles")
			}
			model, err := app.NewLLM(log, cfg)
			if err != nil {
				return err
			}
			ingesterCfg.Enhancer = &catalog.LLMTitleEnhancer{Client: model}
		}
		ingester, err := catalog.NewIngester(ingesterCfg)
		if err != nil {
			return err
		}
		defer ingester.Close()

		out, err := ingester.Ingest(ctx, datasets)
		if err != nil {
			return err
		}
		if ingestOut != "" {
			if err := catalog.WriteFile(ingestOut, out); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ingested %d dataset(s)\n", len(out))
		return nil
	},
}

var catalogMirrorCmd = &cobra.Command{
	Use:   "mirror <dataset-id>",
	Short: "Copy a dataset's CSV into the S3 bucket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if mirrorBucket == "" {
			return errors.New("--bucket is required")
		}
		cat, err := app.OpenCatalog(ctx, log, cfg)
		if err != nil {
			return err
		}
		defer cat.Close()

		d, err := cat.Store.Get(ctx, args[0])
		if err != nil {
			return err
		}
		fetcher, err := app.NewFetcher(ctx, log, cfg)
		if err != nil {
			return err
		}
		dest, err := fetcher.Mirror(ctx, d.CSVLocation, mirrorBucket, d.ID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), dest)
		return nil
	},
}

func init() {
	catalogIngestCmd.Flags().StringVar(&ingestOut, "out", "", "write the embedded catalog to this YAML file")
	catalogIngestCmd.Flags().BoolVar(&ingestEnhanceTitles, "enhance-titles", false, "generate clearer titles for datasets that have none")
	catalogIngestCmd.Flags().BoolVar(&ingestReembed, "reembed", false, "recompute embeddings that are already present")
	catalogIngestCmd.Flags().IntVar(&ingestConcurrency, "concurrency", 4, "datasets embedded in parallel")

	catalogMirrorCmd.Flags().StringVar(&mirrorBucket, "bucket", "", "destination S3 bucket")

	catalogCmd.AddCommand(catalogIngestCmd, catalogMirrorCmd)
}
