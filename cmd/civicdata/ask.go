package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/civicdata/internal/app"
	"github.com/malbeclabs/civicdata/internal/duck"
	"github.com/malbeclabs/civicdata/internal/pipeline"
)

var (
	askDataset  string
	askJSON     bool
	askProgress bool
	searchLimit int
	searchJSON  bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the best matching dataset",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := app.New(ctx, log, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var opts []pipeline.Option
		if askProgress {
			opts = append(opts, pipeline.WithProgress(func(s pipeline.Stage) {
				fmt.Fprintf(cmd.ErrOrStderr(), "... %s\n", s)
			}))
		}

		question := strings.Join(args, " ")
		var answer *pipeline.Answer
		if askDataset != "" {
			answer, err = a.Pipeline.AnswerWithDataset(ctx, question, askDataset, opts...)
		} else {
			answer, err = a.Pipeline.Answer(ctx, question, opts...)
		}

		var ue *pipeline.UnanswerableError
		if errors.As(err, &ue) {
			fmt.Fprintf(cmd.OutOrStdout(), "Cannot answer: %s\n", ue.Reasoning)
			return nil
		}
		if err != nil {
			return err
		}
		if askJSON {
			return writeJSON(cmd.OutOrStdout(), answer)
		}
		renderAnswer(cmd.OutOrStdout(), answer)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "List the datasets that best match a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := app.New(ctx, log, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ranking, err := a.Pipeline.Search(ctx, strings.Join(args, " "), pipeline.RetrieveOptions{
			Limit:     searchLimit,
			Threshold: cfg.SimilarityThreshold(),
		})
		if err != nil {
			return err
		}
		if searchJSON {
			return writeJSON(cmd.OutOrStdout(), ranking)
		}
		renderRanking(cmd.OutOrStdout(), ranking)
		return nil
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe <dataset-id>",
	Short: "Load a dataset's CSV and print its column types",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
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
		engine, err := duck.New(duck.Config{
			Logger:      log,
			Fetcher:     fetcher,
			MemoryLimit: cfg.DuckMemoryLimit,
			Threads:     cfg.DuckThreads,
			MaxRows:     cfg.MaxRows,
		})
		if err != nil {
			return err
		}
		table, err := engine.LoadCSV(ctx, d.CSVLocation, duck.LoadOptions{
			IgnoreErrors: cfg.IgnoreErrors,
			SampleSize:   cfg.SampleSize,
		})
		if err != nil {
			return err
		}
		defer table.Close()

		schema, err := table.Describe(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n%s\n\n", d.DisplayTitle(), d.ID, d.CSVLocation)
		renderSchema(cmd.OutOrStdout(), schema)
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askDataset, "dataset", "", "answer from this dataset id instead of the best match")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the answer as JSON")
	askCmd.Flags().BoolVar(&askProgress, "progress", false, "print pipeline stages to stderr")

	searchCmd.Flags().IntVar(&searchLimit, "limit", pipeline.DefaultRetrieveLimit, "maximum datasets to list")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print the ranking as JSON")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
