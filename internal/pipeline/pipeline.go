// Package pipeline answers natural-language questions about catalog datasets by generating and
// running SQL over a session table loaded from the dataset's CSV.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/civicdata/internal/catalog"
	"github.com/malbeclabs/civicdata/internal/duck"
	"github.com/malbeclabs/civicdata/internal/embed"
	"github.com/malbeclabs/civicdata/internal/llm"
	"github.com/malbeclabs/civicdata/internal/metrics"
)

const (
	DefaultRetrieveLimit      = 15
	DefaultDistinctThreshold  = 50
	DefaultMaxExamples        = 5
	defaultSamplerConcurrency = 8
)

// Table is a loaded session table.
type Table interface {
	Location() string
	Describe(ctx context.Context) (duck.Schema, error)
	Run(ctx context.Context, query string) (*duck.Result, error)
	CountDistinct(ctx context.Context, column string) (int64, error)
	DistinctValues(ctx context.Context, column string) ([]string, error)
	SampleDistinct(ctx context.Context, column string, n int) ([]string, error)
	Close() error
}

// Loader creates a session table from a CSV location.
type Loader interface {
	Load(ctx context.Context, location string) (Table, error)
}

type LoaderFunc func(ctx context.Context, location string) (Table, error)

func (f LoaderFunc) Load(ctx context.Context, location string) (Table, error) {
	return f(ctx, location)
}

// DuckLoader loads session tables with engine.
func DuckLoader(engine *duck.Engine, opts duck.LoadOptions) Loader {
	return LoaderFunc(func(ctx context.Context, location string) (Table, error) {
		t, err := engine.LoadCSV(ctx, location, opts)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
}

type Config struct {
	Logger   *slog.Logger
	Store    catalog.Store
	Embedder embed.Embedder
	LLM      llm.Client
	Loader   Loader

	// Prompts defaults to the embedded prompt set.
	Prompts *Prompts
	// Clock supplies the current date given to the SQL synthesizer.
	Clock clockwork.Clock

	RetrieveLimit int
	// Threshold is the minimum similarity for retrieval; nil means no floor.
	Threshold *float64

	DistinctThreshold  int
	MaxExamples        int
	SamplerConcurrency int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Embedder == nil {
		return errors.New("embedder is required")
	}
	if cfg.LLM == nil {
		return errors.New("llm client is required")
	}
	if cfg.Loader == nil {
		return errors.New("loader is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RetrieveLimit <= 0 {
		cfg.RetrieveLimit = DefaultRetrieveLimit
	}
	if cfg.DistinctThreshold <= 0 {
		cfg.DistinctThreshold = DefaultDistinctThreshold
	}
	if cfg.MaxExamples <= 0 {
		cfg.MaxExamples = DefaultMaxExamples
	}
	if cfg.MaxExamples > cfg.DistinctThreshold {
		return fmt.Errorf("max examples (%d) must not exceed distinct threshold (%d)", cfg.MaxExamples, cfg.DistinctThreshold)
	}
	if cfg.SamplerConcurrency <= 0 {
		cfg.SamplerConcurrency = defaultSamplerConcurrency
	}
	return nil
}

// Pipeline is shared by all questions; each call to Answer is an independent run.
type Pipeline struct {
	log     *slog.Logger
	cfg     Config
	prompts *Prompts

	samplePool pond.ResultPool[ColumnExamples]
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate pipeline config: %w", err)
	}
	prompts := cfg.Prompts
	if prompts == nil {
		var err error
		if prompts, err = LoadPrompts(); err != nil {
			return nil, err
		}
	}
	return &Pipeline{
		log:        cfg.Logger,
		cfg:        cfg,
		prompts:    prompts,
		samplePool: pond.NewResultPool[ColumnExamples](cfg.SamplerConcurrency),
	}, nil
}

// Close stops the sampler workers after in-flight work completes.
func (p *Pipeline) Close() {
	p.samplePool.StopAndWait()
}

type runOptions struct {
	progress ProgressFunc
}

type Option func(*runOptions)

// WithProgress reports each stage transition of the run to fn.
func WithProgress(fn ProgressFunc) Option {
	return func(o *runOptions) { o.progress = fn }
}

// Answer retrieves and ranks datasets for question, auto-selects the top match and answers from it.
// A refusal is returned as *UnanswerableError.
func (p *Pipeline) Answer(ctx context.Context, question string, opts ...Option) (*Answer, error) {
	r, err := p.newRun(question, opts)
	if err != nil {
		return nil, err
	}

	r.enter(StageRetrieving)
	candidates, err := p.retrieve(ctx, r.question, RetrieveOptions{})
	if err != nil {
		return nil, r.finish(err)
	}
	if len(candidates) == 0 {
		return nil, r.finish(&UnanswerableError{
			Stage:     StageRetrieving,
			Reasoning: "No dataset in the catalog matches this question.",
		})
	}

	r.enter(StageRanking)
	ranking := p.rank(ctx, r.question, candidates)
	r.log.Info("pipeline: selected dataset", "dataset", ranking.Datasets[0].ID, "candidates", len(candidates), "fallback", ranking.FellBack)

	answer, err := p.answerFrom(ctx, r, ranking.Datasets[0])
	if err != nil {
		return nil, r.finish(err)
	}
	answer.RankingReasoning = ranking.Reasoning
	answer.Alternatives = append([]catalog.Summary(nil), ranking.Datasets[1:]...)
	return answer, r.finish(nil)
}

// AnswerWithDataset answers question from a caller-selected dataset, skipping retrieval and ranking.
func (p *Pipeline) AnswerWithDataset(ctx context.Context, question, datasetID string, opts ...Option) (*Answer, error) {
	r, err := p.newRun(question, opts)
	if err != nil {
		return nil, err
	}

	r.enter(StageRetrieving)
	dataset, err := p.cfg.Store.Get(ctx, datasetID)
	if err != nil {
		return nil, r.finish(&RetrievalError{Stage: StageRetrieving, Err: err})
	}

	answer, err := p.answerFrom(ctx, r, dataset)
	if err != nil {
		return nil, r.finish(err)
	}
	return answer, r.finish(nil)
}

// Search retrieves and ranks candidate datasets for query without answering it.
func (p *Pipeline) Search(ctx context.Context, query string, opts RetrieveOptions) (*Ranking, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is required")
	}
	candidates, err := p.retrieve(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &Ranking{Datasets: []catalog.Summary{}}, nil
	}
	ranking := p.rank(ctx, query, candidates)
	return &ranking, nil
}

// answerFrom runs the per-dataset stages. The session table is closed on every path.
func (p *Pipeline) answerFrom(ctx context.Context, r *run, dataset catalog.Summary) (*Answer, error) {
	r.log = r.log.With("dataset", dataset.ID)

	r.enter(StageSchemaLoading)
	table, schema, err := p.inspect(ctx, dataset)
	if err != nil {
		return nil, err
	}
	metrics.SessionTablesOpen.Inc()
	defer func() {
		metrics.SessionTablesOpen.Dec()
		if err := table.Close(); err != nil {
			r.log.Warn("pipeline: failed to close session table", "error", err)
		}
	}()

	r.enter(StageFilteringRelevance)
	decision, err := p.filterRelevance(ctx, r.question, schema)
	if err != nil {
		return nil, err
	}
	if !decision.CanAnswer {
		return nil, &UnanswerableError{
			Stage:     StageFilteringRelevance,
			DatasetID: dataset.ID,
			Reasoning: decision.Reasoning,
		}
	}

	r.enter(StageSampling)
	examples, err := p.sample(ctx, table, schema, decision.Columns)
	if err != nil {
		return nil, err
	}

	r.enter(StageSynthesizing)
	sql, err := p.synthesize(ctx, synthesisInput{
		Question: r.question,
		Schema:   schema,
		Decision: decision,
		Examples: examples,
		Today:    p.cfg.Clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	r.log.Debug("pipeline: synthesized sql", "sql", sql)

	r.enter(StageExecuting)
	result, err := p.execute(ctx, table, sql)
	if err != nil {
		return nil, err
	}

	return assemble(r.id, r.question, sql, dataset, decision, result), nil
}

type run struct {
	id         string
	question   string
	log        *slog.Logger
	clock      clockwork.Clock
	progress   ProgressFunc
	stage      Stage
	stageStart time.Time
	start      time.Time
}

func (p *Pipeline) newRun(question string, opts []Option) (*run, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("question is required")
	}
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	id := uuid.NewString()
	now := p.cfg.Clock.Now()
	return &run{
		id:       id,
		question: question,
		log:      p.log.With("run", id),
		clock:    p.cfg.Clock,
		progress: o.progress,
		start:    now,
	}, nil
}

func (r *run) enter(s Stage) {
	now := r.clock.Now()
	if r.stage != "" && !r.stage.Terminal() {
		metrics.StageDuration.WithLabelValues(string(r.stage)).Observe(now.Sub(r.stageStart).Seconds())
	}
	r.stage = s
	r.stageStart = now
	r.log.Debug("pipeline: stage", "stage", s)
	if r.progress != nil {
		r.progress(s)
	}
}

// finish moves the run to its terminal stage and passes err through.
func (r *run) finish(err error) error {
	var ue *UnanswerableError
	switch {
	case err == nil:
		r.enter(StageAssembled)
		metrics.QuestionsTotal.WithLabelValues("answered").Inc()
		r.log.Info("pipeline: answered", "duration", r.clock.Since(r.start))
	case errors.As(err, &ue):
		r.enter(StageRejected)
		metrics.QuestionsTotal.WithLabelValues("rejected").Inc()
		r.log.Info("pipeline: rejected", "reasoning", ue.Reasoning, "duration", r.clock.Since(r.start))
	default:
		failedAt := r.stage
		r.enter(StageFailed)
		metrics.QuestionsTotal.WithLabelValues("failed").Inc()
		r.log.Warn("pipeline: failed", "stage", failedAt, "kind", ErrorKind(err), "error", err)
	}
	return err
}
