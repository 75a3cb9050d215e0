package pipeline

// Stage is a step of answering one question.
type Stage string

const (
	StageRetrieving         Stage = "retrieving"
	StageRanking            Stage = "ranking"
	StageSchemaLoading      Stage = "schema_loading"
	StageFilteringRelevance Stage = "filtering_relevance"
	StageSampling           Stage = "sampling"
	StageSynthesizing       Stage = "synthesizing"
	StageExecuting          Stage = "executing"

	// Terminal stages.
	StageRejected  Stage = "rejected"
	StageAssembled Stage = "assembled"
	StageFailed    Stage = "failed"
)

func (s Stage) Terminal() bool {
	return s == StageRejected || s == StageAssembled || s == StageFailed
}

// ProgressFunc is called on every stage transition of a run.
type ProgressFunc func(Stage)
