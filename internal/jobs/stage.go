package jobs

// Stage is a step of the turn state machine:
//
//	queued → analyzing → analyzed → (llm-pending | llm-skipped) → db-pending → complete
//
// Any stage before analyzed may move to error.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageAnalyzing  Stage = "analyzing"
	StageAnalyzed   Stage = "analyzed"
	StageLLMPending Stage = "llm-pending"
	StageLLMSkipped Stage = "llm-skipped"
	StageDBPending  Stage = "db-pending"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
)

var transitions = map[Stage][]Stage{
	StageQueued:     {StageAnalyzing, StageError},
	StageAnalyzing:  {StageAnalyzed, StageError},
	StageAnalyzed:   {StageLLMPending, StageLLMSkipped},
	StageLLMPending: {StageDBPending},
	StageLLMSkipped: {StageDBPending},
	StageDBPending:  {StageComplete},
}

// CanAdvance reports whether s may move to next.
func (s Stage) CanAdvance(next Stage) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends the job.
func (s Stage) Terminal() bool { return s == StageComplete || s == StageError }
