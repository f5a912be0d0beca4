package pipeline

// Stage name constants, in pipeline order. Stages reference these rather
// than string literals so renames don't silently desync logs from the
// Pipeline.Run error-recovery lookup.
const (
	StageNameInputSanitization = "input_sanitization"
	StageNameAutoCompaction    = "auto_compaction"
	StageNameContextBuilding   = "context_building"
	StageNameDynamicTier       = "dynamic_tier"
	StageNameToolLoop          = "tool_loop"
	StageNameMemoryPersist     = "memory_persist"
	StageNameSkillPipeline     = "skill_pipeline"
	StageNameRAGIndexing       = "rag_indexing"
	StageNameResponsePrep      = "response_preparation"
	StageNameFeedbackGuarantee = "feedback_guarantee"
	StageNameRouting           = "routing"
)

// MetaKeyActiveSkill is the session metadata key holding the skill name
// the skill pipeline stage selected as active for the conversation's next
// turn. Context building reads it at the start of each turn.
const MetaKeyActiveSkill = "active_skill"
