package models

const (
	ThinkTag         = `(?s)<think>.*?</think>`
	ContextSeparator = "\n\n---\n\n"
	TruncationMarker = "\n\n[Content truncated for processing...]"
	SourcePrefix     = "[From: %s, Page %d] "

	DefaultSelectionContext = "generate educational questions"

	MaxQuestionsPerRequest = 20
	DefaultMaxChunks       = 10
)
