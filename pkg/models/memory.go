package models

import "time"

// Fact is one FactSheet (hot memory) entry. Facts are deduped by near-
// duplicate merge within a category, token-capped, and per-category capped.
type Fact struct {
	ID         string    `json:"id"`
	Category   string    `json:"category"`
	Fact       string    `json:"fact"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	Iteration  int       `json:"iteration"`
	CreatedAt  time.Time `json:"created_at"`
}

// MaxFactChars bounds a single fact's text, per the data model.
const MaxFactChars = 280

// ArchiveEntry is one Archive (cold memory) entry: the full, untruncated
// tool output, indexed by FilePath and ToolName.
type ArchiveEntry struct {
	ID         string    `json:"id"`
	Iteration  int       `json:"iteration"`
	ToolName   string    `json:"tool_name"`
	ToolInput  string    `json:"tool_input"`
	FullOutput string    `json:"full_output"`
	OutputLen  int       `json:"output_length"`
	EstTokens  int       `json:"est_tokens"`
	Timestamp  time.Time `json:"timestamp"`
	FilePath   string    `json:"file_path,omitempty"`
	KeyFacts   []string  `json:"key_facts,omitempty"`
}
