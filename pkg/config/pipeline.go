package config

import "time"

// PipelineConfig tunes the message bus and the shared call budgets.
type PipelineConfig struct {
	// MailboxSize bounds each subscriber's mailbox. Publishers block when a
	// mailbox is full; that is the backpressure path.
	MailboxSize int `yaml:"mailbox_size"`

	// FlushInterval is the stream collector's buffer flush cadence.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// LLMTimeout bounds a single model call.
	LLMTimeout time.Duration `yaml:"llm_timeout"`

	// RAGTimeout bounds a single snippet retrieval call.
	RAGTimeout time.Duration `yaml:"rag_timeout"`

	// StopTimeout bounds how long one agent may take to stop.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		MailboxSize:   256,
		FlushInterval: 300 * time.Millisecond,
		LLMTimeout:    60 * time.Second,
		RAGTimeout:    10 * time.Second,
		StopTimeout:   10 * time.Second,
	}
}
