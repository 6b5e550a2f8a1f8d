package models

// AgentType identifies a domain agent implementation.
type AgentType string

const (
	AgentDocParser          AgentType = "doc_parser"
	AgentAnalyzer           AgentType = "analyzer"
	AgentTestCaseGenerator  AgentType = "test_case_generator"
	AgentScriptGenerator    AgentType = "script_generator"
	AgentPersistence        AgentType = "persistence"
	AgentExecutor           AgentType = "executor"
	AgentLogRecorder        AgentType = "log_recorder"
	AgentYAMLGenerator      AgentType = "yaml_generator"
	AgentPlaywrightExecutor AgentType = "playwright_executor"
	AgentStreamCollector    AgentType = "stream_collector"
)

// DomainAgentTypes lists every agent the factory knows how to build, in
// registration order. The stream collector is infrastructure and is
// registered separately.
var DomainAgentTypes = []AgentType{
	AgentDocParser,
	AgentAnalyzer,
	AgentTestCaseGenerator,
	AgentScriptGenerator,
	AgentPersistence,
	AgentExecutor,
	AgentLogRecorder,
	AgentYAMLGenerator,
	AgentPlaywrightExecutor,
}

// TopicType identifies a message bus topic. Every agent consumes exactly one
// topic; the stream-response topic is consumed by non-agent subscribers
// (WebSocket hub, SSE hub).
type TopicType string

const (
	TopicDocumentParsing    TopicType = "document.parsing"
	TopicAPIAnalysis        TopicType = "api.analysis"
	TopicTestCaseGeneration TopicType = "testcase.generation"
	TopicScriptGeneration   TopicType = "script.generation"
	TopicScriptExecution    TopicType = "script.execution"
	TopicYAMLGeneration     TopicType = "yaml.generation"
	TopicUIExecution        TopicType = "ui.execution"
	TopicPersistence        TopicType = "persistence"
	TopicLogRecording       TopicType = "log.recording"
	TopicStreamCollection   TopicType = "stream.collection"
	TopicStreamResponse     TopicType = "stream.response"
)

// agentTopics maps each agent type to the single topic it consumes.
var agentTopics = map[AgentType]TopicType{
	AgentDocParser:          TopicDocumentParsing,
	AgentAnalyzer:           TopicAPIAnalysis,
	AgentTestCaseGenerator:  TopicTestCaseGeneration,
	AgentScriptGenerator:    TopicScriptGeneration,
	AgentPersistence:        TopicPersistence,
	AgentExecutor:           TopicScriptExecution,
	AgentLogRecorder:        TopicLogRecording,
	AgentYAMLGenerator:      TopicYAMLGeneration,
	AgentPlaywrightExecutor: TopicUIExecution,
	AgentStreamCollector:    TopicStreamCollection,
}

// TopicFor returns the topic an agent type consumes. The bool is false for
// unknown agent types.
func TopicFor(agent AgentType) (TopicType, bool) {
	t, ok := agentTopics[agent]
	return t, ok
}
