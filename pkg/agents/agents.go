// Package agents holds the domain agents of both pipelines: document
// parsing, analysis, test case and script generation, execution, log
// recording and persistence for the API pipeline; YAML generation and
// Playwright execution for the UI pipeline. Each agent consumes exactly one
// topic and embeds the BaseAgent substrate.
package agents

import (
	"context"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/models"
)

// Constructors returns the full domain agent registry the factory builds
// from.
func Constructors() map[models.AgentType]agent.Constructor {
	return map[models.AgentType]agent.Constructor{
		models.AgentDocParser:          func(d *agent.Deps) (agent.Agent, error) { return NewDocParser(d), nil },
		models.AgentAnalyzer:           func(d *agent.Deps) (agent.Agent, error) { return NewAnalyzer(d), nil },
		models.AgentTestCaseGenerator:  func(d *agent.Deps) (agent.Agent, error) { return NewTestCaseGenerator(d), nil },
		models.AgentScriptGenerator:    func(d *agent.Deps) (agent.Agent, error) { return NewScriptGenerator(d), nil },
		models.AgentPersistence:        func(d *agent.Deps) (agent.Agent, error) { return NewPersistence(d), nil },
		models.AgentExecutor:           func(d *agent.Deps) (agent.Agent, error) { return NewExecutor(d), nil },
		models.AgentLogRecorder:        func(d *agent.Deps) (agent.Agent, error) { return NewLogRecorder(d), nil },
		models.AgentYAMLGenerator:      func(d *agent.Deps) (agent.Agent, error) { return NewYAMLGenerator(d), nil },
		models.AgentPlaywrightExecutor: func(d *agent.Deps) (agent.Agent, error) { return NewPlaywrightExecutor(d), nil },
	}
}

// forward publishes a payload onto another agent's topic, stamping the
// sending agent into the context.
func forward(ctx context.Context, deps *agent.Deps, topic models.TopicType, mc models.MessageContext, sender models.AgentType, payload models.Payload) error {
	return deps.Bus.Publish(ctx, models.NewMessage(topic, mc.WithSender(sender), payload))
}
