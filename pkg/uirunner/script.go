// Package uirunner executes YAML-described UI test scripts in a browser:
// strict script decoding, step-by-step execution over Playwright, and a
// per-step result report.
package uirunner

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/testrig-ai/testrig/pkg/models"
)

// ParseScript decodes a YAML UI script strictly: unknown fields are
// rejected, so a hallucinated step attribute fails validation instead of
// silently doing nothing at run time.
func ParseScript(content string) (*models.UIScript, error) {
	var script models.UIScript
	dec := yaml.NewDecoder(bytes.NewReader([]byte(content)))
	dec.KnownFields(true)
	if err := dec.Decode(&script); err != nil {
		return nil, fmt.Errorf("decode UI script: %w", err)
	}
	if err := ValidateScript(&script); err != nil {
		return nil, err
	}
	return &script, nil
}

// ValidateScript checks structural constraints the YAML decode cannot:
// at least one step, exactly one action per step, values where required.
func ValidateScript(script *models.UIScript) error {
	if script.Name == "" {
		return fmt.Errorf("UI script has no name")
	}
	if len(script.Steps) == 0 {
		return fmt.Errorf("UI script %q has no steps", script.Name)
	}
	for i := range script.Steps {
		step := &script.Steps[i]
		actions := 0
		if step.Navigate != "" {
			actions++
		}
		if step.Click != "" {
			actions++
		}
		if step.Fill != "" {
			actions++
		}
		if step.WaitFor != "" {
			actions++
		}
		if step.AssertText != "" {
			actions++
		}
		if step.Screenshot != "" {
			actions++
		}
		if step.SleepMS > 0 {
			actions++
		}
		if actions == 0 {
			return fmt.Errorf("step %d (%s) has no action", i+1, stepName(step, i))
		}
		if actions > 1 {
			return fmt.Errorf("step %d (%s) has %d actions, want exactly one", i+1, stepName(step, i), actions)
		}
		if step.Fill != "" && step.Value == "" {
			return fmt.Errorf("step %d (%s): fill needs a value", i+1, stepName(step, i))
		}
		if step.AssertText != "" && step.Selector == "" {
			return fmt.Errorf("step %d (%s): assert_text needs a selector", i+1, stepName(step, i))
		}
	}
	return nil
}

func stepName(step *models.UIStep, index int) string {
	if step.Name != "" {
		return step.Name
	}
	return fmt.Sprintf("step-%d", index+1)
}
