package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/testrig-ai/testrig/pkg/models"
)

const maxBlockTextLength = 2900

var statusEmoji = map[models.SessionStatus]string{
	models.SessionStatusCompleted: ":white_check_mark:",
	models.SessionStatusFailed:    ":x:",
	models.SessionStatusCancelled: ":no_entry_sign:",
}

var statusLabel = map[models.SessionStatus]string{
	models.SessionStatusCompleted: "Test Run Complete",
	models.SessionStatusFailed:    "Test Run Failed",
	models.SessionStatusCancelled: "Test Run Cancelled",
}

var kindLabel = map[models.PipelineKind]string{
	models.PipelineAPI: "API test pipeline",
	models.PipelineUI:  "UI test pipeline",
}

func sessionURL(sessionID, dashboardURL string) string {
	return fmt.Sprintf("%s/sessions/%s", dashboardURL, sessionID)
}

// BuildRunStartedMessage creates Block Kit blocks announcing a new run.
func BuildRunStartedMessage(sess models.PipelineSession, dashboardURL string) []goslack.Block {
	kind := kindLabel[sess.Kind]
	if kind == "" {
		kind = "test pipeline"
	}
	text := fmt.Sprintf(":arrows_counterclockwise: *Run started*: %s `%s`", kind, sess.SessionID)
	if dashboardURL != "" {
		text += fmt.Sprintf("\n<%s|View in Dashboard>", sessionURL(sess.SessionID, dashboardURL))
	}

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

// BuildRunFinishedMessage creates Block Kit blocks for a terminal run. The
// report is optional: runs that fail before execution have none.
func BuildRunFinishedMessage(sess models.PipelineSession, report *models.TestReport, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[sess.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[sess.Status]
	if label == "" {
		label = "Test Run " + string(sess.Status)
	}

	headerText := fmt.Sprintf("%s *%s*", emoji, label)
	if sess.Error != "" {
		headerText += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(sess.Error))
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
	}

	if report != nil {
		fields := []*goslack.TextBlockObject{
			goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Total:*\n%d", report.Total), false, false),
			goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Passed:*\n%d", report.Passed), false, false),
			goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Failed:*\n%d", report.Failed+report.Errors), false, false),
			goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Success rate:*\n%.1f%%", report.SuccessRate), false, false),
		}
		blocks = append(blocks, goslack.NewSectionBlock(nil, fields, nil))
	}

	if dashboardURL != "" {
		buttonText := "View Full Report"
		if sess.Status != models.SessionStatusCompleted {
			buttonText = "View Details"
		}
		btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, buttonText, false, false))
		btn.URL = sessionURL(sess.SessionID, dashboardURL)
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}

	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated; view the full run in the dashboard)_"
}
