package uirunner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScript_Valid(t *testing.T) {
	script, err := ParseScript(`
name: login-flow
base_url: https://app.example.com
steps:
  - name: open login
    navigate: /login
  - fill: "#username"
    value: admin
  - click: "button[type=submit]"
  - wait_for: ".dashboard"
  - assert_text: "Welcome"
    selector: ".dashboard h1"
  - screenshot: dashboard.png
`)
	require.NoError(t, err)
	assert.Equal(t, "login-flow", script.Name)
	assert.Equal(t, "https://app.example.com", script.BaseURL)
	require.Len(t, script.Steps, 6)
	assert.Equal(t, "/login", script.Steps[0].Navigate)
	assert.Equal(t, "admin", script.Steps[1].Value)
}

func TestParseScript_UnknownFieldRejected(t *testing.T) {
	_, err := ParseScript(`
name: bad
steps:
  - navigate: /
    hover: ".menu"
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hover")
}

func TestParseScript_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no name",
			yaml:    "steps:\n  - navigate: /\n",
			wantErr: "no name",
		},
		{
			name:    "no steps",
			yaml:    "name: empty\n",
			wantErr: "no steps",
		},
		{
			name:    "step without action",
			yaml:    "name: s\nsteps:\n  - name: idle\n",
			wantErr: "no action",
		},
		{
			name:    "two actions in one step",
			yaml:    "name: s\nsteps:\n  - navigate: /\n    click: \"#a\"\n",
			wantErr: "exactly one",
		},
		{
			name:    "fill without value",
			yaml:    "name: s\nsteps:\n  - fill: \"#user\"\n",
			wantErr: "needs a value",
		},
		{
			name:    "assert without selector",
			yaml:    "name: s\nsteps:\n  - assert_text: hello\n",
			wantErr: "needs a selector",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScript(tt.yaml)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScript_NotYAML(t *testing.T) {
	_, err := ParseScript("{not: [valid")
	require.Error(t, err)
}
