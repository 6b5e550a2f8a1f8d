package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnvSubstitutesVariables(t *testing.T) {
	t.Setenv("TEST_EXPAND_HOST", "db.internal")
	t.Setenv("TEST_EXPAND_PORT", "5433")

	out := ExpandEnv([]byte("host: {{.TEST_EXPAND_HOST}}:{{.TEST_EXPAND_PORT}}"))
	assert.Equal(t, "host: db.internal:5433", string(out))
}

func TestExpandEnvMissingVariableIsEmpty(t *testing.T) {
	out := ExpandEnv([]byte("token: '{{.DEFINITELY_NOT_SET_ANYWHERE}}'"))
	assert.Equal(t, "token: ''", string(out))
}

func TestExpandEnvLeavesDollarSignsAlone(t *testing.T) {
	in := []byte(`pattern: "^secret.*$"` + "\n" + `password: "p@ss$word"`)
	assert.Equal(t, string(in), string(ExpandEnv(in)))
}

func TestExpandEnvMalformedTemplatePassesThrough(t *testing.T) {
	in := []byte("broken: {{.UNCLOSED")
	assert.Equal(t, string(in), string(ExpandEnv(in)))
}
