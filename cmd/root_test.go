package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{
		"submit", "show", "list", "facts", "classify", "questions",
		"answer", "finalize", "redo", "batch", "serve", "migrate",
	}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "visa-pipeline", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)

	user := rootCmd.PersistentFlags().Lookup("user")
	require.NotNil(t, user)
	format := rootCmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "json", format.DefValue)
}

func TestCommandFlags(t *testing.T) {
	require.NotNil(t, submitCmd.Flags().Lookup("lang"))
	require.NotNil(t, answerCmd.Flags().Lookup("file"))

	limit := batchCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "100", limit.DefValue)

	port := serveCmd.Flags().Lookup("port")
	require.NotNil(t, port)
	assert.Equal(t, "0", port.DefValue)
}

func TestWriteOutput(t *testing.T) {
	v := map[string]any{"id": "s1", "followup_questions": []string{"[O1] Quais prêmios?"}}

	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, v, "json"))
	assert.Contains(t, buf.String(), "\n  \"id\": \"s1\"")

	buf.Reset()
	require.NoError(t, writeOutput(&buf, v, "yaml"))
	assert.Contains(t, buf.String(), "id: s1\n")
	assert.Contains(t, buf.String(), "followup_questions:\n")
	assert.Contains(t, buf.String(), "[O1] Quais prêmios?")

	assert.Error(t, writeOutput(&buf, v, "xml"))
}
