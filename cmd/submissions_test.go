package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visa-pipeline/internal/model"
)

func TestReadNarrative(t *testing.T) {
	got, err := readNarrative([]string{"Quero", "estudar", "em", "Boston"}, strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "Quero estudar em Boston", got)

	got, err = readNarrative(nil, strings.NewReader("Tenho uma oferta de trabalho.\n"))
	require.NoError(t, err)
	assert.Equal(t, "Tenho uma oferta de trabalho.\n", got)

	got, err = readNarrative([]string{"-"}, strings.NewReader("from stdin"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", got)
}

func TestReadAnswers(t *testing.T) {
	got, err := readAnswers([]string{"sim", "não"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"sim", "não"}, got)

	path := writeFile(t, "answers.yaml", "- Sim, tenho mestrado.\n- Cinco anos.\n")
	got, err = readAnswers(nil, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sim, tenho mestrado.", "Cinco anos."}, got)

	path = writeFile(t, "answers.json", `["yes", "no"]`)
	got, err = readAnswers(nil, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"yes", "no"}, got)

	_, err = readAnswers([]string{"sim"}, path)
	assert.Error(t, err)
}

func TestSubmitShowList_AgainstSQLite(t *testing.T) {
	cfg = loadTestConfig(t)
	callerID = "u1"
	t.Cleanup(func() { callerID = "" })

	var out bytes.Buffer
	for _, c := range []*cobra.Command{submitCmd, showCmd, listCmd} {
		c.SetContext(t.Context())
	}
	submitCmd.SetOut(&out)
	submitCmd.SetIn(strings.NewReader(""))
	submitLang = "en"
	t.Cleanup(func() { submitLang = "" })

	require.NoError(t, submitCmd.RunE(submitCmd, []string{"Quero", "estudar", "inglês", "em", "Boston"}))
	assert.Contains(t, out.String(), `"language": "en"`)
	assert.Contains(t, out.String(), `"status": "NONE"`)

	env, err := initReadEnv(t.Context())
	require.NoError(t, err)
	subs, err := env.Orchestrator.List(t.Context(), "u1", 0)
	env.Close()
	require.NoError(t, err)
	require.Len(t, subs, 1)

	out.Reset()
	outputFormat = "yaml"
	t.Cleanup(func() { outputFormat = "json" })
	showCmd.SetOut(&out)
	require.NoError(t, showCmd.RunE(showCmd, []string{subs[0].ID}))
	assert.Contains(t, out.String(), "raw_text: Quero estudar inglês em Boston")

	out.Reset()
	listCmd.SetOut(&out)
	require.NoError(t, listCmd.RunE(listCmd, nil))
	assert.Contains(t, out.String(), "id: "+subs[0].ID)

	callerID = "u2"
	err = showCmd.RunE(showCmd, []string{subs[0].ID})
	assert.ErrorIs(t, err, model.ErrSubmissionNotFound)
}

func TestAnswerCommand_RejectsWithoutQuestions(t *testing.T) {
	cfg = loadTestConfig(t)
	callerID = "u1"
	t.Cleanup(func() { callerID = "" })

	env, err := initReadEnv(t.Context())
	require.NoError(t, err)
	sub, err := env.Orchestrator.Create(t.Context(), "u1", "Sou médico e quero trabalhar nos EUA.", "")
	env.Close()
	require.NoError(t, err)

	answerCmd.SetContext(t.Context())
	err = answerCmd.RunE(answerCmd, []string{sub.ID, "sim"})
	assert.ErrorIs(t, err, model.ErrMissingPrerequisite)
}

func TestSubmit_UsesConfiguredDefaultLanguage(t *testing.T) {
	cfg = loadTestConfig(t)
	cfg.Pipeline.DefaultLanguage = "en"
	callerID = "u1"
	t.Cleanup(func() { callerID = "" })
	submitLang = ""

	var out bytes.Buffer
	submitCmd.SetContext(t.Context())
	submitCmd.SetOut(&out)
	require.NoError(t, submitCmd.RunE(submitCmd, []string{"I", "want", "to", "study", "in", "Boston"}))
	assert.Contains(t, out.String(), `"language": "en"`)
}
