package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-attendance/internal/models"
)

func run(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range newRootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"import", "autolink", "migrate", "tail"} {
		assert.True(t, names[want], want)
	}
}

func TestImportRequiresFile(t *testing.T) {
	_, err := run("import")
	require.Error(t, err)

	_, err = run("import", "/nonexistent/export.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such file")
}

type stubImporter struct {
	result models.ImportResult
	err    error
}

func (s stubImporter) Import(context.Context, io.Reader, string) (models.ImportResult, error) {
	return s.result, s.err
}

func TestRunImportKeepsRowErrorValue(t *testing.T) {
	rowErr := &models.RowError{Line: 4, Field: "Ticket Date", Value: "31/02/2024", Msg: "invalid date"}
	var out bytes.Buffer

	err := runImport(context.Background(), stubImporter{err: rowErr}, strings.NewReader(""), "export.csv", &out)
	require.Error(t, err)

	var got *models.RowError
	require.True(t, errors.As(err, &got))
	assert.Same(t, rowErr, got)
	assert.Contains(t, err.Error(), `"31/02/2024"`)
	assert.Contains(t, err.Error(), "line 4")
	assert.Empty(t, out.String())
}

func TestRunImportPrintsSummary(t *testing.T) {
	var out bytes.Buffer
	res := models.ImportResult{Created: 2, Updated: 1, Deleted: 1, Skipped: 3}

	require.NoError(t, runImport(context.Background(), stubImporter{result: res}, strings.NewReader(""), "export.csv", &out))
	assert.Equal(t, "7 rows: 2 created, 1 updated, 1 deleted, 3 skipped\n", out.String())
}

func TestMigrateRejectsUnknownAction(t *testing.T) {
	_, err := run("migrate", "sideways")
	require.Error(t, err)
}

func TestAutolinkEventFlag(t *testing.T) {
	cmd := newAutolinkCmd(&cli{})
	require.NoError(t, cmd.Flags().Set("event", "7"))
	v, err := cmd.Flags().GetInt64("event")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}
