package config

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/polzovatel/exam-opener/internal/batch"
)

func writeWorkbook(t *testing.T, sheet string, cells map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exams.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", sheet))
	for cell, v := range cells {
		require.NoError(t, f.SetCellValue(sheet, cell, v))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func TestReadExamIDsByHeader(t *testing.T) {
	path := writeWorkbook(t, "Exams", map[string]any{
		"A1": "患者", "B1": "检查ID",
		"A2": "Zhang", "B2": 27473,
		"A3": "Li", "B3": 27472,
		"A4": "Wang", "B4": "",
		"A5": "Zhao", "B5": 27473,
		"A6": "Sun", "B6": "27470",
	})

	ids, err := ReadExamIDs(path, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []batch.ExamID{27473, 27472, 27470}, ids)

	ids, err = ReadExamIDs(path, "Exams", 2)
	require.NoError(t, err)
	assert.Equal(t, []batch.ExamID{27473, 27472}, ids)
}

func TestReadExamIDsFirstColumn(t *testing.T) {
	path := writeWorkbook(t, "Sheet1", map[string]any{
		"A1": "Exam list",
		"A2": 101,
		"A3": "n/a",
		"A4": 103.0,
	})

	ids, err := ReadExamIDs(path, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []batch.ExamID{101, 103}, ids)
}

func TestSampleExamIDsUsesConfiguredFile(t *testing.T) {
	cfg := Default()
	cfg.ExamsFile = writeWorkbook(t, "Sheet1", map[string]any{"A1": "exam_id", "A2": 7, "A3": 8})

	ids, err := cfg.SampleExamIDs(1)
	require.NoError(t, err)
	assert.Equal(t, []batch.ExamID{7}, ids)
}

func TestReadExamIDsRejectsNonPositiveCount(t *testing.T) {
	cells := map[string]any{"A1": "exam_id"}
	for i := 2; i <= 51; i++ {
		cells[fmt.Sprintf("A%d", i)] = 1000 + i
	}
	path := writeWorkbook(t, "Sheet1", cells)

	for _, n := range []int{0, -5} {
		ids, err := ReadExamIDs(path, "", n)
		assert.Error(t, err, "n=%d", n)
		assert.Empty(t, ids, "n=%d", n)
	}

	ids, err := ReadExamIDs(path, "", 3)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestReadExamIDsMissingWorkbook(t *testing.T) {
	_, err := ReadExamIDs(filepath.Join(t.TempDir(), "missing.xlsx"), "", 5)
	assert.Error(t, err)
}

func TestReadExamIDsMissingSheet(t *testing.T) {
	path := writeWorkbook(t, "Sheet1", map[string]any{"A1": 1})
	_, err := ReadExamIDs(path, "Other", 5)
	assert.Error(t, err)
}

func TestParseCell(t *testing.T) {
	tests := map[string]struct {
		id batch.ExamID
		ok bool
	}{
		"27473":   {27473, true},
		" 42 ":    {42, true},
		"27473.0": {27473, true},
		"1.5":     {0, false},
		"0":       {0, false},
		"":        {0, false},
		"abc":     {0, false},
	}
	for in, want := range tests {
		id, ok := parseCell(in)
		assert.Equal(t, want.ok, ok, in)
		if want.ok {
			assert.Equal(t, want.id, id, in)
		}
	}
}
