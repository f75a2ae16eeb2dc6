package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/polzovatel/exam-opener/internal/batch"
)

var ErrNoExamIDs = errors.New("no exam IDs found")

// Header names recognised as the exam ID column, compared case-insensitively.
var examIDHeaders = []string{"检查ID", "exam_id", "examid", "exam id", "id"}

// SampleExamIDs returns the first n exam IDs of the configured workbook.
func (c Config) SampleExamIDs(n int) ([]batch.ExamID, error) {
	return ReadExamIDs(c.ExamsFile, c.ExamsSheet, n)
}

// ReadExamIDs reads up to n exam IDs from the ID column of sheet, or of
// the first sheet when sheet is empty. Without a recognised header the
// first column is used. Blank and non-numeric cells are skipped and
// repeated IDs are kept once.
func ReadExamIDs(path, sheet string, n int) ([]batch.ExamID, error) {
	if n < 1 {
		return nil, fmt.Errorf("exam count must be at least 1, got %d", n)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%w: %s has no sheets", ErrNoExamIDs, path)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}

	col, start := 0, 0
	if len(rows) > 0 {
		if idx := headerColumn(rows[0]); idx >= 0 {
			col, start = idx, 1
		}
	}

	ids := make([]batch.ExamID, 0)
	seen := make(map[batch.ExamID]bool)
	for _, row := range rows[start:] {
		if len(ids) >= n {
			break
		}
		if col >= len(row) {
			continue
		}
		id, ok := parseCell(row[col])
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func headerColumn(header []string) int {
	for i, cell := range header {
		name := strings.ToLower(strings.TrimSpace(cell))
		for _, want := range examIDHeaders {
			if name == strings.ToLower(want) {
				return i
			}
		}
	}
	return -1
}

// parseCell accepts integers and integral floats ("27473.0"), which is how
// some exports store numeric IDs.
func parseCell(cell string) (batch.ExamID, bool) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return 0, false
	}
	if v, err := strconv.Atoi(cell); err == nil {
		return batch.ExamID(v), v > 0
	}
	f, err := strconv.ParseFloat(cell, 64)
	if err != nil || f <= 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return batch.ExamID(int(f)), true
}

// ParseIDs parses a comma-separated ID list such as "27473, 27472".
// Repeated IDs are kept once, in first-seen order.
func ParseIDs(list string) ([]batch.ExamID, error) {
	ids := make([]batch.ExamID, 0)
	seen := make(map[batch.ExamID]bool)
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid exam ID %q", part)
		}
		id := batch.ExamID(v)
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, ErrNoExamIDs
	}
	return ids, nil
}
