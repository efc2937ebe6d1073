//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/listing-enrich/internal/model"
)

func TestFormatSnapshot(t *testing.T) {
	saved := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	snap := &model.Snapshot{
		RunID:        "run-3",
		Filename:     "tampa.xlsx",
		Owner:        "ops@example.com",
		TotalRecords: 200,
		Cursor:       75,
		Config:       model.BatchConfig{Tier: "medium"},
		Stats:        model.Stats{Succeeded: 70, Failed: 5},
		SavedAt:      saved,
	}

	var buf bytes.Buffer
	formatSnapshot(&buf, snap, saved.Add(90*time.Minute))
	out := buf.String()
	assert.Contains(t, out, "run-3")
	assert.Contains(t, out, "tampa.xlsx")
	assert.Contains(t, out, "ops@example.com")
	assert.Contains(t, out, "75/200")
	assert.Contains(t, out, "1h30m0s ago")
}

func TestFormatSnapshot_NoOwner(t *testing.T) {
	var buf bytes.Buffer
	formatSnapshot(&buf, &model.Snapshot{RunID: "r"}, time.Now())
	assert.NotContains(t, buf.String(), "OWNER")
}
