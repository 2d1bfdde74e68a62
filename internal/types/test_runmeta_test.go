package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunMetaRecordKeepsCountsBalanced(t *testing.T) {
	var m RunMeta
	m.Record("a.py", UnitSuccess, nil, "a.py.md")
	m.Record("b.py", UnitSkipped, nil, "")
	unitErr := &EnrichmentUnitError{Unit: "c.py", Kind: KindInvalidIssues, Err: errors.New("bad json")}
	item := unitErr.Item()
	m.Record("c.py", UnitFailure, &item, "")

	assert.Equal(t, 3, m.ProcessedTotal)
	assert.Equal(t, m.ProcessedTotal, m.SuccessCount+m.SkippedCount+m.FailureCount)
	assert.Equal(t, []string{"a.py.md"}, m.Pieces)
	assert.Equal(t, []FailureItem{{Unit: "c.py", Kind: KindInvalidIssues, Message: "bad json"}}, m.FailedItems)
}

func TestIsInputError(t *testing.T) {
	assert.True(t, IsInputError(NewInputError("file", "missing")))
	assert.True(t, IsInputError(&ExtractionError{Archive: "x.zip", Err: errors.New("not a zip")}))
	assert.False(t, IsInputError(&RenderError{Stage: "pdf", Err: errors.New("boom")}))
}
