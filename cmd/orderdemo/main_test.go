package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/pipeline/fixtures"
	"github.com/terraskye/pipeline/paging"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("PIPELINE_LOG_LEVEL", "error")
	t.Setenv("PIPELINE_STORE_DRIVER", "memory")
	t.Setenv("PIPELINE_REDIS_ADDR", "")
}

func TestRunMain_PrintsFirstPage(t *testing.T) {
	isolate(t)
	var out bytes.Buffer

	code := runMain([]string{"-orders", "7", "-page-size", "5"}, &out)
	require.Equal(t, 0, code)

	var page paging.Page[fixtures.Order]
	require.NoError(t, json.Unmarshal(out.Bytes(), &page))
	assert.Equal(t, 7, page.TotalCount)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Items, 5)
	assert.True(t, page.HasNextPage)
	assert.Contains(t, page.Links, "next")

	paid := 0
	for _, o := range page.Items {
		if o.Status == fixtures.StatusPaid {
			paid++
		}
	}
	assert.LessOrEqual(t, paid, 2)
}

func TestRunMain_FewOrdersSkipsDoublePayment(t *testing.T) {
	isolate(t)
	var out bytes.Buffer

	assert.Equal(t, 0, runMain([]string{"-orders", "2"}, &out))
	assert.Contains(t, out.String(), `"totalCount": 2`)
}

func TestRunMain_ExitCodes(t *testing.T) {
	isolate(t)
	var out bytes.Buffer

	assert.Equal(t, 2, runMain([]string{"-unknown"}, &out))
	assert.Equal(t, 1, runMain([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, &out))
	assert.Empty(t, out.String())
}
