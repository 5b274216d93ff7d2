package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cao-extract/internal/fieldspec"
	"github.com/sells-group/cao-extract/internal/model"
)

func TestFormatFields(t *testing.T) {
	fs, err := fieldspec.Build([]model.FieldSpec{
		{Name: "uurloon", Category: "wage_information", Example: "12,50"},
		{Name: "ingangsdatum"},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	formatFields(&buf, fs)
	out := buf.String()

	assert.Contains(t, out, "GROUP")
	assert.Contains(t, out, "wage_information")
	assert.Contains(t, out, "uurloon")
	assert.Contains(t, out, "12,50")
	assert.Contains(t, out, "(all)")
	assert.Contains(t, out, "2 fields")
}
