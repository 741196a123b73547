package impl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTenantID(t *testing.T) {
	valid := []string{"acme", "acme-corp", "tenant_42", "A", strings.Repeat("x", 100)}
	for _, id := range valid {
		assert.NoError(t, ValidateTenantID(id), id)
	}

	invalid := []string{"", "has space", "semi;colon", "dot.dot", strings.Repeat("x", 101), "curly{}"}
	for _, id := range invalid {
		err := ValidateTenantID(id)
		require.Error(t, err, id)
		ve, ok := err.(ValidationError)
		require.True(t, ok)
		assert.Equal(t, "tenant_id", ve.Field)
	}
}

func TestValidateQuestion(t *testing.T) {
	assert.NoError(t, ValidateQuestion("How do I reset my password?"))
	assert.NoError(t, ValidateQuestion("abc"))

	assert.Error(t, ValidateQuestion(""))
	assert.Error(t, ValidateQuestion("hi"))
	assert.Error(t, ValidateQuestion("  a  "), "whitespace does not count toward length")
	assert.Error(t, ValidateQuestion(strings.Repeat("q", 1001)))
	assert.NoError(t, ValidateQuestion(strings.Repeat("q", 1000)))
}

func TestValidateDocumentPath(t *testing.T) {
	assert.NoError(t, ValidateDocumentPath("/tmp/manual.pdf"))
	assert.NoError(t, ValidateDocumentPath("notes.MD"))
	assert.NoError(t, ValidateDocumentPath("rows.csv"))

	assert.Error(t, ValidateDocumentPath("binary.exe"))
	assert.Error(t, ValidateDocumentPath("noextension"))
}

func TestValidateSearchLimit(t *testing.T) {
	assert.NoError(t, ValidateSearchLimit(1))
	assert.NoError(t, ValidateSearchLimit(50))
	assert.Error(t, ValidateSearchLimit(0))
	assert.Error(t, ValidateSearchLimit(51))
	assert.Error(t, ValidateSearchLimit(-3))
}

func TestIsTextExtension(t *testing.T) {
	assert.True(t, IsTextExtension("a.txt"))
	assert.True(t, IsTextExtension("a.HTML"))
	assert.False(t, IsTextExtension("a.pdf"))
	assert.False(t, IsTextExtension("a.docx"))
}
