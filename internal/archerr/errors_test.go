package archerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveError_Error_ReturnsCodeAndMessage(t *testing.T) {
	err := New(CodeNotFoundDocument, "document missing", nil)
	assert.Equal(t, "[ERR_N01_DOCUMENT_NOT_FOUND] document missing", err.Error())
}

func TestArchiveError_Error_IncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("disk full")
	err := New(CodeStorageVault, "write failed", cause)
	assert.Equal(t, "[ERR_S01_VAULT_WRITE_FAILED] write failed: disk full", err.Error())
}

func TestArchiveError_Unwrap_ExposesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := New(CodeUnavailableRedis, "dial failed", cause)

	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestArchiveError_Is_MatchesByCodeNotMessage(t *testing.T) {
	a := New(CodeNotFoundChunk, "chunk 1 missing", nil)
	b := New(CodeNotFoundChunk, "chunk 2 missing", nil)
	c := New(CodeNotFoundFolder, "folder missing", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestNew_DerivesCategorySeverityAndRetryableFromCodePrefix(t *testing.T) {
	tests := []struct {
		name          string
		code          string
		wantCategory  Category
		wantSeverity  Severity
		wantRetryable bool
	}{
		{"validation", CodeValidationInput, CategoryValidation, SeverityError, false},
		{"not found", CodeNotFoundDocument, CategoryNotFound, SeverityError, false},
		{"unavailable", CodeUnavailableLLM, CategoryUnavailable, SeverityWarning, true},
		{"storage", CodeStorageTracker, CategoryStorage, SeverityFatal, false},
		{"internal", CodeInternalUnexpected, CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
			assert.Equal(t, tt.wantSeverity, err.Severity)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWithDetail_AttachesKeyValueAndReturnsSameError(t *testing.T) {
	err := New(CodeValidationQuery, "bad query", nil).WithDetail("field", "query")

	require.NotNil(t, err.Details)
	assert.Equal(t, "query", err.Details["field"])
}

func TestIsRetryable_TrueOnlyForUnavailableCategory(t *testing.T) {
	assert.True(t, IsRetryable(New(CodeUnavailableVector, "down", nil)))
	assert.False(t, IsRetryable(New(CodeValidationInput, "bad", nil)))
	assert.False(t, IsRetryable(errors.New("plain error")))
}

func TestIsFatal_TrueOnlyForStorageCategory(t *testing.T) {
	assert.True(t, IsFatal(New(CodeStorageVault, "failed", nil)))
	assert.False(t, IsFatal(New(CodeNotFoundTool, "missing", nil)))
	assert.False(t, IsFatal(errors.New("plain error")))
}

func TestGetCode_ExtractsCodeFromWrappedArchiveError(t *testing.T) {
	inner := New(CodeNotFoundFolder, "folder missing", nil)
	wrapped := wrapError(inner)

	assert.Equal(t, CodeNotFoundFolder, GetCode(wrapped))
	assert.Equal(t, "", GetCode(errors.New("plain error")))
}

// wrapError simulates a caller wrapping an ArchiveError with fmt.Errorf's %w,
// exercising archerr.as's walk up the Unwrap chain.
func wrapError(err error) error {
	return &unwrapper{err: err}
}

type unwrapper struct{ err error }

func (u *unwrapper) Error() string { return "wrapped: " + u.err.Error() }
func (u *unwrapper) Unwrap() error { return u.err }

func TestValidationError_BuildsValidationCategoryError(t *testing.T) {
	err := ValidationError("missing field", nil)
	assert.Equal(t, CategoryValidation, err.Category)
	assert.Equal(t, CodeValidationInput, err.Code)
}

func TestNotFoundError_UsesGivenCode(t *testing.T) {
	err := NotFoundError(CodeNotFoundTool, "unknown tool: foo")
	assert.Equal(t, CategoryNotFound, err.Category)
	assert.Equal(t, CodeNotFoundTool, err.Code)
}
