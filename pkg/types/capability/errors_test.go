package capability

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestValidationErrorsError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{{Field: "level", Code: CodeInvalidEnumValue, Message: "must be one of beginner, advanced"}}
		assert.Equal(t, "validation failed: level: must be one of beginner, advanced", errs.Error())
	})

	t.Run("several errors use the list format", func(t *testing.T) {
		errs := ValidationErrors{
			{DescriptorID: "quiz", Field: "topic", Code: CodeMissingRequired, Message: "is required"},
			{DescriptorID: "quiz", Field: "questions", Code: CodeTypeMismatch, Message: "must be an integer"},
		}
		assert.Equal(t,
			"2 errors occurred:\n\t* quiz: topic: is required\n\t* quiz: questions: must be an integer\n\n",
			errs.Error())
	})
}

func TestValidationErrorsByCode(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Code: CodeMissingRequired},
		{Field: "b", Code: CodeTypeMismatch},
		{Field: "c", Code: CodeMissingRequired},
	}
	missing := errs.ByCode(CodeMissingRequired)
	assert.Len(t, missing, 2)
	assert.Equal(t, "c", missing[1].Field)
	assert.Empty(t, errs.ByCode(CodeInvalidEnumValue))
}

func TestExecutionFailureUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := error(&ExecutionFailure{PlanID: "p", StepIndex: 1, DescriptorID: "s2", Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "step 1 (s2) of plan p failed: boom", err.Error())
}
