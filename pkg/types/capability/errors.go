package capability

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Registry errors. These are structural and are never recovered from
// automatically.
var (
	ErrDuplicateID          = errors.New("duplicate descriptor id")
	ErrInvalidBond          = errors.New("invalid bond")
	ErrNotFound             = errors.New("descriptor not found")
	ErrMultiplePrimaryBonds = errors.New("descriptor declares more than one primary bond")
	ErrInvalidDescriptor    = errors.New("invalid descriptor")
)

// Validation error codes
const (
	CodeMissingRequired  = "missing_required_field"
	CodeTypeMismatch     = "type_mismatch"
	CodeInvalidEnumValue = "invalid_enum_value"
)

// FieldError is a single parameter validation failure
type FieldError struct {
	DescriptorID string `json:"descriptor_id,omitempty"`
	Field        string `json:"field"`
	Code         string `json:"code"`
	Value        string `json:"value,omitempty"`
	Message      string `json:"message"`
}

func (e *FieldError) Error() string {
	if e.DescriptorID != "" {
		return fmt.Sprintf("%s: %s: %s", e.DescriptorID, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors carries every validation failure found in one pass
type ValidationErrors []*FieldError

func (v ValidationErrors) Error() string {
	if len(v) == 1 {
		return "validation failed: " + v[0].Error()
	}
	errs := make([]error, len(v))
	for i, e := range v {
		errs[i] = e
	}
	return multierror.ListFormatFunc(errs)
}

// ByCode returns the errors with the given code
func (v ValidationErrors) ByCode(code string) ValidationErrors {
	var out ValidationErrors
	for _, e := range v {
		if e.Code == code {
			out = append(out, e)
		}
	}
	return out
}

// ExecutionFailure reports a failed or cancelled plan step along with every
// result produced before it
type ExecutionFailure struct {
	PlanID       string
	StepIndex    int
	DescriptorID string
	Partial      []Result
	Err          error
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("step %d (%s) of plan %s failed: %v", e.StepIndex, e.DescriptorID, e.PlanID, e.Err)
}

func (e *ExecutionFailure) Unwrap() error {
	return e.Err
}
