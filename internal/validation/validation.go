package validation

import (
	"errors"
	"fmt"
	"mime/multipart"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

const (
	MaxResumeSize = 10 << 20 // 10mb
	MaxNameLength = 100
	MaxInputText  = 4000
)

// resumes are PDF only; the content is sniffed, not trusted from the header
var allowedResumeTypes = map[string]bool{
	"application/pdf": true,
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError names the offending field so the API can return
// per-field details instead of one opaque message.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string { return e.Field + ": " + e.Message }

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, ve := range e {
		parts[i] = ve.Error()
	}
	return strings.Join(parts, "; ")
}

// AgentCreateRequest is the payload of POST /v1/agents.
type AgentCreateRequest struct {
	Name               string `json:"name" validate:"required,max=100"`
	Description        string `json:"description,omitempty" validate:"max=500"`
	CustomInstructions string `json:"custom_instructions,omitempty" validate:"max=2000"`
	ResumeID           string `json:"resume_id" validate:"required,uuid4"`
}

// AgentRunRequest is the payload of POST /v1/agents/run.
type AgentRunRequest struct {
	AgentID   string `json:"agent_id,omitempty" validate:"omitempty,uuid4"`
	InputText string `json:"input_text" validate:"required,max=4000"`
}

// ValidateStruct runs validator tags and flattens failures into field errors.
func ValidateStruct(s any) ValidationErrors {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{Field: "request", Message: err.Error()}}
	}

	var errs ValidationErrors
	for _, fe := range fieldErrs {
		errs = append(errs, ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: fmt.Sprintf("failed on the %q rule", fe.Tag()),
		})
	}
	return errs
}

// ValidateResumeUpload checks a multipart resume file by size and sniffed
// content type. The declared Content-Type header is ignored.
func ValidateResumeUpload(file *multipart.FileHeader, head []byte) ValidationErrors {
	var errs ValidationErrors

	if file == nil {
		return ValidationErrors{{Field: "file", Message: "a resume file must be provided"}}
	}

	if file.Size == 0 {
		errs = append(errs, ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("file %s is empty", file.Filename),
		})
		return errs
	}

	if file.Size > MaxResumeSize {
		errs = append(errs, ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("file %s exceeds maximum size of %d bytes", file.Filename, MaxResumeSize),
		})
	}

	detected := mimetype.Detect(head)
	if !allowedResumeTypes[detected.String()] {
		errs = append(errs, ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("file %s has unsupported content type: %s", file.Filename, detected.String()),
		})
	}

	return errs
}
