package validation

import (
	"mime/multipart"
	"strings"
	"testing"

	"github.com/google/uuid"
)

// %PDF magic bytes are enough for mimetype sniffing
var pdfHead = []byte("%PDF-1.7\n%some pdf content here")

func TestValidateResumeUpload_AcceptsPDF(t *testing.T) {
	fh := &multipart.FileHeader{Filename: "resume.pdf", Size: 1024}

	errs := ValidateResumeUpload(fh, pdfHead)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidateResumeUpload_RejectsBadUploads(t *testing.T) {
	tests := []struct {
		name string
		fh   *multipart.FileHeader
		head []byte
		want string
	}{
		{
			name: "empty file",
			fh:   &multipart.FileHeader{Filename: "resume.pdf", Size: 0},
			head: pdfHead,
			want: "empty",
		},
		{
			name: "too large",
			fh:   &multipart.FileHeader{Filename: "resume.pdf", Size: MaxResumeSize + 1},
			head: pdfHead,
			want: "exceeds maximum size",
		},
		{
			name: "not a pdf",
			fh:   &multipart.FileHeader{Filename: "resume.pdf", Size: 42},
			head: []byte("just plain text pretending to be a resume"),
			want: "unsupported content type",
		},
		{
			name: "missing file",
			fh:   nil,
			head: nil,
			want: "must be provided",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateResumeUpload(tt.fh, tt.head)
			if len(errs) == 0 {
				t.Fatalf("expected validation errors")
			}
			if !strings.Contains(errs.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %q", tt.want, errs.Error())
			}
		})
	}
}

func TestValidateStruct_AgentCreateRequest(t *testing.T) {
	valid := AgentCreateRequest{
		Name:     "career-coach",
		ResumeID: uuid.New().String(),
	}
	if errs := ValidateStruct(valid); len(errs) != 0 {
		t.Fatalf("expected valid request, got %v", errs)
	}

	missing := AgentCreateRequest{ResumeID: "not-a-uuid"}
	errs := ValidateStruct(missing)
	if len(errs) == 0 {
		t.Fatalf("expected validation errors")
	}

	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	if !fields["name"] {
		t.Errorf("expected error on name, got %v", errs)
	}
	if !fields["resumeid"] {
		t.Errorf("expected error on resume_id, got %v", errs)
	}
}

func TestValidateStruct_AgentRunRequest(t *testing.T) {
	if errs := ValidateStruct(AgentRunRequest{InputText: "Tell me about this resume"}); len(errs) != 0 {
		t.Fatalf("expected valid request, got %v", errs)
	}
	if errs := ValidateStruct(AgentRunRequest{}); len(errs) == 0 {
		t.Fatalf("expected error for missing input_text")
	}
	long := strings.Repeat("x", MaxInputText+1)
	if errs := ValidateStruct(AgentRunRequest{InputText: long}); len(errs) == 0 {
		t.Fatalf("expected error for oversized input_text")
	}
}
