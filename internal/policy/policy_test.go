package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAcceptsWellFormedPDF(t *testing.T) {
	result := Validate(ValidateInput{
		OriginalFilename:    "report.pdf",
		DeclaredContentType: "application/pdf",
		SniffedContentType:  "application/pdf",
		SizeBytes:           1024,
		SampleBytes:         []byte("%PDF-1.7 rest of file"),
	})
	assert.True(t, result.Ok)
	assert.Empty(t, result.Reason)
}

func TestValidateRejectsDisallowedExtension(t *testing.T) {
	result := Validate(ValidateInput{OriginalFilename: "payload.exe", SizeBytes: 10})
	assert.False(t, result.Ok)
	assert.Equal(t, ReasonDisallowedExtension, result.Reason)
}

func TestValidateRejectsOversizedFile(t *testing.T) {
	result := Validate(ValidateInput{
		OriginalFilename:    "huge.pdf",
		DeclaredContentType: "application/pdf",
		SniffedContentType:  "application/pdf",
		SizeBytes:           DefaultMaxSizeBytes + 1,
		SampleBytes:         []byte("%PDF-"),
	})
	assert.False(t, result.Ok)
	assert.Equal(t, ReasonTooLarge, result.Reason)
}

func TestValidateRejectsDeclaredMimeMismatch(t *testing.T) {
	result := Validate(ValidateInput{
		OriginalFilename:    "report.pdf",
		DeclaredContentType: "image/png",
		SizeBytes:           10,
	})
	assert.False(t, result.Ok)
	assert.Equal(t, ReasonDeclaredMimeMismatch, result.Reason)
}

func TestValidateRejectsMissingSniff(t *testing.T) {
	result := Validate(ValidateInput{
		OriginalFilename:    "report.pdf",
		DeclaredContentType: "application/pdf",
		SniffedContentType:  "",
		SizeBytes:           10,
	})
	assert.False(t, result.Ok)
	assert.Equal(t, ReasonSniffMissing, result.Reason)
}

func TestValidateRejectsSniffMismatch(t *testing.T) {
	result := Validate(ValidateInput{
		OriginalFilename:    "report.pdf",
		DeclaredContentType: "application/pdf",
		SniffedContentType:  "image/png",
		SizeBytes:           10,
	})
	assert.False(t, result.Ok)
	assert.Equal(t, ReasonSniffMismatch, result.Reason)
}

func TestValidateRejectsMagicMismatch(t *testing.T) {
	result := Validate(ValidateInput{
		OriginalFilename:    "report.pdf",
		DeclaredContentType: "application/pdf",
		SniffedContentType:  "application/pdf",
		SizeBytes:           10,
		SampleBytes:         []byte("not a pdf at all"),
	})
	assert.False(t, result.Ok)
	assert.Equal(t, ReasonMagicMismatch, result.Reason)
}

func TestValidateAcceptsOfficeDocxByExtensionFamily(t *testing.T) {
	result := Validate(ValidateInput{
		OriginalFilename:    "contract.docx",
		DeclaredContentType: "application/zip",
		SniffedContentType:  "application/zip",
		SizeBytes:           2048,
		SampleBytes:         []byte("PK\x03\x04 rest"),
	})
	assert.True(t, result.Ok)
}

func TestAllowedExtensionsCoversKnownTypes(t *testing.T) {
	exts := AllowedExtensions()
	assert.Contains(t, exts, ".pdf")
	assert.Contains(t, exts, ".docx")
	assert.Len(t, exts, len(Rules))
}
