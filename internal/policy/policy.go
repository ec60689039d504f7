// Package policy enforces the per-extension file-type rules that gate
// upload completion: declared MIME type, server-sniffed MIME type, and a
// magic-byte check must all agree with what the extension promises.
package policy

import (
	"bytes"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultMaxSizeBytes is the global size cap applied regardless of
// extension-specific limits.
const DefaultMaxSizeBytes = 50 * 1024 * 1024

// Rule describes the acceptance criteria for one file extension.
type Rule struct {
	ExpectedMimes []string
	SniffMimes    []string
	MagicPrefixes [][]byte
	MaxSizeBytes  int64 // 0 means no extension-specific limit
}

var officeSniffMimes = []string{
	"application/zip",
	"application/octet-stream",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

var officeDeclaredMimes = []string{
	"application/zip",
	"application/octet-stream",
}

// Rules maps a lower-cased extension (including the leading dot) to its
// acceptance policy. Office OpenXML formats are ZIP containers, so their
// sniff set includes zip/octet-stream alongside their real MIME type;
// the magic check (PK\x03\x04) is what actually pins them down.
var Rules = map[string]Rule{
	".pdf": {
		ExpectedMimes: []string{"application/pdf"},
		SniffMimes:    []string{"application/pdf"},
		MagicPrefixes: [][]byte{[]byte("%PDF-")},
	},
	".txt": {
		ExpectedMimes: []string{"text/plain"},
		SniffMimes:    []string{"text/plain"},
	},
	".csv": {
		ExpectedMimes: []string{"text/csv", "application/csv"},
		SniffMimes:    []string{"text/plain", "text/csv"},
	},
	".png": {
		ExpectedMimes: []string{"image/png"},
		SniffMimes:    []string{"image/png"},
		MagicPrefixes: [][]byte{{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}},
	},
	".jpg": {
		ExpectedMimes: []string{"image/jpeg"},
		SniffMimes:    []string{"image/jpeg"},
		MagicPrefixes: [][]byte{{0xff, 0xd8, 0xff}},
	},
	".jpeg": {
		ExpectedMimes: []string{"image/jpeg"},
		SniffMimes:    []string{"image/jpeg"},
		MagicPrefixes: [][]byte{{0xff, 0xd8, 0xff}},
	},
	".gif": {
		ExpectedMimes: []string{"image/gif"},
		SniffMimes:    []string{"image/gif"},
		MagicPrefixes: [][]byte{[]byte("GIF87a"), []byte("GIF89a")},
	},
	".docx": {
		ExpectedMimes: append([]string{"application/vnd.openxmlformats-officedocument.wordprocessingml.document"}, officeDeclaredMimes...),
		SniffMimes:    officeSniffMimes,
		MagicPrefixes: [][]byte{[]byte("PK\x03\x04")},
	},
	".xlsx": {
		ExpectedMimes: append([]string{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}, officeDeclaredMimes...),
		SniffMimes:    officeSniffMimes,
		MagicPrefixes: [][]byte{[]byte("PK\x03\x04")},
	},
	".pptx": {
		ExpectedMimes: append([]string{"application/vnd.openxmlformats-officedocument.presentationml.presentation"}, officeDeclaredMimes...),
		SniffMimes:    officeSniffMimes,
		MagicPrefixes: [][]byte{[]byte("PK\x03\x04")},
	},
}

// Result is the outcome of Validate: Ok reports acceptance, Reason is
// one of the fixed reason codes below when Ok is false, and Details
// carries the specific values that drove the rejection for audit
// logging.
type Result struct {
	Ok      bool
	Reason  string
	Details map[string]any
}

// Reason codes surfaced to callers and recorded in audit events.
const (
	ReasonDisallowedExtension   = "disallowed_extension"
	ReasonTooLarge              = "too_large"
	ReasonTypeSizeLimit         = "type_size_limit"
	ReasonDeclaredMimeMismatch  = "declared_mime_mismatch"
	ReasonSniffMissing          = "sniff_missing"
	ReasonSniffMismatch         = "sniff_mismatch"
	ReasonMagicMissing          = "magic_missing"
	ReasonMagicMismatch         = "magic_mismatch"
)

func baseMime(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, ";"); idx >= 0 {
		v = v[:idx]
	}
	return strings.ToLower(strings.TrimSpace(v))
}

func ruleForFilename(filename string) (string, Rule, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	rule, ok := Rules[ext]
	return ext, rule, ok
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func hasMagicPrefix(sample []byte, prefixes [][]byte) bool {
	for _, p := range prefixes {
		if bytes.HasPrefix(sample, p) {
			return true
		}
	}
	return false
}

// ValidateInput bundles the evidence gathered about an uploaded object
// that the policy check needs.
type ValidateInput struct {
	OriginalFilename    string
	DeclaredContentType string
	SniffedContentType  string // empty if sniffing could not be performed
	SizeBytes           int64
	SampleBytes         []byte // leading bytes of the object, for magic checks
	MaxSizeBytes        int64  // 0 uses DefaultMaxSizeBytes
}

// Validate runs the full acceptance pipeline for a completed upload:
// extension allow-list, global and per-type size caps, declared MIME,
// sniffed MIME, and magic bytes, in that order, stopping at the first
// failure (spec.md §4.3).
func Validate(in ValidateInput) Result {
	ext, rule, ok := ruleForFilename(in.OriginalFilename)
	if !ok {
		return Result{Reason: ReasonDisallowedExtension, Details: map[string]any{"filename": in.OriginalFilename}}
	}

	maxSize := in.MaxSizeBytes
	if maxSize <= 0 {
		maxSize = DefaultMaxSizeBytes
	}
	if in.SizeBytes > maxSize {
		return Result{Reason: ReasonTooLarge, Details: map[string]any{"size": in.SizeBytes, "max": maxSize}}
	}
	if rule.MaxSizeBytes > 0 && in.SizeBytes > rule.MaxSizeBytes {
		return Result{Reason: ReasonTypeSizeLimit, Details: map[string]any{"size": in.SizeBytes, "max": rule.MaxSizeBytes, "ext": ext}}
	}

	declared := baseMime(in.DeclaredContentType)
	if !contains(rule.ExpectedMimes, declared) {
		d := declared
		if d == "" {
			d = "none"
		}
		return Result{Reason: ReasonDeclaredMimeMismatch, Details: map[string]any{"declared": d, "ext": ext}}
	}

	sniffed := baseMime(in.SniffedContentType)
	if sniffed == "" {
		return Result{Reason: ReasonSniffMissing, Details: map[string]any{"ext": ext}}
	}
	if !contains(rule.SniffMimes, sniffed) {
		return Result{Reason: ReasonSniffMismatch, Details: map[string]any{"sniffed": sniffed, "declared": declared, "ext": ext}}
	}

	if len(rule.MagicPrefixes) > 0 {
		if len(in.SampleBytes) == 0 {
			return Result{Reason: ReasonMagicMissing, Details: map[string]any{"ext": ext}}
		}
		if !hasMagicPrefix(in.SampleBytes, rule.MagicPrefixes) {
			return Result{Reason: ReasonMagicMismatch, Details: map[string]any{"ext": ext, "sniffed": sniffed}}
		}
	}

	return Result{Ok: true}
}

// AllowedExtensions returns the sorted list of accepted extensions.
func AllowedExtensions() []string {
	out := make([]string, 0, len(Rules))
	for ext := range Rules {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
