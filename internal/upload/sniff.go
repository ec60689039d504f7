package upload

import (
	"net/http"
	"strings"

	"github.com/shivaxm/uploadsvc/internal/policy"
)

// sniffContentType identifies the MIME type of sample by checking it
// against the magic prefixes in the policy table first (more specific
// than the stdlib's generic table, and it is what the completion check
// ultimately cares about), falling back to http.DetectContentType.
// Returns "" if nothing matches, mirroring the "sniff failed" case the
// policy validator treats as sniff_missing.
func sniffContentType(sample []byte) string {
	// ZIP-backed containers (docx/xlsx/pptx) all share the PK\x03\x04
	// magic number, so a magic-only sniff can't tell them apart — match
	// the original implementation's python-magic behavior of reporting
	// the generic zip MIME type here; the scan worker's ZIP-entry
	// inspection is what actually distinguishes them.
	if len(sample) >= 4 && string(sample[:4]) == "PK\x03\x04" {
		return "application/zip"
	}

	for ext, rule := range policy.Rules {
		if ext == ".docx" || ext == ".xlsx" || ext == ".pptx" {
			continue
		}
		for _, prefix := range rule.MagicPrefixes {
			if len(sample) >= len(prefix) && string(sample[:len(prefix)]) == string(prefix) {
				return rule.ExpectedMimes[0]
			}
		}
	}

	detected := http.DetectContentType(sample)
	detected = strings.SplitN(detected, ";", 2)[0]
	detected = strings.TrimSpace(detected)
	if detected == "application/octet-stream" {
		return ""
	}
	return detected
}
