package providers

import "strings"

// FallbackConfidence is the fixed confidence assigned to local OCR output.
// The local engine has no per-word score comparable to the remote one, so
// this marks the text as usable but unverified.
const FallbackConfidence = 0.5

// PageSeparator joins per-page text.
const PageSeparator = "\n"

// JoinPages joins per-page text in page order.
func JoinPages(texts []string) string {
	return strings.Join(texts, PageSeparator)
}
