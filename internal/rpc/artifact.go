package rpc

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
)

// renderArtifact builds the result artifact for a completed task. The
// model answers in markdown; callers that render rich output get an
// HTML part alongside the raw text.
func renderArtifact(taskID, answer string) wireArtifact {
	parts := []Part{{Kind: "text", Text: answer}}
	if html, err := markdownToHTML(answer); err == nil {
		parts = append(parts, Part{Kind: "html", HTML: html})
	}
	return wireArtifact{
		ArtifactID: taskID + "-result",
		Name:       "result",
		Parts:      parts,
	}
}

func markdownToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
