package prompt

import (
	"strings"
	"testing"

	"knowledge-agent-be/pkg/agent/manifest"

	"github.com/stretchr/testify/assert"
)

func TestSystem_GroupsFilesByAccess(t *testing.T) {
	files := []manifest.FileInfo{
		{FileID: "f1", Name: "notes.md", Type: "md"},
		{FileID: "f2", Name: "paper.pdf", Type: "pdf"},
		{FileID: "f3", Name: "hidden.md", Type: "md"},
	}
	out := System(files, map[string]string{"f1": "write", "f2": "read", "f3": "none"})

	assert.Contains(t, out, "=== Files You Can Access (2 total) ===")
	assert.Contains(t, out, "[Files with Write Access]:\n- notes.md (f1) [md] - write")
	assert.Contains(t, out, "[Files with Read Access]:\n- paper.pdf (f2) [pdf] - read")
	assert.NotContains(t, out, "hidden.md")
	assert.True(t, strings.HasPrefix(out, "You are an AI assistant"))
}

func TestSystem_NoFiles(t *testing.T) {
	out := System(nil, nil)
	assert.Contains(t, out, "=== No Files Accessible ===")
	assert.NotContains(t, out, "Files You Can Access")
}

func TestDocumentContext(t *testing.T) {
	out := DocumentContext([]string{"a", "b"})
	assert.Equal(t, "[Relevant Context from Documents]:\na\n\nb\n\nUse this context to answer the user's question. Cite your sources.", out)
}
