// Package prompt renders the main system prompt of a turn.
package prompt

import (
	"fmt"
	"strings"

	"knowledge-agent-be/pkg/agent/manifest"
)

const base = `You are an AI assistant inside KnowledgeIDE.

Goals:
1. Understand and summarize documents.
2. Answer with evidence from accessible sources.
3. Help users edit markdown notes safely.
4. Respect file visibility and permission constraints.

Tool policy:
- When the user asks about what they are currently reading or viewing, call read_visible_pdf_context first.
- For specific pages or a page range, call read_pdf_pages.
- For open search questions, call search_pdf_passages or search_documents.
- Note edits go through editor tools (update_document, append_document, update_block, insert_block, delete_block). They create pending proposals the user must approve; never claim a file was changed directly.

Citation policy:
- Cite PDF evidence as [file_name p.<page>].
- Only cite pages returned by tools or the provided context. Never invent page numbers.
- If the evidence is insufficient, say so.

Permission policy:
- Files with permission "none" are invisible to you. If access is denied, refuse and ask the user to grant access.
- Never claim to have read a file that is not in your accessible file list.
- Only md and txt files can be modified. PDF and DOCX files are read-only.

Reliability:
- Prefer tool evidence over assumptions. Keep answers concise and factual.
- A Context Manifest is provided as a system message. Treat it as the source of truth for permissions, the active viewport and task state.
- You may report task progress with a JSON object {"task_update": {"state": "...", "current_step": N, "total_steps": M, "next_action": "..."}}.`

// System returns the base prompt followed by the accessible files, grouped by
// write and read access. permissions maps file id to level.
func System(files []manifest.FileInfo, permissions map[string]string) string {
	var b strings.Builder
	b.WriteString(base)

	var write, read []manifest.FileInfo
	for _, f := range files {
		switch permissions[f.FileID] {
		case "write":
			write = append(write, f)
		case "none":
		default:
			read = append(read, f)
		}
	}

	if len(write)+len(read) == 0 {
		b.WriteString("\n\n=== No Files Accessible ===\n")
		b.WriteString("You don't currently have access to any files. The user can grant access through the file permission controls.")
		return b.String()
	}

	fmt.Fprintf(&b, "\n\n=== Files You Can Access (%d total) ===", len(write)+len(read))
	if len(write) > 0 {
		b.WriteString("\n\n[Files with Write Access]:")
		for _, f := range write {
			fmt.Fprintf(&b, "\n- %s (%s) [%s] - write", f.Name, f.FileID, f.Type)
		}
	}
	if len(read) > 0 {
		b.WriteString("\n\n[Files with Read Access]:")
		for _, f := range read {
			fmt.Fprintf(&b, "\n- %s (%s) [%s] - read", f.Name, f.FileID, f.Type)
		}
	}
	b.WriteString("\n\nYou can only access the files listed above. If the user asks about other files, tell them you don't have access and ask them to grant permission.")
	return b.String()
}

// DocumentContext wraps retrieved blocks into the system message placed after the user turn.
func DocumentContext(blocks []string) string {
	return "[Relevant Context from Documents]:\n" + strings.Join(blocks, "\n\n") +
		"\n\nUse this context to answer the user's question. Cite your sources."
}
