package manifest

import (
	"encoding/json"

	"knowledge-agent-be/pkg/agent/retrieval"
	"knowledge-agent-be/pkg/agent/taskstate"
	"knowledge-agent-be/pkg/llm"
)

const maxRefs = 20

// FileInfo describes one permitted file in display order.
type FileInfo struct {
	FileID string
	Name   string
	Type   string
}

type FileItem struct {
	FileID     string `json:"file_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Permission string `json:"permission"`
}

type PermittedFiles struct {
	Read  []FileItem `json:"read"`
	Write []FileItem `json:"write"`
	Total int        `json:"total"`
}

// Manifest is the structured per-turn context handed to the model as JSON.
// RetrievalRefs and TaskState duplicate the canonical keys for older readers.
type Manifest struct {
	SessionID               string                    `json:"session_id"`
	TaskID                  string                    `json:"task_id"`
	PermittedFiles          PermittedFiles            `json:"permitted_files"`
	ActiveViewport          *retrieval.ActiveViewport `json:"active_viewport"`
	ActivePageExcerpt       *string                   `json:"active_page_excerpt"`
	RetrievedContextRefs    []retrieval.Ref           `json:"retrieved_context_refs"`
	LatestCompactionSummary *string                   `json:"latest_compaction_summary"`
	TaskStateSnapshot       *taskstate.Snapshot       `json:"task_state_snapshot"`
	RetrievalRefs           []retrieval.Ref           `json:"retrieval_refs"`
	TaskState               *taskstate.Snapshot       `json:"task_state"`
}

type Input struct {
	SessionID string
	TaskID    string
	// Permissions maps file id to level; a missing entry is read.
	Permissions    map[string]string
	PermittedFiles []FileInfo
	Viewport       *retrieval.ActiveViewport
	Excerpt        *string
	Refs           []retrieval.Ref
	Summary        *string
	TaskState      *taskstate.Snapshot
}

func Build(in Input) Manifest {
	read := []FileItem{}
	write := []FileItem{}
	for _, f := range in.PermittedFiles {
		level, ok := in.Permissions[f.FileID]
		if !ok || level == "" {
			level = "read"
		}
		item := FileItem{FileID: f.FileID, Name: f.Name, Type: f.Type, Permission: level}
		if level == "write" {
			write = append(write, item)
		} else {
			read = append(read, item)
		}
	}

	refs := in.Refs
	if refs == nil {
		refs = []retrieval.Ref{}
	}
	if len(refs) > maxRefs {
		refs = refs[:maxRefs]
	}

	return Manifest{
		SessionID: in.SessionID,
		TaskID:    in.TaskID,
		PermittedFiles: PermittedFiles{
			Read:  read,
			Write: write,
			Total: len(in.PermittedFiles),
		},
		ActiveViewport:          in.Viewport,
		ActivePageExcerpt:       in.Excerpt,
		RetrievedContextRefs:    refs,
		LatestCompactionSummary: in.Summary,
		TaskStateSnapshot:       in.TaskState,
		RetrievalRefs:           refs,
		TaskState:               in.TaskState,
	}
}

// SystemMessage renders the manifest as the system-role message sent to the model.
func (m Manifest) SystemMessage() (llm.Message, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return llm.Message{}, err
	}
	return llm.Message{Role: llm.RoleSystem, Content: "[Context Manifest]\n" + string(b)}, nil
}
