package handlers

import (
	"context"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/pkg/agent/permission"
	"knowledge-agent-be/pkg/agent/tools"
)

type ReadDocumentTool struct{}

func (t *ReadDocumentTool) Name() string { return tools.ReadDocument }

func (t *ReadDocumentTool) Description() string {
	return "Read the full content of a document. Supports markdown (.md), PDF (.pdf), Word (.docx), code and text (.txt) files."
}

func (t *ReadDocumentTool) RequiredPermission() permission.Level { return permission.LevelRead }

func (t *ReadDocumentTool) WritableOnly() bool { return false }

func (t *ReadDocumentTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{
		"file_id": prop("string", "The ID of the file to read"),
	}, "file_id")
}

func (t *ReadDocumentTool) NewArgs() interface{} { return &tools.ReadDocumentArgs{} }

func (t *ReadDocumentTool) Execute(ctx context.Context, raw interface{}, ec *tools.ExecContext) (*tools.Result, error) {
	args := raw.(*tools.ReadDocumentArgs)

	file, err := loadFile(ctx, ec, args.FileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return tools.Fail(CodeFileNotFound, "File not found: %s", args.FileID), nil
	}

	var content string
	switch file.FileType {
	case entity.FileTypeMD, entity.FileTypeTxt, entity.FileTypeCode:
		content = file.Content
	case entity.FileTypePDF:
		text, n, err := pageText(ctx, ec, file.Id)
		if err != nil {
			return nil, err
		}
		content = text
		if n == 0 {
			content = "[PDF content not available]"
		}
	case entity.FileTypeDocx:
		content = "[DOCX content not available]"
		if text, ok := file.Meta["text_content"].(string); ok {
			content = text
		}
	default:
		content = "[Unsupported file type: " + file.FileType + "]"
	}

	return tools.OK(map[string]interface{}{
		"file_id":   file.Id.String(),
		"file_name": file.Name,
		"file_type": file.FileType,
		"content":   content,
		"size":      file.Size,
	}), nil
}
