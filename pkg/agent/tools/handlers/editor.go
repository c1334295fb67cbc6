package handlers

import (
	"context"
	"strings"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/pkg/agent/budget"
	"knowledge-agent-be/pkg/agent/permission"
	"knowledge-agent-be/pkg/agent/tools"
)

const blockSeparator = "\n\n"

// writeTool carries what every editor tool shares.
type writeTool struct {
	proposer *Proposer
}

func (writeTool) RequiredPermission() permission.Level { return permission.LevelWrite }

func (writeTool) WritableOnly() bool { return true }

// target loads the file and checks that edits of this kind apply to it.
func (w writeTool) target(ctx context.Context, ec *tools.ExecContext, fileID string, markdownOnly bool) (*entity.WorkspaceFile, *tools.Result, error) {
	file, err := loadFile(ctx, ec, fileID)
	if err != nil {
		return nil, nil, err
	}
	if file == nil {
		return nil, tools.Fail(CodeFileNotFound, "File not found: %s", fileID), nil
	}
	if markdownOnly && file.FileType != entity.FileTypeMD {
		return nil, tools.Fail(CodeFileNotWritable, "Block edits are only supported for Markdown files. This is a .%s file.", file.FileType), nil
	}
	if !permission.WritableTypes[file.FileType] {
		return nil, tools.Fail(CodeFileNotWritable, "Only markdown (.md) and text (.txt) files can be edited. This is a .%s file.", file.FileType), nil
	}
	return file, nil, nil
}

type UpdateDocumentTool struct{ writeTool }

func NewUpdateDocumentTool(p *Proposer) *UpdateDocumentTool {
	return &UpdateDocumentTool{writeTool{proposer: p}}
}

func (t *UpdateDocumentTool) Name() string { return tools.UpdateDocument }

func (t *UpdateDocumentTool) Description() string {
	return "Propose replacing the entire content of a markdown or text file. The change is saved as a pending edit for the user to review."
}

func (t *UpdateDocumentTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{
		"file_id": prop("string", "The ID of the file to update"),
		"content": prop("string", "The new full content for the file"),
		"summary": prop("string", "A brief description of the changes"),
	}, "file_id", "content")
}

func (t *UpdateDocumentTool) NewArgs() interface{} { return &tools.UpdateDocumentArgs{} }

func (t *UpdateDocumentTool) Execute(ctx context.Context, raw interface{}, ec *tools.ExecContext) (*tools.Result, error) {
	args := raw.(*tools.UpdateDocumentArgs)
	file, fail, err := t.target(ctx, ec, args.FileID, false)
	if fail != nil || err != nil {
		return fail, err
	}
	summary := args.Summary
	if summary == "" {
		summary = "Content updated by agent"
	}

	before, err := t.proposer.BaseContent(ctx, ec, file)
	if err != nil {
		return nil, err
	}
	proposal, stats, err := t.proposer.Propose(ctx, ec, t.Name(), file, summary, before, args.Content)
	if err != nil {
		return nil, err
	}
	data := proposalData(file, proposal, stats)
	data["size"] = len(args.Content)
	return tools.OK(data), nil
}

type AppendDocumentTool struct{ writeTool }

func NewAppendDocumentTool(p *Proposer) *AppendDocumentTool {
	return &AppendDocumentTool{writeTool{proposer: p}}
}

func (t *AppendDocumentTool) Name() string { return tools.AppendDocument }

func (t *AppendDocumentTool) Description() string {
	return "Propose appending content to the end of a markdown or text file. A blank line is added before the new content if needed."
}

func (t *AppendDocumentTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{
		"file_id": prop("string", "The ID of the file to append to"),
		"content": prop("string", "The content to append"),
		"summary": prop("string", "A brief description of the changes"),
	}, "file_id", "content")
}

func (t *AppendDocumentTool) NewArgs() interface{} { return &tools.AppendDocumentArgs{} }

func (t *AppendDocumentTool) Execute(ctx context.Context, raw interface{}, ec *tools.ExecContext) (*tools.Result, error) {
	args := raw.(*tools.AppendDocumentArgs)
	file, fail, err := t.target(ctx, ec, args.FileID, false)
	if fail != nil || err != nil {
		return fail, err
	}
	summary := args.Summary
	if summary == "" {
		summary = "Content appended by agent"
	}

	before, err := t.proposer.BaseContent(ctx, ec, file)
	if err != nil {
		return nil, err
	}
	after := appendWithSeparator(before, args.Content)

	proposal, stats, err := t.proposer.Propose(ctx, ec, t.Name(), file, summary, before, after)
	if err != nil {
		return nil, err
	}
	data := proposalData(file, proposal, stats)
	data["previous_size"] = len(before)
	data["new_size"] = len(after)
	data["appended_length"] = len(args.Content)
	return tools.OK(data), nil
}

func appendWithSeparator(existing, addition string) string {
	switch {
	case existing == "":
		return addition
	case strings.HasSuffix(existing, "\n"):
		return existing + "\n" + addition
	default:
		return existing + "\n\n" + addition
	}
}

type UpdateBlockTool struct{ writeTool }

func NewUpdateBlockTool(p *Proposer) *UpdateBlockTool {
	return &UpdateBlockTool{writeTool{proposer: p}}
}

func (t *UpdateBlockTool) Name() string { return tools.UpdateBlock }

func (t *UpdateBlockTool) Description() string {
	return "Propose replacing one block (paragraph) of a Markdown file. Blocks are separated by blank lines and 0-indexed."
}

func (t *UpdateBlockTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{
		"file_id":     prop("string", "The ID of the file to update"),
		"block_index": prop("integer", "The index of the block to update (0-based)"),
		"content":     prop("string", "The new content for the block"),
		"summary":     prop("string", "A short summary of the change"),
	}, "file_id", "block_index", "content", "summary")
}

func (t *UpdateBlockTool) NewArgs() interface{} { return &tools.UpdateBlockArgs{} }

func (t *UpdateBlockTool) Execute(ctx context.Context, raw interface{}, ec *tools.ExecContext) (*tools.Result, error) {
	args := raw.(*tools.UpdateBlockArgs)
	file, fail, err := t.target(ctx, ec, args.FileID, true)
	if fail != nil || err != nil {
		return fail, err
	}
	before, err := t.proposer.BaseContent(ctx, ec, file)
	if err != nil {
		return nil, err
	}

	blocks := strings.Split(before, blockSeparator)
	idx := *args.BlockIndex
	if idx >= len(blocks) {
		return tools.Fail(CodeBlockOutOfRange, "Block index %d out of range (0-%d)", idx, len(blocks)-1), nil
	}
	blocks[idx] = args.Content
	after := strings.Join(blocks, blockSeparator)

	proposal, stats, err := t.proposer.Propose(ctx, ec, t.Name(), file, args.Summary, before, after)
	if err != nil {
		return nil, err
	}
	data := proposalData(file, proposal, stats)
	data["block_index"] = idx
	return tools.OK(data), nil
}

type InsertBlockTool struct{ writeTool }

func NewInsertBlockTool(p *Proposer) *InsertBlockTool {
	return &InsertBlockTool{writeTool{proposer: p}}
}

func (t *InsertBlockTool) Name() string { return tools.InsertBlock }

func (t *InsertBlockTool) Description() string {
	return "Propose inserting a new block (paragraph) into a Markdown file after the given block index. Use -1 to insert at the beginning."
}

func (t *InsertBlockTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{
		"file_id":           prop("string", "The ID of the file to update"),
		"after_block_index": prop("integer", "The block after which to insert; -1 inserts at the beginning"),
		"content":           prop("string", "The content of the new block"),
		"summary":           prop("string", "A short summary of the insertion"),
	}, "file_id", "after_block_index", "content", "summary")
}

func (t *InsertBlockTool) NewArgs() interface{} { return &tools.InsertBlockArgs{} }

func (t *InsertBlockTool) Execute(ctx context.Context, raw interface{}, ec *tools.ExecContext) (*tools.Result, error) {
	args := raw.(*tools.InsertBlockArgs)
	file, fail, err := t.target(ctx, ec, args.FileID, true)
	if fail != nil || err != nil {
		return fail, err
	}
	before, err := t.proposer.BaseContent(ctx, ec, file)
	if err != nil {
		return nil, err
	}

	blocks := strings.Split(before, blockSeparator)
	after := *args.AfterBlockIndex
	if after >= len(blocks) {
		return tools.Fail(CodeBlockOutOfRange, "Block index %d out of range (-1-%d)", after, len(blocks)-1), nil
	}
	blocks = append(blocks[:after+1], append([]string{args.Content}, blocks[after+1:]...)...)
	updated := strings.Join(blocks, blockSeparator)

	proposal, stats, err := t.proposer.Propose(ctx, ec, t.Name(), file, args.Summary, before, updated)
	if err != nil {
		return nil, err
	}
	data := proposalData(file, proposal, stats)
	data["after_block_index"] = after
	return tools.OK(data), nil
}

type DeleteBlockTool struct{ writeTool }

func NewDeleteBlockTool(p *Proposer) *DeleteBlockTool {
	return &DeleteBlockTool{writeTool{proposer: p}}
}

func (t *DeleteBlockTool) Name() string { return tools.DeleteBlock }

func (t *DeleteBlockTool) Description() string {
	return "Propose deleting one block (paragraph) of a Markdown file."
}

func (t *DeleteBlockTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{
		"file_id":     prop("string", "The ID of the file to update"),
		"block_index": prop("integer", "The index of the block to delete"),
		"summary":     prop("string", "A short summary of the deletion"),
	}, "file_id", "block_index", "summary")
}

func (t *DeleteBlockTool) NewArgs() interface{} { return &tools.DeleteBlockArgs{} }

func (t *DeleteBlockTool) Execute(ctx context.Context, raw interface{}, ec *tools.ExecContext) (*tools.Result, error) {
	args := raw.(*tools.DeleteBlockArgs)
	file, fail, err := t.target(ctx, ec, args.FileID, true)
	if fail != nil || err != nil {
		return fail, err
	}
	before, err := t.proposer.BaseContent(ctx, ec, file)
	if err != nil {
		return nil, err
	}

	blocks := strings.Split(before, blockSeparator)
	idx := *args.BlockIndex
	if idx >= len(blocks) {
		return tools.Fail(CodeBlockOutOfRange, "Block index %d out of range (0-%d)", idx, len(blocks)-1), nil
	}
	deleted := blocks[idx]
	blocks = append(blocks[:idx], blocks[idx+1:]...)
	after := strings.Join(blocks, blockSeparator)

	proposal, stats, err := t.proposer.Propose(ctx, ec, t.Name(), file, args.Summary, before, after)
	if err != nil {
		return nil, err
	}
	data := proposalData(file, proposal, stats)
	data["block_index"] = idx
	data["deleted_preview"] = budget.ShortText(deleted, 50)
	return tools.OK(data), nil
}
