package tools

// Tool names.
const (
	ReadDocument          = "read_document"
	UpdateDocument        = "update_document"
	AppendDocument        = "append_document"
	SearchDocuments       = "search_documents"
	UpdateBlock           = "update_block"
	InsertBlock           = "insert_block"
	DeleteBlock           = "delete_block"
	GetPdfMetadata        = "get_pdf_metadata"
	ReadPdfPages          = "read_pdf_pages"
	SearchPdfPassages     = "search_pdf_passages"
	ReadVisiblePdfContext = "read_visible_pdf_context"
)

// Argument structs, one per tool name. Decoded from the model's JSON and
// checked with the validate tags before the tool runs.

type ReadDocumentArgs struct {
	FileID string `json:"file_id" validate:"required,uuid"`
}

type UpdateDocumentArgs struct {
	FileID  string `json:"file_id" validate:"required,uuid"`
	Content string `json:"content" validate:"required,maxbytes=1000000"`
	Summary string `json:"summary" validate:"omitempty,max=500"`
}

type AppendDocumentArgs struct {
	FileID  string `json:"file_id" validate:"required,uuid"`
	Content string `json:"content" validate:"required,maxbytes=500000"`
	Summary string `json:"summary" validate:"omitempty,max=500"`
}

type SearchDocumentsArgs struct {
	Query    string   `json:"query" validate:"required,notblank,max=1000"`
	FileIDs  []string `json:"file_ids" validate:"omitempty,dive,uuid"`
	NResults *int     `json:"n_results" validate:"omitempty,min=1,max=20"`
}

type UpdateBlockArgs struct {
	FileID     string `json:"file_id" validate:"required,uuid"`
	BlockIndex *int   `json:"block_index" validate:"required,min=0"`
	Content    string `json:"content" validate:"required,maxbytes=500000"`
	Summary    string `json:"summary" validate:"required,max=500"`
}

type InsertBlockArgs struct {
	FileID          string `json:"file_id" validate:"required,uuid"`
	AfterBlockIndex *int   `json:"after_block_index" validate:"required,min=-1"`
	Content         string `json:"content" validate:"required,maxbytes=500000"`
	Summary         string `json:"summary" validate:"required,max=500"`
}

type DeleteBlockArgs struct {
	FileID     string `json:"file_id" validate:"required,uuid"`
	BlockIndex *int   `json:"block_index" validate:"required,min=0"`
	Summary    string `json:"summary" validate:"required,max=500"`
}

type GetPdfMetadataArgs struct {
	FileID string `json:"file_id" validate:"required,uuid"`
}

type ReadPdfPagesArgs struct {
	FileID          string `json:"file_id" validate:"required,uuid"`
	PageStart       int    `json:"page_start" validate:"required,min=1"`
	PageEnd         int    `json:"page_end" validate:"required,min=1,gtefield=PageStart"`
	MaxCharsPerPage *int   `json:"max_chars_per_page" validate:"omitempty,min=1"`
}

type SearchPdfPassagesArgs struct {
	FileID    string `json:"file_id" validate:"required,uuid"`
	Query     string `json:"query" validate:"required,notblank,max=1000"`
	TopK      *int   `json:"top_k" validate:"omitempty,min=1,max=50"`
	PageStart *int   `json:"page_start" validate:"omitempty,min=1"`
	PageEnd   *int   `json:"page_end" validate:"omitempty,min=1"`
}

type ReadVisiblePdfContextArgs struct{}

// IntOr dereferences v, or returns def when v is nil.
func IntOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
