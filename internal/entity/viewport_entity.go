package entity

import "time"

// Viewport is the last known reading position of a user in one file.
type Viewport struct {
	FileId       string    `json:"file_id"`
	FileName     string    `json:"file_name"`
	FileType     string    `json:"file_type"`
	Page         int       `json:"page"`
	ScrollY      float64   `json:"scroll_y"`
	VisibleRange [2]int    `json:"visible_range"`
	Timestamp    time.Time `json:"timestamp"`
}
