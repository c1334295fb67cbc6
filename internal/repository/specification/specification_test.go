package specification

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type chunkRow struct {
	Id uuid.UUID
}

func (chunkRow) TableName() string { return "document_chunks" }

// dryRunDB builds SQL without a live connection.
func dryRunDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost dbname=x", PreferSimpleProtocol: true}), &gorm.Config{
		DryRun:                 true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open dry run db: %v", err)
	}
	return db
}

func buildSQL(db *gorm.DB, specs ...Specification) string {
	q := db.Model(&chunkRow{})
	for _, s := range specs {
		q = s.Apply(q)
	}
	var rows []chunkRow
	stmt := q.Find(&rows).Statement
	return stmt.SQL.String()
}

func TestSpecifications_BuildExpectedClauses(t *testing.T) {
	db := dryRunDB(t)
	fileID := uuid.New()

	tests := []struct {
		name  string
		specs []Specification
		want  []string
	}{
		{"file and reading order", []Specification{ByFileID{FileID: fileID}, ChunkOrder{}}, []string{"file_id = $1", "ORDER BY page ASC,chunk_index ASC"}},
		{"open page range", []Specification{PageRange{Start: 2}}, []string{"page >= $1"}},
		{"closed page range", []Specification{PageRange{Start: 2, End: 4}}, []string{"page >= $1", "page <= $2"}},
		{"pagination", []Specification{Pagination{Limit: 10, Offset: 5}}, []string{"LIMIT", "OFFSET"}},
		{"desc ordering", []Specification{OrderBy{Field: "sequence", Desc: true}}, []string{"ORDER BY sequence DESC"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql := buildSQL(db, tt.specs...)
			for _, fragment := range tt.want {
				assert.Contains(t, sql, fragment)
			}
		})
	}
}

func TestPagination_ZeroLimitIsUnbounded(t *testing.T) {
	sql := buildSQL(dryRunDB(t), Pagination{})
	assert.NotContains(t, sql, "LIMIT")
}
