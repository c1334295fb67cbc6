package integration

import (
	"context"
	"log"
	"os"
	"testing"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/model"
	"knowledge-agent-be/internal/repository/specification"
	"knowledge-agent-be/internal/repository/unitofwork"
	"knowledge-agent-be/pkg/database"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	if err := godotenv.Load("../../.env"); err != nil {
		log.Println("No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		t.Skip("Skipping integration test: DB_CONNECTION_STRING not set")
	}

	db, err := database.Open(dsn, false, database.DefaultPool)
	require.NoError(t, err, "Failed to connect to DB")

	require.NoError(t, db.Exec(`CREATE EXTENSION IF NOT EXISTS vector;`).Error)
	require.NoError(t, db.AutoMigrate(
		&model.WorkspaceFile{},
		&model.DocumentChunk{},
		&model.ChatSession{},
		&model.ChatMessage{},
		&model.ConversationCompaction{},
		&model.SessionTaskState{},
		&model.EditProposal{},
	))
	return db
}

func TestGormConnection(t *testing.T) {
	db := openTestDB(t)
	uowFactory := unitofwork.NewRepositoryFactory(db)
	ctx := context.Background()

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Ping())

	t.Run("Session, messages and task state round trip", func(t *testing.T) {
		sessionID := uuid.New()

		uow := uowFactory.NewUnitOfWork(ctx)
		require.NoError(t, uow.Begin(ctx))
		defer uow.Rollback()

		require.NoError(t, uow.ChatSessionRepository().Create(ctx, &entity.ChatSession{
			Id:          sessionID,
			Name:        "Integration session",
			Permissions: map[string]string{uuid.NewString(): "read"},
		}))

		taskID := uuid.NewString()
		for _, m := range []*entity.ChatMessage{
			{ChatSessionId: sessionID, Role: "user", Content: "hello", TaskId: taskID, Status: entity.MessageStatusCompleted},
			{ChatSessionId: sessionID, Role: "assistant", Content: "hi", TaskId: taskID, Status: entity.MessageStatusCompleted,
				ToolCalls: []entity.MessageToolCall{{Id: "c1", Name: "read_document", Arguments: `{"file_id":"x"}`}}},
		} {
			require.NoError(t, uow.ChatMessageRepository().Create(ctx, m))
		}

		require.NoError(t, uow.SessionTaskStateRepository().Upsert(ctx, &entity.SessionTaskState{
			ChatSessionId: sessionID,
			TaskId:        taskID,
			State:         "done",
			Goal:          "hello",
			CurrentStep:   1,
			TotalSteps:    1,
		}))
		require.NoError(t, uow.Commit())

		read := uowFactory.NewUnitOfWork(ctx)
		msgs, err := read.ChatMessageRepository().FindAll(ctx,
			specification.ByChatSessionID{ChatSessionID: sessionID},
			specification.OrderBy{Field: "created_at"},
		)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "user", msgs[0].Role)
		require.Len(t, msgs[1].ToolCalls, 1)
		assert.Equal(t, "read_document", msgs[1].ToolCalls[0].Name)

		state, err := read.SessionTaskStateRepository().FindByChatSessionID(ctx, sessionID)
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Equal(t, "done", state.State)

		// Cleanup
		cleanup := uowFactory.NewUnitOfWork(ctx)
		assert.NoError(t, cleanup.ChatMessageRepository().DeleteByChatSessionID(ctx, sessionID))
		assert.NoError(t, cleanup.SessionTaskStateRepository().DeleteByChatSessionID(ctx, sessionID))
		assert.NoError(t, cleanup.ChatSessionRepository().Delete(ctx, sessionID))
	})

	t.Run("Workspace files are countable", func(t *testing.T) {
		count, err := uowFactory.NewUnitOfWork(ctx).WorkspaceFileRepository().Count(ctx)
		assert.NoError(t, err)
		t.Logf("Workspace file count: %d", count)
	})
}
