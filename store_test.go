package main

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// newTestStore открывает хранилище на временном sqlite-файле.
// Транзакции начинаются immediate, чтобы конкурентные писатели в тестах
// ждали блокировку вместо немедленного SQLITE_BUSY.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=10000&_txlock=immediate"
	store, err := OpenStore(sqlite.Open(dsn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newTestUser регистрирует пользователя для теста.
func newTestUser(t *testing.T, store *Store, username string) User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), username, username+"@example.com", "secret-pass-1")
	require.NoError(t, err)
	return user
}

func TestCreateUserConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreateUser(ctx, "alice", "alice@example.com", "secret-pass-1")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, UserStatusActive, first.Status)

	_, err = store.CreateUser(ctx, "alice", "other@example.com", "secret-pass-1")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = store.CreateUser(ctx, "bob", "alice@example.com", "secret-pass-1")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = store.CreateUser(ctx, "", "new@example.com", "secret-pass-1")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUserByCredentials(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	byName, err := store.UserByCredentials(ctx, "alice", "secret-pass-1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)

	byEmail, err := store.UserByCredentials(ctx, "Alice@Example.com", "secret-pass-1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	_, err = store.UserByCredentials(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = store.UserByCredentials(ctx, "nobody", "secret-pass-1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestCreateThreadValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	thread, err := store.CreateThread(ctx, user.ID, "", "Milk", "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ThreadTypeNote, thread.Type)
	assert.Equal(t, ThreadStatusActive, thread.Status)
	assert.NotEmpty(t, thread.ID)

	_, err = store.CreateThread(ctx, user.ID, ThreadTypeNote, "", "", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = store.CreateThread(ctx, user.ID, "bogus", "Title", "", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestListThreadsOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	titles := []string{"first", "second", "third"}
	for _, title := range titles {
		_, err := store.CreateThread(ctx, user.ID, ThreadTypeNote, title, "", nil, nil)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	threads, err := store.ListThreads(ctx, user.ID, "")
	require.NoError(t, err)
	require.Len(t, threads, 3)
	// Новые треды первыми.
	assert.Equal(t, "third", threads[0].Title)
	assert.Equal(t, "second", threads[1].Title)
	assert.Equal(t, "first", threads[2].Title)

	// Повторный запрос возвращает то же самое: курсоров нет.
	again, err := store.ListThreads(ctx, user.ID, "")
	require.NoError(t, err)
	assert.Equal(t, threads, again)
}

func TestThreadOwnership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := newTestUser(t, store, "alice")
	bob := newTestUser(t, store, "bob")

	thread, err := store.CreateThread(ctx, alice.ID, ThreadTypeNote, "Private", "", nil, nil)
	require.NoError(t, err)

	// Чужой тред невидим.
	_, err = store.ThreadByID(ctx, bob.ID, thread.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.CreateContent(ctx, bob.ID, thread.ID, []Block{{Type: BlockTypeText, Content: "hi"}})
	assert.ErrorIs(t, err, ErrNotFound)

	title := "Stolen"
	_, err = store.UpdateThread(ctx, bob.ID, thread.ID, ThreadPatch{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)

	threads, err := store.ListThreads(ctx, bob.ID, "")
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestSoftDeleteAndArchiveThread(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	thread, err := store.CreateThread(ctx, user.ID, ThreadTypeNote, "Keep", "", nil, nil)
	require.NoError(t, err)

	archived, err := store.ArchiveThread(ctx, user.ID, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, ThreadStatusArchived, archived.Status)

	active, err := store.ListThreads(ctx, user.ID, ThreadStatusActive)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, store.SoftDeleteThread(ctx, user.ID, thread.ID))
	err = store.SoftDeleteThread(ctx, user.ID, thread.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateContentRejectsUnknownBlockType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	thread, err := store.CreateThread(ctx, user.ID, ThreadTypeNote, "Doc", "", nil, nil)
	require.NoError(t, err)

	_, err = store.CreateContent(ctx, user.ID, thread.ID, []Block{
		{Type: BlockTypeText, Content: "ok", Order: 0},
		{Type: "bogus", Content: "nope", Order: 1},
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Ни одной записи не создано.
	contents, err := store.ListContents(ctx, user.ID, thread.ID)
	require.NoError(t, err)
	assert.Empty(t, contents)
}

func TestContentVersions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	thread, err := store.CreateThread(ctx, user.ID, ThreadTypeNote, "Doc", "", nil, nil)
	require.NoError(t, err)

	first, err := store.CreateContent(ctx, user.ID, thread.ID, []Block{
		{Type: BlockTypeHeading, Content: "Title", Order: 0},
		{Type: BlockTypeText, Content: "Body", Order: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	second, err := store.CreateContent(ctx, user.ID, thread.ID, []Block{
		{Type: BlockTypeText, Content: "Rewritten", Order: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	latest, err := store.LatestContent(ctx, user.ID, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	contents, err := store.ListContents(ctx, user.ID, thread.ID)
	require.NoError(t, err)
	require.Len(t, contents, 2)
	assert.Equal(t, 2, contents[0].Version)

	// Порядок блоков внутри версии сохраняется.
	require.Len(t, contents[1].Blocks, 2)
	assert.Equal(t, BlockTypeHeading, contents[1].Blocks[0].Type)
	assert.Equal(t, BlockTypeText, contents[1].Blocks[1].Type)
}

func TestCommentLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	thread, err := store.CreateThread(ctx, user.ID, ThreadTypeNote, "Doc", "", nil, nil)
	require.NoError(t, err)

	comment, err := store.CreateComment(ctx, user.ID, thread.ID, "", "nice note")
	require.NoError(t, err)
	assert.Equal(t, CommentStatusActive, comment.Status)

	_, err = store.CreateComment(ctx, user.ID, thread.ID, "", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	updated, err := store.UpdateComment(ctx, user.ID, comment.ID, "edited")
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Content)

	require.NoError(t, store.SoftDeleteComment(ctx, user.ID, comment.ID))

	comments, err := store.ListComments(ctx, user.ID, thread.ID)
	require.NoError(t, err)
	assert.Empty(t, comments)

	_, err = store.UpdateComment(ctx, user.ID, comment.ID, "too late")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSettingsMerge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	// До первой записи — значения по умолчанию.
	settings, err := store.Settings(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "system", settings["language"])
	assert.Equal(t, "system", settings["theme"])

	settings, err = store.MergeSettings(ctx, user.ID, map[string]any{"language": "en"})
	require.NoError(t, err)
	assert.Equal(t, "en", settings["language"])

	// Слияние не теряет ранее записанные ключи.
	settings, err = store.MergeSettings(ctx, user.ID, map[string]any{"theme": "dark"})
	require.NoError(t, err)
	assert.Equal(t, "en", settings["language"])
	assert.Equal(t, "dark", settings["theme"])

	// Пустое частичное обновление ничего не меняет.
	settings, err = store.MergeSettings(ctx, user.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "dark", settings["theme"])
}

func TestCreateThreadWithInitialContent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	thread, err := store.CreateThread(ctx, user.ID, ThreadTypeNote, "Doc", "", nil, []Block{
		{Type: BlockTypeHeading, Content: "Title", Order: 0},
	})
	require.NoError(t, err)

	// Первый контент создается вместе с тредом как версия 1.
	latest, err := store.LatestContent(ctx, user.ID, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
	require.Len(t, latest.Blocks, 1)
	assert.Equal(t, BlockTypeHeading, latest.Blocks[0].Type)

	// Нераспознанный блок отклоняет всю операцию: треда нет.
	_, err = store.CreateThread(ctx, user.ID, ThreadTypeNote, "Bad", "", nil, []Block{
		{Type: "bogus", Content: "?", Order: 0},
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	threads, err := store.ListThreads(ctx, user.ID, "")
	require.NoError(t, err)
	require.Len(t, threads, 1)
}

func TestContentVersionUniquePerThread(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	thread, err := store.CreateThread(ctx, user.ID, ThreadTypeNote, "Doc", "", nil, nil)
	require.NoError(t, err)

	first, err := store.CreateContent(ctx, user.ID, thread.ID, nil)
	require.NoError(t, err)
	require.Equal(t, 1, first.Version)

	// Номер версии внутри треда занят уникальным индексом.
	dup := Content{
		ID:       "duplicate-version-row",
		ThreadID: thread.ID,
		UserID:   user.ID,
		Version:  first.Version,
		Blocks:   datatypes.NewJSONSlice([]Block{}),
	}
	err = store.db.WithContext(ctx).Create(&dup).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestConcurrentContentVersions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	thread, err := store.CreateThread(ctx, user.ID, ThreadTypeNote, "Doc", "", nil, nil)
	require.NoError(t, err)

	const writers = 4
	versions := make(chan int, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			content, err := store.CreateContent(ctx, user.ID, thread.ID, []Block{
				{Type: BlockTypeText, Content: "draft", Order: 0},
			})
			assert.NoError(t, err)
			versions <- content.Version
		}()
	}
	wg.Wait()
	close(versions)

	// Каждый писатель получил свой номер, дубликатов нет.
	seen := map[int]bool{}
	for version := range versions {
		assert.False(t, seen[version], "duplicate version %d", version)
		seen[version] = true
	}
	require.Len(t, seen, writers)

	latest, err := store.LatestContent(ctx, user.ID, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, writers, latest.Version)
}

func TestListThreadsRejectsUnknownStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	_, err := store.ListThreads(ctx, user.ID, "bogus")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Пустой фильтр по-прежнему означает активные.
	threads, err := store.ListThreads(ctx, user.ID, "")
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestTaskLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	task, err := store.CreateTask(ctx, user.ID, TaskDraft{Title: "Buy milk"})
	require.NoError(t, err)
	assert.Equal(t, TaskPriorityMedium, task.Priority)
	assert.Equal(t, TaskStatusTodo, task.Status)
	assert.Nil(t, task.CompletedAt)

	due := time.Now().Add(24 * time.Hour)
	urgent, err := store.CreateTask(ctx, user.ID, TaskDraft{
		Title:    "Pay rent",
		Priority: TaskPriorityUrgent,
		DueDate:  &due,
	})
	require.NoError(t, err)
	assert.Equal(t, TaskPriorityUrgent, urgent.Priority)
	require.NotNil(t, urgent.DueDate)

	tasks, err := store.ListTasks(ctx, user.ID, "")
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	// Перевод в completed проставляет время завершения.
	done := TaskStatusCompleted
	completed, err := store.UpdateTask(ctx, user.ID, task.ID, TaskPatch{Status: &done})
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	todo, err := store.ListTasks(ctx, user.ID, TaskStatusTodo)
	require.NoError(t, err)
	require.Len(t, todo, 1)
	assert.Equal(t, urgent.ID, todo[0].ID)

	require.NoError(t, store.DeleteTask(ctx, user.ID, task.ID))
	err = store.DeleteTask(ctx, user.ID, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskValidationAndOwnership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := newTestUser(t, store, "alice")
	bob := newTestUser(t, store, "bob")

	_, err := store.CreateTask(ctx, alice.ID, TaskDraft{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = store.CreateTask(ctx, alice.ID, TaskDraft{Title: "Bad", Priority: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = store.ListTasks(ctx, alice.ID, "bogus")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Привязка к чужому треду невозможна.
	thread, err := store.CreateThread(ctx, alice.ID, ThreadTypeNote, "Private", "", nil, nil)
	require.NoError(t, err)
	_, err = store.CreateTask(ctx, bob.ID, TaskDraft{Title: "Steal", ThreadID: thread.ID})
	assert.ErrorIs(t, err, ErrNotFound)

	// Чужая задача невидима.
	task, err := store.CreateTask(ctx, alice.ID, TaskDraft{Title: "Mine"})
	require.NoError(t, err)
	_, err = store.TaskByID(ctx, bob.ID, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	err = store.DeleteTask(ctx, bob.ID, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBotLink(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := newTestUser(t, store, "alice")
	bob := newTestUser(t, store, "bob")

	_, err := store.ChatUser(ctx, 42)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, store.LinkChat(ctx, 42, alice.ID))
	userID, err := store.ChatUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, userID)

	// Повторная привязка перезаписывает прежнюю.
	require.NoError(t, store.LinkChat(ctx, 42, bob.ID))
	userID, err = store.ChatUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, userID)
}
