package main

import (
	"context"
	"time"
)

// Каждая логическая операция реализована здесь ровно один раз и вызывается
// и типизированным REST-обработчиком, и sync-диспетчером. Оба пути видят
// одно и то же состояние и возвращают одинаковую форму ответа.

// threadPostInput — запрос создания треда, опционально с первым контентом.
type threadPostInput struct {
	Title       string     `json:"title"`
	Type        ThreadType `json:"type"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags"`
	Content     []Block    `json:"content"`
}

// threadListInput — фильтр списка тредов.
type threadListInput struct {
	Status ThreadStatus `json:"status"`
}

// threadListResult — список тредов владельца.
type threadListResult struct {
	Threads []Thread `json:"threads"`
}

// threadDataInput — запрос треда вместе с его контентом.
type threadDataInput struct {
	ThreadID string `json:"threadId"`
}

// threadDataResult — тред и версии его контента.
type threadDataResult struct {
	Thread   Thread    `json:"thread"`
	Contents []Content `json:"contents"`
}

// threadEditInput — частичное обновление треда; отсутствующие поля не меняются.
type threadEditInput struct {
	ID          string    `json:"id"`
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
}

// threadDeleteInput — мягкое удаление треда.
type threadDeleteInput struct {
	ID string `json:"id"`
}

// contentPostInput — создание новой версии контента.
type contentPostInput struct {
	ThreadID string  `json:"threadId"`
	Blocks   []Block `json:"blocks"`
}

// contentListInput — запрос версий контента треда.
type contentListInput struct {
	ThreadID string `json:"threadId"`
}

// contentListResult — версии контента по убыванию версии.
type contentListResult struct {
	Contents []Content `json:"contents"`
}

// commentPostInput — создание комментария.
type commentPostInput struct {
	ThreadID string `json:"threadId"`
	ParentID string `json:"parentId"`
	Content  string `json:"content"`
}

// commentListInput — запрос комментариев треда.
type commentListInput struct {
	ThreadID string `json:"threadId"`
}

// commentListResult — активные комментарии, новые первыми.
type commentListResult struct {
	Comments []Comment `json:"comments"`
}

// commentEditInput — правка текста комментария.
type commentEditInput struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// commentDeleteInput — мягкое удаление комментария.
type commentDeleteInput struct {
	ID string `json:"id"`
}

// taskPostInput — запрос создания задачи. Срок приходит в поле deadline,
// в ответе задача отдает его как dueDate.
type taskPostInput struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    TaskPriority `json:"priority"`
	ThreadID    string       `json:"threadId"`
	Deadline    *time.Time   `json:"deadline"`
	Tags        []string     `json:"tags"`
}

// taskListInput — фильтр списка задач; пустой статус означает все.
type taskListInput struct {
	Status TaskStatus `json:"status"`
}

// taskListResult — задачи пользователя и их число.
type taskListResult struct {
	Tasks []Task `json:"tasks"`
	Total int    `json:"total"`
}

// taskEditInput — частичное обновление задачи; отсутствующие поля не меняются.
type taskEditInput struct {
	ID          string        `json:"id"`
	Title       *string       `json:"title"`
	Description *string       `json:"description"`
	Priority    *TaskPriority `json:"priority"`
	Status      *TaskStatus   `json:"status"`
	DueDate     *time.Time    `json:"dueDate"`
	Tags        *[]string     `json:"tags"`
	Subtasks    *[]Subtask    `json:"subtasks"`
}

// taskDeleteInput — удаление задачи.
type taskDeleteInput struct {
	ID string `json:"id"`
}

// messageResult — ответ операций без содержательных данных.
type messageResult struct {
	Message string `json:"message"`
}

// settingsResult — настройки пользователя после чтения или слияния.
type settingsResult struct {
	Settings map[string]any `json:"settings"`
}

// opThreadPost создает тред и, если передан, его первый контент.
// Обе записи выполняются в одной транзакции хранилища.
func opThreadPost(ctx context.Context, store *Store, userID string, in threadPostInput) (Thread, error) {
	return store.CreateThread(ctx, userID, in.Type, in.Title, in.Description, in.Tags, in.Content)
}

// opThreadList возвращает треды владельца.
func opThreadList(ctx context.Context, store *Store, userID string, in threadListInput) (threadListResult, error) {
	threads, err := store.ListThreads(ctx, userID, in.Status)
	if err != nil {
		return threadListResult{}, err
	}
	return threadListResult{Threads: threads}, nil
}

// opThreadData возвращает тред вместе с версиями контента.
func opThreadData(ctx context.Context, store *Store, userID string, in threadDataInput) (threadDataResult, error) {
	thread, err := store.ThreadByID(ctx, userID, in.ThreadID)
	if err != nil {
		return threadDataResult{}, err
	}
	contents, err := store.ListContents(ctx, userID, in.ThreadID)
	if err != nil {
		return threadDataResult{}, err
	}
	return threadDataResult{Thread: thread, Contents: contents}, nil
}

// opThreadEdit применяет частичное обновление треда.
func opThreadEdit(ctx context.Context, store *Store, userID string, in threadEditInput) (Thread, error) {
	return store.UpdateThread(ctx, userID, in.ID, ThreadPatch{
		Title:       in.Title,
		Description: in.Description,
		Tags:        in.Tags,
	})
}

// opThreadDelete мягко удаляет тред.
func opThreadDelete(ctx context.Context, store *Store, userID string, in threadDeleteInput) (messageResult, error) {
	if err := store.SoftDeleteThread(ctx, userID, in.ID); err != nil {
		return messageResult{}, err
	}
	return messageResult{Message: "thread deleted"}, nil
}

// opContentPost создает новую версию контента треда.
func opContentPost(ctx context.Context, store *Store, userID string, in contentPostInput) (Content, error) {
	return store.CreateContent(ctx, userID, in.ThreadID, in.Blocks)
}

// opContentList возвращает версии контента треда.
func opContentList(ctx context.Context, store *Store, userID string, in contentListInput) (contentListResult, error) {
	contents, err := store.ListContents(ctx, userID, in.ThreadID)
	if err != nil {
		return contentListResult{}, err
	}
	return contentListResult{Contents: contents}, nil
}

// opCommentPost создает комментарий к треду.
func opCommentPost(ctx context.Context, store *Store, userID string, in commentPostInput) (Comment, error) {
	return store.CreateComment(ctx, userID, in.ThreadID, in.ParentID, in.Content)
}

// opCommentList возвращает комментарии треда.
func opCommentList(ctx context.Context, store *Store, userID string, in commentListInput) (commentListResult, error) {
	comments, err := store.ListComments(ctx, userID, in.ThreadID)
	if err != nil {
		return commentListResult{}, err
	}
	return commentListResult{Comments: comments}, nil
}

// opCommentEdit правит текст комментария.
func opCommentEdit(ctx context.Context, store *Store, userID string, in commentEditInput) (Comment, error) {
	return store.UpdateComment(ctx, userID, in.ID, in.Content)
}

// opCommentDelete мягко удаляет комментарий.
func opCommentDelete(ctx context.Context, store *Store, userID string, in commentDeleteInput) (messageResult, error) {
	if err := store.SoftDeleteComment(ctx, userID, in.ID); err != nil {
		return messageResult{}, err
	}
	return messageResult{Message: "comment deleted"}, nil
}

// opTaskPost создает задачу.
func opTaskPost(ctx context.Context, store *Store, userID string, in taskPostInput) (Task, error) {
	return store.CreateTask(ctx, userID, TaskDraft{
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		ThreadID:    in.ThreadID,
		DueDate:     in.Deadline,
		Tags:        in.Tags,
	})
}

// opTaskList возвращает задачи пользователя.
func opTaskList(ctx context.Context, store *Store, userID string, in taskListInput) (taskListResult, error) {
	tasks, err := store.ListTasks(ctx, userID, in.Status)
	if err != nil {
		return taskListResult{}, err
	}
	return taskListResult{Tasks: tasks, Total: len(tasks)}, nil
}

// opTaskEdit применяет частичное обновление задачи.
func opTaskEdit(ctx context.Context, store *Store, userID string, in taskEditInput) (Task, error) {
	return store.UpdateTask(ctx, userID, in.ID, TaskPatch{
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		Status:      in.Status,
		DueDate:     in.DueDate,
		Tags:        in.Tags,
		Subtasks:    in.Subtasks,
	})
}

// opTaskDelete удаляет задачу.
func opTaskDelete(ctx context.Context, store *Store, userID string, in taskDeleteInput) (messageResult, error) {
	if err := store.DeleteTask(ctx, userID, in.ID); err != nil {
		return messageResult{}, err
	}
	return messageResult{Message: "task deleted"}, nil
}

// opSettingsGet читает настройки пользователя.
func opSettingsGet(ctx context.Context, store *Store, userID string) (settingsResult, error) {
	settings, err := store.Settings(ctx, userID)
	if err != nil {
		return settingsResult{}, err
	}
	return settingsResult{Settings: settings}, nil
}

// opSettingsUpdate вливает переданные ключи в настройки пользователя.
func opSettingsUpdate(ctx context.Context, store *Store, userID string, partial map[string]any) (settingsResult, error) {
	settings, err := store.MergeSettings(ctx, userID, partial)
	if err != nil {
		return settingsResult{}, err
	}
	return settingsResult{Settings: settings}, nil
}
