package main

import (
	"time"

	"gorm.io/datatypes"
)

// ThreadType определяет тип треда (заметки).
type ThreadType string

// Поддерживаемые типы тредов.
const (
	ThreadTypeNote     ThreadType = "note"
	ThreadTypeTodo     ThreadType = "todo"
	ThreadTypeCalendar ThreadType = "calendar"
)

// Valid сообщает, известен ли тип треда.
func (t ThreadType) Valid() bool {
	switch t {
	case ThreadTypeNote, ThreadTypeTodo, ThreadTypeCalendar:
		return true
	}
	return false
}

// ThreadStatus определяет состояние треда.
type ThreadStatus string

// Состояния треда.
const (
	ThreadStatusActive   ThreadStatus = "active"
	ThreadStatusArchived ThreadStatus = "archived"
	ThreadStatusDeleted  ThreadStatus = "deleted"
)

// Valid сообщает, известен ли статус треда.
func (s ThreadStatus) Valid() bool {
	switch s {
	case ThreadStatusActive, ThreadStatusArchived, ThreadStatusDeleted:
		return true
	}
	return false
}

// BlockType определяет тип блока контента.
type BlockType string

// Распознаваемые типы блоков.
const (
	BlockTypeText      BlockType = "text"
	BlockTypeHeading   BlockType = "heading"
	BlockTypeList      BlockType = "list"
	BlockTypeChecklist BlockType = "checklist"
	BlockTypeCode      BlockType = "code"
	BlockTypeQuote     BlockType = "quote"
	BlockTypeDivider   BlockType = "divider"
	BlockTypeImage     BlockType = "image"
	BlockTypeFile      BlockType = "file"
	BlockTypeTable     BlockType = "table"
)

// Valid сообщает, распознан ли тип блока.
func (t BlockType) Valid() bool {
	switch t {
	case BlockTypeText, BlockTypeHeading, BlockTypeList, BlockTypeChecklist,
		BlockTypeCode, BlockTypeQuote, BlockTypeDivider, BlockTypeImage,
		BlockTypeFile, BlockTypeTable:
		return true
	}
	return false
}

// TaskPriority определяет приоритет задачи.
type TaskPriority string

// Приоритеты задач.
const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityUrgent TaskPriority = "urgent"
)

// Valid сообщает, известен ли приоритет задачи.
func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh, TaskPriorityUrgent:
		return true
	}
	return false
}

// TaskStatus определяет состояние задачи.
type TaskStatus string

// Состояния задачи.
const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Valid сообщает, известно ли состояние задачи.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled:
		return true
	}
	return false
}

// TokenKind различает access- и refresh-токены в реестре.
type TokenKind string

// Виды токенов.
const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// UserStatusActive — единственный статус пользователя в этом ядре.
const UserStatusActive = "active"

// Состояния комментария.
const (
	CommentStatusActive  = "active"
	CommentStatusDeleted = "deleted"
)

// User описывает учетную запись. Хеш пароля никогда не сериализуется.
type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"_id"`
	Username     string    `gorm:"uniqueIndex;size:64" json:"username"`
	Email        string    `gorm:"uniqueIndex;size:254" json:"email"`
	PasswordHash string    `gorm:"size:128" json:"-"`
	Status       string    `gorm:"size:16" json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Token — строка реестра выданных токенов. ID совпадает с jti в JWT.
type Token struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"index;size:36"`
	Kind      TokenKind `gorm:"size:16;index"`
	ExpiresAt time.Time `gorm:"index"`
	Revoked   bool      `gorm:"index"`
	CreatedAt time.Time
}

// Thread описывает тред (контейнер заметки) пользователя.
type Thread struct {
	ID          string                      `gorm:"primaryKey;size:36" json:"_id"`
	UserID      string                      `gorm:"index;size:36" json:"userId"`
	Type        ThreadType                  `gorm:"size:16" json:"type"`
	Title       string                      `gorm:"size:512" json:"title"`
	Description string                      `json:"description"`
	Tags        datatypes.JSONSlice[string] `json:"tags"`
	Status      ThreadStatus                `gorm:"size:16;index" json:"status"`
	CreatedAt   time.Time                   `json:"createdAt"`
	UpdatedAt   time.Time                   `json:"updatedAt"`
}

// Block — один типизированный фрагмент контента.
type Block struct {
	Type       BlockType      `json:"type"`
	Content    string         `json:"content"`
	Properties map[string]any `json:"properties,omitempty"`
	Order      int            `json:"order"`
}

// Content — упорядоченный список блоков, привязанный к треду.
// Версия монотонно растет в пределах треда; уникальный индекс по
// (thread_id, version) исключает дубликаты при конкурирующих записях.
type Content struct {
	ID        string                     `gorm:"primaryKey;size:36" json:"_id"`
	ThreadID  string                     `gorm:"index;size:36;uniqueIndex:uniq_content_version" json:"threadId"`
	UserID    string                     `gorm:"index;size:36" json:"userId"`
	Version   int                        `gorm:"uniqueIndex:uniq_content_version" json:"version"`
	Blocks    datatypes.JSONSlice[Block] `json:"blocks"`
	CreatedAt time.Time                  `json:"createdAt"`
	UpdatedAt time.Time                  `json:"updatedAt"`
}

// Comment — комментарий к треду, опционально вложенный.
type Comment struct {
	ID        string    `gorm:"primaryKey;size:36" json:"_id"`
	ThreadID  string    `gorm:"index;size:36" json:"threadId"`
	UserID    string    `gorm:"index;size:36" json:"userId"`
	ParentID  string    `gorm:"size:36" json:"parentId,omitempty"`
	Content   string    `json:"content"`
	Status    string    `gorm:"size:16;index" json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Subtask — вложенный пункт задачи, хранится внутри JSON-колонки задачи.
type Subtask struct {
	Title       string     `json:"title"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Task — задача пользователя, опционально привязанная к треду.
type Task struct {
	ID          string                       `gorm:"primaryKey;size:36" json:"_id"`
	UserID      string                       `gorm:"index;size:36" json:"userId"`
	ThreadID    string                       `gorm:"index;size:36" json:"threadId,omitempty"`
	Title       string                       `gorm:"size:200" json:"title"`
	Description string                       `gorm:"size:2000" json:"description"`
	Priority    TaskPriority                 `gorm:"size:16;index" json:"priority"`
	Status      TaskStatus                   `gorm:"size:16;index" json:"status"`
	DueDate     *time.Time                   `gorm:"index" json:"dueDate,omitempty"`
	CompletedAt *time.Time                   `json:"completedAt,omitempty"`
	Tags        datatypes.JSONSlice[string]  `json:"tags"`
	Subtasks    datatypes.JSONSlice[Subtask] `json:"subtasks"`
	CreatedAt   time.Time                    `json:"createdAt"`
	UpdatedAt   time.Time                    `json:"updatedAt"`
}

// Settings хранит настройки пользователя как открытое множество ключей.
// Version служит для оптимистичной проверки при слиянии.
type Settings struct {
	UserID    string            `gorm:"primaryKey;size:36"`
	Data      datatypes.JSONMap `gorm:"type:json"`
	Version   int
	UpdatedAt time.Time
}

// BotLink связывает Telegram-чат с учетной записью бэкенда.
type BotLink struct {
	ChatID    int64  `gorm:"primaryKey"`
	UserID    string `gorm:"index;size:36"`
	CreatedAt time.Time
}
