package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store управляет хранением всех сущностей бэкенда через GORM.
// Каждая операция ограничена владельцем: чужие ресурсы для вызывающего невидимы.
type Store struct {
	db *gorm.DB
}

// OpenStore открывает подключение к базе данных и выполняет миграции.
// Диалект передается снаружи: postgres в проде, sqlite в тестах.
func OpenStore(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	err = db.WithContext(context.Background()).AutoMigrate(
		&User{}, &Token{}, &Thread{}, &Content{}, &Comment{}, &Task{}, &Settings{}, &BotLink{},
	)
	if err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close закрывает соединение с базой данных.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser регистрирует пользователя. Дубликат username или email — ErrConflict.
func (s *Store) CreateUser(ctx context.Context, username, email, password string) (User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || password == "" {
		return User{}, fmt.Errorf("%w: username, email and password are required", ErrInvalidArgument)
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&User{}).
		Where("username = ? OR email = ?", username, email).
		Count(&count).Error
	if err != nil {
		return User{}, err
	}
	if count > 0 {
		return User{}, fmt.Errorf("%w: username or email already taken", ErrConflict)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Status:       UserStatusActive,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		// Гонка двух регистраций: уникальный индекс ловит то, что пропустила проверка.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, fmt.Errorf("%w: username or email already taken", ErrConflict)
		}
		return User{}, err
	}
	return user, nil
}

// UserByCredentials находит пользователя по логину (username или email) и паролю.
func (s *Store) UserByCredentials(ctx context.Context, login, password string) (User, error) {
	login = strings.TrimSpace(login)
	var user User
	err := s.db.WithContext(ctx).
		Where("username = ? OR email = ?", login, strings.ToLower(login)).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("%w: unknown login or wrong password", ErrUnauthorized)
	}
	if err != nil {
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return User{}, fmt.Errorf("%w: unknown login or wrong password", ErrUnauthorized)
	}
	return user, nil
}

// UserByID возвращает пользователя по идентификатору.
func (s *Store) UserByID(ctx context.Context, id string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// CreateThread сохраняет новый тред пользователя, опционально с первой версией
// контента. Тред и контент создаются в одной транзакции: сбой между ними не
// оставляет тред без контента.
func (s *Store) CreateThread(ctx context.Context, userID string, typ ThreadType, title, description string, tags []string, blocks []Block) (Thread, error) {
	if title == "" {
		return Thread{}, fmt.Errorf("%w: title is required", ErrInvalidArgument)
	}
	if typ == "" {
		typ = ThreadTypeNote
	}
	if !typ.Valid() {
		return Thread{}, fmt.Errorf("%w: unrecognized thread type %q", ErrInvalidArgument, typ)
	}
	if err := validateBlocks(blocks); err != nil {
		return Thread{}, err
	}
	if tags == nil {
		tags = []string{}
	}

	thread := Thread{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        typ,
		Title:       title,
		Description: description,
		Tags:        datatypes.NewJSONSlice(tags),
		Status:      ThreadStatusActive,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&thread).Error; err != nil {
			return err
		}
		if len(blocks) == 0 {
			return nil
		}
		// Тред только что создан, конкурентов за номер версии нет.
		content := Content{
			ID:       uuid.NewString(),
			ThreadID: thread.ID,
			UserID:   userID,
			Version:  1,
			Blocks:   datatypes.NewJSONSlice(blocks),
		}
		return tx.Create(&content).Error
	})
	if err != nil {
		return Thread{}, err
	}
	return thread, nil
}

// ThreadByID возвращает тред владельца. Чужой или отсутствующий тред — ErrNotFound.
func (s *Store) ThreadByID(ctx context.Context, userID, id string) (Thread, error) {
	var thread Thread
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Thread{}, fmt.Errorf("%w: thread %s", ErrNotFound, id)
	}
	if err != nil {
		return Thread{}, err
	}
	return thread, nil
}

// ListThreads возвращает треды пользователя в порядке убывания времени создания.
// Запрос каждый раз выполняется заново, курсоров нет.
func (s *Store) ListThreads(ctx context.Context, userID string, status ThreadStatus) ([]Thread, error) {
	if status == "" {
		status = ThreadStatusActive
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unrecognized thread status %q", ErrInvalidArgument, status)
	}
	threads := []Thread{}
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, status).
		Order("created_at desc, id desc").
		Find(&threads).Error
	if err != nil {
		return nil, err
	}
	return threads, nil
}

// ThreadPatch перечисляет изменяемые поля треда; nil означает «не трогать».
type ThreadPatch struct {
	Title       *string
	Description *string
	Tags        *[]string
}

// UpdateThread применяет частичное обновление одним UPDATE, поэтому
// конкурирующие записи по одному треду сериализуются на уровне строки.
func (s *Store) UpdateThread(ctx context.Context, userID, id string, patch ThreadPatch) (Thread, error) {
	updates := map[string]any{}
	if patch.Title != nil {
		if *patch.Title == "" {
			return Thread{}, fmt.Errorf("%w: title cannot be empty", ErrInvalidArgument)
		}
		updates["title"] = *patch.Title
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Tags != nil {
		updates["tags"] = datatypes.NewJSONSlice(*patch.Tags)
	}

	if len(updates) > 0 {
		result := s.db.WithContext(ctx).Model(&Thread{}).
			Where("id = ? AND user_id = ? AND status <> ?", id, userID, ThreadStatusDeleted).
			Updates(updates)
		if result.Error != nil {
			return Thread{}, result.Error
		}
		if result.RowsAffected == 0 {
			return Thread{}, fmt.Errorf("%w: thread %s", ErrNotFound, id)
		}
	}
	return s.ThreadByID(ctx, userID, id)
}

// SoftDeleteThread не удаляет запись физически, а меняет статус на deleted.
func (s *Store) SoftDeleteThread(ctx context.Context, userID, id string) error {
	result := s.db.WithContext(ctx).Model(&Thread{}).
		Where("id = ? AND user_id = ? AND status <> ?", id, userID, ThreadStatusDeleted).
		Update("status", ThreadStatusDeleted)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: thread %s", ErrNotFound, id)
	}
	return nil
}

// ArchiveThread переводит активный тред в архив.
func (s *Store) ArchiveThread(ctx context.Context, userID, id string) (Thread, error) {
	result := s.db.WithContext(ctx).Model(&Thread{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, ThreadStatusActive).
		Update("status", ThreadStatusArchived)
	if result.Error != nil {
		return Thread{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Thread{}, fmt.Errorf("%w: thread %s", ErrNotFound, id)
	}
	return s.ThreadByID(ctx, userID, id)
}

// validateBlocks отклоняет запрос на первом нераспознанном типе блока.
func validateBlocks(blocks []Block) error {
	for i, block := range blocks {
		if !block.Type.Valid() {
			return fmt.Errorf("%w: unrecognized block type %q at index %d", ErrInvalidArgument, block.Type, i)
		}
	}
	return nil
}

// CreateContent сохраняет новую версию контента треда. Все блоки проверяются
// до записи: при ошибке ни одна строка не создается. Конкурирующие записи по
// одному треду сериализуются уникальным индексом (thread_id, version):
// проигравший пересчитывает номер версии и повторяет попытку.
func (s *Store) CreateContent(ctx context.Context, userID, threadID string, blocks []Block) (Content, error) {
	if threadID == "" {
		return Content{}, fmt.Errorf("%w: threadId is required", ErrInvalidArgument)
	}
	if err := validateBlocks(blocks); err != nil {
		return Content{}, err
	}
	if blocks == nil {
		blocks = []Block{}
	}

	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		content := Content{
			ID:       uuid.NewString(),
			ThreadID: threadID,
			UserID:   userID,
			Blocks:   datatypes.NewJSONSlice(blocks),
		}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// Тред должен существовать и принадлежать вызывающему.
			var thread Thread
			err := tx.Where("id = ? AND user_id = ?", threadID, userID).First(&thread).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
			}
			if err != nil {
				return err
			}

			var maxVersion int64
			err = tx.Model(&Content{}).
				Where("thread_id = ?", threadID).
				Select("COALESCE(MAX(version), 0)").
				Scan(&maxVersion).Error
			if err != nil {
				return err
			}
			content.Version = int(maxVersion) + 1

			if err := tx.Create(&content).Error; err != nil {
				return err
			}

			// Новая версия контента обновляет время изменения треда.
			return tx.Model(&Thread{}).Where("id = ?", threadID).
				Update("updated_at", content.CreatedAt).Error
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			continue // параллельная запись заняла номер версии
		}
		if err != nil {
			return Content{}, err
		}
		return content, nil
	}
	return Content{}, fmt.Errorf("content version contention for thread %s", threadID)
}

// ListContents возвращает версии контента треда по убыванию версии.
func (s *Store) ListContents(ctx context.Context, userID, threadID string) ([]Content, error) {
	if threadID == "" {
		return nil, fmt.Errorf("%w: threadId is required", ErrInvalidArgument)
	}
	if _, err := s.ThreadByID(ctx, userID, threadID); err != nil {
		return nil, err
	}
	contents := []Content{}
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("version desc").
		Find(&contents).Error
	if err != nil {
		return nil, err
	}
	return contents, nil
}

// LatestContent возвращает последнюю версию контента треда.
func (s *Store) LatestContent(ctx context.Context, userID, threadID string) (Content, error) {
	if _, err := s.ThreadByID(ctx, userID, threadID); err != nil {
		return Content{}, err
	}
	var content Content
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("version desc").
		First(&content).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Content{}, fmt.Errorf("%w: content for thread %s", ErrNotFound, threadID)
	}
	if err != nil {
		return Content{}, err
	}
	return content, nil
}

// CreateComment добавляет комментарий к треду пользователя.
func (s *Store) CreateComment(ctx context.Context, userID, threadID, parentID, text string) (Comment, error) {
	if threadID == "" {
		return Comment{}, fmt.Errorf("%w: threadId is required", ErrInvalidArgument)
	}
	if text == "" {
		return Comment{}, fmt.Errorf("%w: content is required", ErrInvalidArgument)
	}
	if _, err := s.ThreadByID(ctx, userID, threadID); err != nil {
		return Comment{}, err
	}

	comment := Comment{
		ID:       uuid.NewString(),
		ThreadID: threadID,
		UserID:   userID,
		ParentID: parentID,
		Content:  text,
		Status:   CommentStatusActive,
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		return Comment{}, err
	}
	return comment, nil
}

// ListComments возвращает активные комментарии треда, новые первыми.
func (s *Store) ListComments(ctx context.Context, userID, threadID string) ([]Comment, error) {
	if threadID == "" {
		return nil, fmt.Errorf("%w: threadId is required", ErrInvalidArgument)
	}
	if _, err := s.ThreadByID(ctx, userID, threadID); err != nil {
		return nil, err
	}
	comments := []Comment{}
	err := s.db.WithContext(ctx).
		Where("thread_id = ? AND status = ?", threadID, CommentStatusActive).
		Order("created_at desc, id desc").
		Find(&comments).Error
	if err != nil {
		return nil, err
	}
	return comments, nil
}

// UpdateComment меняет текст комментария владельца.
func (s *Store) UpdateComment(ctx context.Context, userID, id, text string) (Comment, error) {
	if text == "" {
		return Comment{}, fmt.Errorf("%w: content is required", ErrInvalidArgument)
	}
	result := s.db.WithContext(ctx).Model(&Comment{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, CommentStatusActive).
		Update("content", text)
	if result.Error != nil {
		return Comment{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Comment{}, fmt.Errorf("%w: comment %s", ErrNotFound, id)
	}
	var comment Comment
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&comment).Error; err != nil {
		return Comment{}, err
	}
	return comment, nil
}

// SoftDeleteComment помечает комментарий удаленным.
func (s *Store) SoftDeleteComment(ctx context.Context, userID, id string) error {
	result := s.db.WithContext(ctx).Model(&Comment{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, CommentStatusActive).
		Update("status", CommentStatusDeleted)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: comment %s", ErrNotFound, id)
	}
	return nil
}

// TaskDraft собирает поля новой задачи. Пустой приоритет — medium.
type TaskDraft struct {
	Title       string
	Description string
	Priority    TaskPriority
	ThreadID    string
	DueDate     *time.Time
	Tags        []string
}

// CreateTask сохраняет задачу пользователя. Привязка к треду проверяется на
// владение, как любой другой ресурс.
func (s *Store) CreateTask(ctx context.Context, userID string, draft TaskDraft) (Task, error) {
	if draft.Title == "" {
		return Task{}, fmt.Errorf("%w: title is required", ErrInvalidArgument)
	}
	if draft.Priority == "" {
		draft.Priority = TaskPriorityMedium
	}
	if !draft.Priority.Valid() {
		return Task{}, fmt.Errorf("%w: unrecognized task priority %q", ErrInvalidArgument, draft.Priority)
	}
	if draft.ThreadID != "" {
		if _, err := s.ThreadByID(ctx, userID, draft.ThreadID); err != nil {
			return Task{}, err
		}
	}
	if draft.Tags == nil {
		draft.Tags = []string{}
	}

	task := Task{
		ID:          uuid.NewString(),
		UserID:      userID,
		ThreadID:    draft.ThreadID,
		Title:       draft.Title,
		Description: draft.Description,
		Priority:    draft.Priority,
		Status:      TaskStatusTodo,
		DueDate:     draft.DueDate,
		Tags:        datatypes.NewJSONSlice(draft.Tags),
		Subtasks:    datatypes.NewJSONSlice([]Subtask{}),
	}
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return Task{}, err
	}
	return task, nil
}

// TaskByID возвращает задачу владельца. Чужая или отсутствующая — ErrNotFound.
func (s *Store) TaskByID(ctx context.Context, userID, id string) (Task, error) {
	var task Task
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Task{}, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

// ListTasks возвращает задачи пользователя, новые первыми.
// Пустой статус означает все задачи.
func (s *Store) ListTasks(ctx context.Context, userID string, status TaskStatus) ([]Task, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unrecognized task status %q", ErrInvalidArgument, status)
	}
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	tasks := []Task{}
	err := query.Order("created_at desc, id desc").Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// TaskPatch перечисляет изменяемые поля задачи; nil означает «не трогать».
type TaskPatch struct {
	Title       *string
	Description *string
	Priority    *TaskPriority
	Status      *TaskStatus
	DueDate     *time.Time
	Tags        *[]string
	Subtasks    *[]Subtask
}

// UpdateTask применяет частичное обновление одним UPDATE. Перевод в completed
// проставляет время завершения.
func (s *Store) UpdateTask(ctx context.Context, userID, id string, patch TaskPatch) (Task, error) {
	updates := map[string]any{}
	if patch.Title != nil {
		if *patch.Title == "" {
			return Task{}, fmt.Errorf("%w: title cannot be empty", ErrInvalidArgument)
		}
		updates["title"] = *patch.Title
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Priority != nil {
		if !patch.Priority.Valid() {
			return Task{}, fmt.Errorf("%w: unrecognized task priority %q", ErrInvalidArgument, *patch.Priority)
		}
		updates["priority"] = *patch.Priority
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return Task{}, fmt.Errorf("%w: unrecognized task status %q", ErrInvalidArgument, *patch.Status)
		}
		updates["status"] = *patch.Status
		if *patch.Status == TaskStatusCompleted {
			updates["completed_at"] = time.Now()
		}
	}
	if patch.DueDate != nil {
		updates["due_date"] = *patch.DueDate
	}
	if patch.Tags != nil {
		updates["tags"] = datatypes.NewJSONSlice(*patch.Tags)
	}
	if patch.Subtasks != nil {
		updates["subtasks"] = datatypes.NewJSONSlice(*patch.Subtasks)
	}

	if len(updates) > 0 {
		result := s.db.WithContext(ctx).Model(&Task{}).
			Where("id = ? AND user_id = ?", id, userID).
			Updates(updates)
		if result.Error != nil {
			return Task{}, result.Error
		}
		if result.RowsAffected == 0 {
			return Task{}, fmt.Errorf("%w: task %s", ErrNotFound, id)
		}
	}
	return s.TaskByID(ctx, userID, id)
}

// DeleteTask удаляет задачу владельца.
func (s *Store) DeleteTask(ctx context.Context, userID, id string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&Task{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	return nil
}

// defaultSettings — значения по умолчанию до первой записи настроек.
func defaultSettings() map[string]any {
	return map[string]any{
		"language": "system",
		"theme":    "system",
	}
}

// Settings возвращает настройки пользователя, накладывая их поверх значений
// по умолчанию. Отсутствие записи — не ошибка.
func (s *Store) Settings(ctx context.Context, userID string) (map[string]any, error) {
	merged := defaultSettings()
	var row Settings
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return merged, nil
	}
	if err != nil {
		return nil, err
	}
	for key, value := range row.Data {
		merged[key] = value
	}
	return merged, nil
}

// MergeSettings вливает переданные ключи в существующие настройки.
// Незатронутые ключи сохраняют прежние значения. Конкурирующие слияния
// сериализуются оптимистичной проверкой версии строки.
func (s *Store) MergeSettings(ctx context.Context, userID string, partial map[string]any) (map[string]any, error) {
	if len(partial) == 0 {
		return s.Settings(ctx, userID)
	}

	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var row Settings
		err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Ленивое создание при первой записи.
			row = Settings{UserID: userID, Data: datatypes.JSONMap{}, Version: 1}
			for key, value := range partial {
				row.Data[key] = value
			}
			err := s.db.WithContext(ctx).Create(&row).Error
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				continue // запись появилась параллельно, повторяем слияние
			}
			if err != nil {
				return nil, err
			}
			return s.Settings(ctx, userID)
		}
		if err != nil {
			return nil, err
		}

		data := datatypes.JSONMap{}
		for key, value := range row.Data {
			data[key] = value
		}
		for key, value := range partial {
			data[key] = value
		}

		result := s.db.WithContext(ctx).Model(&Settings{}).
			Where("user_id = ? AND version = ?", userID, row.Version).
			Updates(map[string]any{"data": data, "version": row.Version + 1})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 1 {
			return s.Settings(ctx, userID)
		}
	}
	return nil, fmt.Errorf("settings update contention for user %s", userID)
}

// LinkChat привязывает Telegram-чат к учетной записи, перезаписывая прежнюю привязку.
func (s *Store) LinkChat(ctx context.Context, chatID int64, userID string) error {
	link := BotLink{ChatID: chatID, UserID: userID}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id"}),
	}).Create(&link).Error
}

// ChatUser возвращает пользователя, привязанного к чату, или ErrUnauthorized.
func (s *Store) ChatUser(ctx context.Context, chatID int64) (string, error) {
	var link BotLink
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: chat %d is not linked", ErrUnauthorized, chatID)
	}
	if err != nil {
		return "", err
	}
	return link.UserID, nil
}
