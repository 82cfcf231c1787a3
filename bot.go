package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// errMissingBotToken возвращается при отсутствии токена бота.
var errMissingBotToken = errors.New("BOT_TOKEN is not set")

// TelegramBot — третий потребитель общего слоя операций: после привязки
// чата к учетной записи команды бота ходят в те же op-функции, что REST
// и sync-диспетчер.
type TelegramBot struct {
	store  *Store
	token  string
	logger zerolog.Logger
}

// NewTelegramBot создает бот с доступом к хранилищу.
func NewTelegramBot(store *Store, token string, logger zerolog.Logger) *TelegramBot {
	return &TelegramBot{store: store, token: token, logger: logger}
}

// Start запускает цикл получения обновлений.
func (b *TelegramBot) Start(ctx context.Context) error {
	if b.token == "" {
		return errMissingBotToken
	}

	bot, err := tgbotapi.NewBotAPI(b.token)
	if err != nil {
		return err
	}

	bot.Debug = false
	b.logger.Info().Str("account", bot.Self.UserName).Msg("telegram bot authorized")

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := bot.GetUpdatesChan(updateConfig)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			chatID := update.Message.Chat.ID
			text := strings.TrimSpace(update.Message.Text)
			reply := b.handleMessage(ctx, chatID, text)
			msg := tgbotapi.NewMessage(chatID, reply)
			if _, err := bot.Send(msg); err != nil {
				b.logger.Error().Err(err).Msg("send message error")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// handleMessage маршрутизирует команду пользователя.
func (b *TelegramBot) handleMessage(ctx context.Context, chatID int64, text string) string {
	if text == "" {
		return "Пришлите команду. Используйте /help для справки."
	}
	fields := strings.Fields(text)
	command := fields[0]

	switch command {
	case "/start":
		return "Привет! Я интерфейс к вашим заметкам. Введите /help для списка команд."
	case "/help":
		return helpMessage()
	case "/login":
		return b.handleLogin(ctx, chatID, fields)
	default:
		return b.handleAuthorized(ctx, chatID, command, text, fields)
	}
}

// handleLogin привязывает чат к учетной записи по email и паролю.
func (b *TelegramBot) handleLogin(ctx context.Context, chatID int64, fields []string) string {
	if len(fields) < 3 {
		return "Используйте /login <email> <пароль>"
	}
	user, err := b.store.UserByCredentials(ctx, fields[1], fields[2])
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return "Неверный email или пароль."
		}
		return "Не удалось проверить учетные данные. Попробуйте позже."
	}
	if err := b.store.LinkChat(ctx, chatID, user.ID); err != nil {
		return "Не удалось сохранить привязку. Попробуйте позже."
	}
	return "Авторизация успешна. Теперь можно работать с заметками."
}

// handleAuthorized выполняет команды, требующие привязанной учетной записи.
func (b *TelegramBot) handleAuthorized(ctx context.Context, chatID int64, command, text string, fields []string) string {
	userID, err := b.store.ChatUser(ctx, chatID)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return "Сначала выполните /login <email> <пароль>."
		}
		return "Не удалось проверить авторизацию."
	}

	switch command {
	case "/add":
		title := strings.TrimSpace(strings.TrimPrefix(text, command))
		if title == "" {
			return "Добавьте заголовок заметки: /add купить молоко"
		}
		thread, err := opThreadPost(ctx, b.store, userID, threadPostInput{Title: title})
		if err != nil {
			return "Не удалось сохранить заметку. Попробуйте позже."
		}
		return fmt.Sprintf("Заметка %s сохранена.", thread.ID)
	case "/list":
		result, err := opThreadList(ctx, b.store, userID, threadListInput{})
		if err != nil {
			return "Не удалось получить заметки. Попробуйте позже."
		}
		if len(result.Threads) == 0 {
			return "У вас пока нет заметок. Добавьте через /add."
		}
		return formatThreads(result.Threads)
	case "/delete":
		if len(fields) < 2 {
			return "Укажите идентификатор заметки: /delete <id>"
		}
		_, err := opThreadDelete(ctx, b.store, userID, threadDeleteInput{ID: fields[1]})
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return "Заметка с таким идентификатором не найдена."
			}
			return "Не удалось удалить заметку. Попробуйте позже."
		}
		return "Заметка помечена как удаленная."
	default:
		return "Неизвестная команда. Используйте /help."
	}
}

// formatThreads формирует список заметок для ответа в чат.
func formatThreads(threads []Thread) string {
	lines := make([]string, 0, len(threads)+1)
	lines = append(lines, "Ваши заметки:")
	for _, thread := range threads {
		lines = append(lines, fmt.Sprintf("%s — %s", thread.ID, thread.Title))
	}
	return strings.Join(lines, "\n")
}

// helpMessage возвращает справку по командам бота.
func helpMessage() string {
	return strings.Join([]string{
		"Доступные команды:",
		"/login <email> <пароль> — привязать учетную запись",
		"/add <заголовок> — добавить заметку",
		"/list — список заметок",
		"/delete <id> — пометить заметку удаленной",
		"/help — справка",
	}, "\n")
}
