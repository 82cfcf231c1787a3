package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

// API описывает HTTP-поверхность бэкенда заметок.
type API struct {
	store  *Store
	tokens *TokenService
	auth   AuthMiddleware
	logger zerolog.Logger
}

// NewAPI создает API с заданным хранилищем и сервисом токенов.
func NewAPI(store *Store, tokens *TokenService, logger zerolog.Logger) *API {
	return &API{
		store:  store,
		tokens: tokens,
		auth:   AuthMiddleware{tokens: tokens},
		logger: logger,
	}
}

// Handler возвращает http.Handler со всеми маршрутами API.
// Публичные маршруты минуют шлюз аутентификации, остальные завернуты в него.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("POST /api/auth/register", a.handleRegister)
	mux.HandleFunc("POST /api/auth/login", a.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", a.handleRefresh)

	mux.HandleFunc("GET /api/auth/me", a.auth.Wrap(a.handleMe))
	mux.HandleFunc("POST /api/auth/logout", a.auth.Wrap(a.handleLogout))

	mux.HandleFunc("POST /api/threads", a.auth.Wrap(a.handleThreadCreate))
	mux.HandleFunc("GET /api/threads", a.auth.Wrap(a.handleThreadList))
	mux.HandleFunc("GET /api/threads/{id}", a.auth.Wrap(a.handleThreadGet))
	mux.HandleFunc("PUT /api/threads/{id}", a.auth.Wrap(a.handleThreadUpdate))
	mux.HandleFunc("DELETE /api/threads/{id}", a.auth.Wrap(a.handleThreadDelete))
	mux.HandleFunc("POST /api/threads/{id}/archive", a.auth.Wrap(a.handleThreadArchive))

	mux.HandleFunc("POST /api/contents", a.auth.Wrap(a.handleContentCreate))
	mux.HandleFunc("GET /api/contents", a.auth.Wrap(a.handleContentList))
	mux.HandleFunc("GET /api/contents/latest/{threadId}", a.auth.Wrap(a.handleContentLatest))

	mux.HandleFunc("POST /api/comments", a.auth.Wrap(a.handleCommentCreate))
	mux.HandleFunc("GET /api/comments", a.auth.Wrap(a.handleCommentList))

	mux.HandleFunc("POST /api/tasks", a.auth.Wrap(a.handleTaskCreate))
	mux.HandleFunc("GET /api/tasks", a.auth.Wrap(a.handleTaskList))
	mux.HandleFunc("GET /api/tasks/{id}", a.auth.Wrap(a.handleTaskGet))
	mux.HandleFunc("PUT /api/tasks/{id}", a.auth.Wrap(a.handleTaskUpdate))
	mux.HandleFunc("DELETE /api/tasks/{id}", a.auth.Wrap(a.handleTaskDelete))

	mux.HandleFunc("POST /api/sync/get", a.auth.Wrap(a.handleSyncGet))
	mux.HandleFunc("POST /api/sync/set", a.auth.Wrap(a.handleSyncSet))

	mux.HandleFunc("GET /api/settings", a.auth.Wrap(a.handleSettingsGet))
	mux.HandleFunc("PUT /api/settings", a.auth.Wrap(a.handleSettingsUpdate))

	return LoggingMiddleware(a.logger, mux)
}

// apiResponse — единый конверт ответа. code "0000" означает успех.
type apiResponse struct {
	Code   string `json:"code"`
	ErrMsg string `json:"errMsg,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// writeJSON сериализует конверт с заданным HTTP-статусом.
func writeJSON(w http.ResponseWriter, status int, response apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

// writeData отвечает успешным конвертом.
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, apiResponse{Code: codeOK, Data: data})
}

// writeError сопоставляет ошибку коду конверта и HTTP-статусу.
func writeError(w http.ResponseWriter, err error) {
	code, status := errorCode(err)
	writeJSON(w, status, apiResponse{Code: code, ErrMsg: err.Error()})
}

// decodeBody разбирает JSON-тело запроса.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", ErrInvalidArgument, err)
	}
	return nil
}

// requestUser достает пользователя, положенного в контекст шлюзом.
func requestUser(r *http.Request) (string, error) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		return "", fmt.Errorf("%w: no authenticated user in context", ErrUnauthorized)
	}
	return userID, nil
}

// handleHealth отвечает на проверку живости.
func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// registerInput — тело запроса регистрации.
type registerInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginInput — тело запроса входа; принимается username или email.
type loginInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// refreshInput — тело запроса ротации refresh-токена.
type refreshInput struct {
	RefreshToken string `json:"refreshToken"`
}

// authResult — пользователь и пара токенов; поля пары разворачиваются в data.
type authResult struct {
	User User `json:"user"`
	TokenPair
}

// userResult — данные текущего пользователя.
type userResult struct {
	User User `json:"user"`
}

// handleRegister регистрирует пользователя и сразу выдает пару токенов.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in registerInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	user, err := a.store.CreateUser(r.Context(), in.Username, in.Email, in.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	pair, err := a.tokens.Issue(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, authResult{User: user, TokenPair: pair})
}

// handleLogin проверяет учетные данные и выдает пару токенов.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	login := in.Username
	if login == "" {
		login = in.Email
	}
	if login == "" || in.Password == "" {
		writeError(w, fmt.Errorf("%w: login and password are required", ErrInvalidArgument))
		return
	}
	user, err := a.store.UserByCredentials(r.Context(), login, in.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	pair, err := a.tokens.Issue(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, authResult{User: user, TokenPair: pair})
}

// handleRefresh ротирует refresh-токен. Токен одноразовый.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in refreshInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.RefreshToken == "" {
		writeError(w, fmt.Errorf("%w: refreshToken is required", ErrInvalidArgument))
		return
	}
	pair, err := a.tokens.Rotate(r.Context(), in.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, pair)
}

// handleMe возвращает текущего пользователя.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := a.store.UserByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, userResult{User: user})
}

// handleLogout отзывает все живые токены пользователя.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.tokens.Revoke(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, messageResult{Message: "logged out"})
}

// handleThreadCreate создает тред через общую операцию thread-post.
func (a *API) handleThreadCreate(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in threadPostInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	thread, err := opThreadPost(r.Context(), a.store, userID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, thread)
}

// handleThreadList возвращает треды пользователя.
func (a *API) handleThreadList(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	in := threadListInput{Status: ThreadStatus(r.URL.Query().Get("status"))}
	result, err := opThreadList(r.Context(), a.store, userID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// handleThreadGet возвращает один тред владельца.
func (a *API) handleThreadGet(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	thread, err := a.store.ThreadByID(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, thread)
}

// handleThreadUpdate применяет частичное обновление треда.
func (a *API) handleThreadUpdate(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in threadEditInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	in.ID = r.PathValue("id")
	thread, err := opThreadEdit(r.Context(), a.store, userID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, thread)
}

// handleThreadDelete мягко удаляет тред.
func (a *API) handleThreadDelete(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := opThreadDelete(r.Context(), a.store, userID, threadDeleteInput{ID: r.PathValue("id")})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// handleThreadArchive переводит тред в архив.
func (a *API) handleThreadArchive(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	thread, err := a.store.ArchiveThread(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, thread)
}

// handleContentCreate создает версию контента через общую операцию content-post.
func (a *API) handleContentCreate(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in contentPostInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	content, err := opContentPost(r.Context(), a.store, userID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, content)
}

// handleContentList возвращает версии контента треда.
func (a *API) handleContentList(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	in := contentListInput{ThreadID: r.URL.Query().Get("threadId")}
	result, err := opContentList(r.Context(), a.store, userID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// handleContentLatest возвращает последнюю версию контента треда.
func (a *API) handleContentLatest(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	content, err := a.store.LatestContent(r.Context(), userID, r.PathValue("threadId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, content)
}

// handleCommentCreate создает комментарий через общую операцию comment-post.
func (a *API) handleCommentCreate(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in commentPostInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	comment, err := opCommentPost(r.Context(), a.store, userID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, comment)
}

// handleCommentList возвращает комментарии треда.
func (a *API) handleCommentList(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	in := commentListInput{ThreadID: r.URL.Query().Get("threadId")}
	result, err := opCommentList(r.Context(), a.store, userID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// handleTaskCreate создает задачу.
func (a *API) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in taskPostInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	task, err := opTaskPost(r.Context(), a.store, userID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, task)
}

// handleTaskList возвращает задачи пользователя.
func (a *API) handleTaskList(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	in := taskListInput{Status: TaskStatus(r.URL.Query().Get("status"))}
	result, err := opTaskList(r.Context(), a.store, userID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// handleTaskGet возвращает одну задачу владельца.
func (a *API) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := a.store.TaskByID(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, task)
}

// handleTaskUpdate применяет частичное обновление задачи.
func (a *API) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in taskEditInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	in.ID = r.PathValue("id")
	task, err := opTaskEdit(r.Context(), a.store, userID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, task)
}

// handleTaskDelete удаляет задачу.
func (a *API) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := opTaskDelete(r.Context(), a.store, userID, taskDeleteInput{ID: r.PathValue("id")})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// handleSyncGet выполняет одну операцию чтения по ключу data_name.
func (a *API) handleSyncGet(w http.ResponseWriter, r *http.Request) {
	a.handleSync(w, r, syncGetOps)
}

// handleSyncSet выполняет одну операцию записи по ключу data_name.
func (a *API) handleSyncSet(w http.ResponseWriter, r *http.Request) {
	a.handleSync(w, r, syncSetOps)
}

// handleSync — общий путь обоих sync-эндпоинтов.
func (a *API) handleSync(w http.ResponseWriter, r *http.Request, table map[string]syncHandler) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req syncRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := dispatchSync(r.Context(), a.store, userID, table, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// handleSettingsGet возвращает настройки пользователя.
func (a *API) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := opSettingsGet(r.Context(), a.store, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// handleSettingsUpdate вливает переданные ключи в настройки пользователя.
func (a *API) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	partial := map[string]any{}
	if err := decodeBody(r, &partial); err != nil {
		writeError(w, err)
		return
	}
	result, err := opSettingsUpdate(r.Context(), a.store, userID, partial)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}
