package main

import (
	"context"
	"encoding/json"
	"fmt"
)

// syncRequest — тело запросов /api/sync/get и /api/sync/set.
// data — непрозрачный JSON, форма которого определяется ключом data_name.
type syncRequest struct {
	DataName string          `json:"data_name"`
	Data     json.RawMessage `json:"data"`
}

// syncHandler декодирует полезную нагрузку и выполняет одну операцию хранилища.
type syncHandler func(ctx context.Context, store *Store, userID string, data json.RawMessage) (any, error)

// syncOp оборачивает общую операцию в syncHandler: декодирует data в тот же
// входной тип, который использует типизированный обработчик, и вызывает ту же
// функцию. Расхождение форм ответа между путями исключено по построению.
func syncOp[I, O any](op func(context.Context, *Store, string, I) (O, error)) syncHandler {
	return func(ctx context.Context, store *Store, userID string, data json.RawMessage) (any, error) {
		var in I
		if len(data) > 0 {
			if err := json.Unmarshal(data, &in); err != nil {
				return nil, fmt.Errorf("%w: malformed data payload: %v", ErrInvalidArgument, err)
			}
		}
		return op(ctx, store, userID, in)
	}
}

// Таблицы диспетчеризации статичны и явны. Набор ключей закрыт; исторически
// сложившиеся имена (подчеркивания у get, дефисы у set) — константы протокола,
// их шлют развернутые клиенты.
var syncGetOps = map[string]syncHandler{
	"thread_list":  syncOp(opThreadList),
	"thread_data":  syncOp(opThreadData),
	"content_list": syncOp(opContentList),
	"comment_list": syncOp(opCommentList),
}

var syncSetOps = map[string]syncHandler{
	"thread-post":    syncOp(opThreadPost),
	"thread-edit":    syncOp(opThreadEdit),
	"thread-delete":  syncOp(opThreadDelete),
	"content-post":   syncOp(opContentPost),
	"comment-post":   syncOp(opCommentPost),
	"comment-edit":   syncOp(opCommentEdit),
	"comment-delete": syncOp(opCommentDelete),
}

// dispatchSync выполняет одну операцию по ключу data_name. Неизвестный ключ —
// ErrInvalidArgument: ErrNotFound зарезервирован за отсутствующими ресурсами.
func dispatchSync(ctx context.Context, store *Store, userID string, table map[string]syncHandler, req syncRequest) (any, error) {
	if req.DataName == "" {
		return nil, fmt.Errorf("%w: data_name is required", ErrInvalidArgument)
	}
	handler, ok := table[req.DataName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown data_name %q", ErrInvalidArgument, req.DataName)
	}
	return handler(ctx, store, userID, req.Data)
}
