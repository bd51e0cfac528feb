package actions

import (
	"context"
	"maps"
	"time"

	"github.com/shaiso/actionflow/internal/domain"
)

// Delay ждёт duration_sec секунд (по умолчанию 1) с учётом отмены ctx.
func Delay(ctx context.Context, action *domain.Action) (*domain.Action, error) {
	sec := getFloat(action.Command.Payload, "duration_sec", 1)
	if sec <= 0 {
		sec = 1
	}

	timer := time.NewTimer(time.Duration(sec * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-timer.C:
		setResult(action, map[string]any{"delayed_sec": sec})
		return action, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Transform возвращает отрендеренный payload как результат шага.
// Шаблоны dispatcher уже подставил, так что это способ собрать
// данные предыдущих шагов в новую форму.
//
// Поле "assets" payload, если это map, уходит в Assets.
func Transform(_ context.Context, action *domain.Action) (*domain.Action, error) {
	out := maps.Clone(action.Command.Payload)
	if out == nil {
		out = map[string]any{}
	}
	delete(out, "result_key")

	if assets, ok := out["assets"].(map[string]any); ok {
		if action.Assets == nil {
			action.Assets = make(map[string]any, len(assets))
		}
		maps.Copy(action.Assets, assets)
		delete(out, "assets")
	}

	setResult(action, out)
	return action, nil
}
