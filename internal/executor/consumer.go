package executor

import (
	"context"
	"fmt"

	"github.com/shaiso/actionflow/internal/mq"
)

// Handler возвращает mq.Handler, который передаёт work item в Execute.
//
// Некорректные сообщения и IsPermanent-ошибки уходят в DLQ, сбои
// хранилища до захвата action возвращаются в очередь. Всё остальное
// уже записано в action/task и подтверждается.
func Handler(e *Executor) mq.Handler {
	return func(ctx context.Context, msg *mq.Message) error {
		if msg.Type != mq.MessageTypeActionDispatch {
			return mq.Permanent(fmt.Errorf("unexpected message type %q", msg.Type))
		}

		item, err := mq.DecodePayload[mq.ActionDispatchPayload](msg)
		if err != nil {
			return mq.Permanent(err)
		}

		res, err := e.Execute(ctx, item.ActionPath, item.Token)
		if err != nil {
			if IsPermanent(err) {
				return mq.Permanent(err)
			}
			return err
		}

		e.logger.Debug("work item handled",
			"message_id", msg.ID,
			"action_id", res.ActionID,
			"outcome", res.Outcome,
		)
		return nil
	}
}
