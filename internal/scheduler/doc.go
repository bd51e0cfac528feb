// Package scheduler создаёт tasks из workflows, у которых наступил next_run_at.
//
// Структура:
//   - scheduler.go — Tick и обработка одного workflow
//   - repeat.go    — вычисление следующего запуска по repeat
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Workflows: repo.NewWorkflowRepo(pool),
//	    Tasks:     repo.NewTaskRepo(pool),
//	    Logger:    logger,
//	})
//
//	// Вызывается по расписанию internal/trigger (обычно раз в минуту)
//	if err := sched.Tick(ctx, time.Now()); err != nil {
//	    logger.Error("scheduler tick failed", "error", err)
//	}
//
// Повторный тик после сбоя между созданием task и обновлением workflow
// не создаёт второй task: tasks.idempotency_key уникален.
package scheduler
