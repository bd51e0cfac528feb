// Package cli реализует операторскую утилиту actionflow.
//
// В отличие от демонов, CLI работает с хранилищем напрямую: применяет
// миграции, прогоняет один тик компонента, показывает и отменяет task,
// заводит workflow и показывает расход организации за месяц.
//
// # Команды
//
//   - migrate
//   - tick scheduler | dispatcher | reaper
//   - workflow create | show
//   - task show | cancel
//   - usage show
//
// Хранилище открывается лениво через Opener уже после разбора флагов и
// загрузки конфигурации. OpenPostgres используется бинарником,
// OpenMemory подключает memrepo (тесты, локальные прогоны).
//
// Данные выводятся в stdout таблицей или JSON (--json), сообщения в
// stderr, поэтому вывод можно передавать в jq:
//
//	actionflow task show <id> --json | jq .status
package cli
