// actionflow — операторская утилита: миграции, ручные тики,
// просмотр и отмена tasks, расход организаций.
//
// Использование:
//
//	actionflow [--config FILE] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	migrate   Применить миграции
//	tick      Один тик scheduler / dispatcher / reaper
//	workflow  Создать и показать workflow
//	task      Показать и отменить task
//	usage     Расход организации за месяц
package main

import (
	"fmt"
	"os"

	"github.com/shaiso/actionflow/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	rootCmd := cli.NewRootCmd(version, cli.OpenPostgres)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
