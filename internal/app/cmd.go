package app

import (
	"fmt"
	"strings"
)

// Command はsaaskitバイナリのサブコマンド。
type Command string

const (
	// CommandServe はWebアプリとWebhookを提供する。
	CommandServe Command = "serve"
	// CommandWorker はメール配送ジョブと期限切れセッションの掃除を実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーマを最新版まで適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandCreateAdmin は確認済みの管理者ユーザーとその組織を作成する。
	CommandCreateAdmin Command = "create-admin"
	// CommandHealthcheck はserveの/healthzを叩き、結果を終了コードで返す。
	CommandHealthcheck Command = "healthcheck"
)

// commandArgs はサブコマンド名に続く必須の位置引数。載っていないコマンドは引数を取らない。
var commandArgs = map[Command][]string{
	CommandCreateAdmin: {"<email>", "<password>"},
}

// ParseCommand はos.Args[1:]の先頭からサブコマンドを決める。
// 空や未知の名前はserveとして扱う（コンテナの既定起動）。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	switch c := Command(args[0]); c {
	case CommandServe, CommandWorker, CommandMigrate, CommandCreateAdmin, CommandHealthcheck:
		return c
	}
	return CommandServe
}

// Usage は"saaskit create-admin <email> <password>"形式の使い方を返す。
func (c Command) Usage() string {
	return strings.Join(append([]string{"saaskit", string(c)}, commandArgs[c]...), " ")
}

// PositionalArgs はサブコマンド名に続く必須引数を取り出す。
// 不足している場合は設定を読み込む前にUsageを含むエラーを返す。
func (c Command) PositionalArgs(args []string) ([]string, error) {
	want := len(commandArgs[c])
	if want == 0 {
		return nil, nil
	}
	if len(args) < want+1 {
		return nil, fmt.Errorf("usage: %s", c.Usage())
	}
	return args[1 : want+1], nil
}

// RequiresConfig は環境変数の読み込みとロガーの初期化が必要かどうか。
// healthcheckはイメージ内で定期実行されるため初期化を省く。
func (c Command) RequiresConfig() bool {
	return c != CommandHealthcheck
}
