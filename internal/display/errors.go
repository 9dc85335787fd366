package display

import "time"

// Hold durations for error screens. A temporary error clears itself after
// TempErrorHold; a fatal error is held at least FatalErrorHold before the
// process exits so the operator can read it.
const (
	TempErrorHold  = 5 * time.Second
	FatalErrorHold = 30 * time.Second
)

// fatalMessages are errors the process cannot recover from.
var fatalMessages = map[string][2]string{
	"E01": {"E01 DB接続エラー", "管理者へ連絡"},
	"E02": {"E02 設定異常", "管理者へ連絡"},
	"E03": {"E03 DB書込異常", "管理者へ連絡"},
	"E04": {"E04 DB切断発生", "再起動して下さい"},
	"E07": {"E07 リーダー未検出", "接続し再起動して下さい"},
}

// tempMessages are errors the pipeline recovers from on its own.
var tempMessages = map[string][2]string{
	"E05": {"E05 QRコード異常", " "},
	"E06": {"E06 DB書込異常", "新規で記録します"},
	"E08": {"E08フォールバック", "再読み込み下さい"},
	"E10": {"E10 予期せぬ異常", "管理者へ連絡"},
}

// Lines returns the two display lines for an error code. Unknown codes get
// a generic screen rather than nothing.
func Lines(code string) [2]string {
	if lines, ok := fatalMessages[code]; ok {
		return lines
	}
	if lines, ok := tempMessages[code]; ok {
		return lines
	}
	return [2]string{"不明なエラー", "管理者へ連絡"}
}

// IsFatal reports whether the error code belongs to the fatal table.
func IsFatal(code string) bool {
	_, ok := fatalMessages[code]
	return ok
}
