// Package model defines the work-record domain types shared by the store,
// the dispatch handlers and the display boundary.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Session status labels. Fixed-width (5 display cells) so the station
// display never has to clear the status field before redrawing it.
const (
	StatusWorking = "作業中　　"
	StatusWaiting = "待機中　　"
	StatusEnded   = "作業終了　"
	StatusRetry   = "再接続中　"
)

// DefaultStatus is the persisted status for a plain instruction open with no
// pending rework override.
const DefaultStatus = "operation"

// ErrorStatus is the persisted status for payloads no classifier branch
// accepts.
const ErrorStatus = "E05:QR error"

// ReworkLabels maps rework/status QR payloads to their persisted labels.
// One cell narrower than the session statuses: the display prefixes "* ".
var ReworkLabels = map[string]string{
	"rew_own_fix":  "手直し　",
	"rew_material": "材料不良",
	"rew_process":  "加工不良",
	"rew_equipm":   "設備不良",
	"rework":       "手戻手直",
}

// IndirectFallbackStatus and IndirectFallbackLabel are used when an
// indirect-work code is missing from the master table.
const (
	IndirectFallbackStatus = "間接作業"
	IndirectFallbackLabel  = "間接　"
)

// MissingLabel is shown when a worker or process code has no master row.
const MissingLabel = "未登録"

// InstructionFields holds the fixed-offset fields extracted from a standard
// instruction payload. Field names follow the production-order vocabulary of
// the upstream order system; they are persisted verbatim.
type InstructionFields struct {
	SeisanTehaiNo    string     // production order no.
	SeisanTehaiSubNo string     // production order sub no.
	JuchuNo          string     // sales order no.
	CheckNo          string     // check no. (two payload regions joined)
	DaisuNo          string     // unit no.
	KyotenCD         string     // site code
	SeisakushoFukaCD string     // plant load process code
	SeisakushoMaeCD  string     // plant upstream process code
	SeisakushoAtoCD  string     // plant downstream process code
	ShohingunCD      string     // product group code
	Seisanbi         string     // production date, yymmdd
	SeisanbiDT       *time.Time // production date, parsed
	SeisanCheckSubNo string     // production check sub no.
	Shukkabi         string     // ship date, yymmdd
	ShukkaBasho      string     // ship location
	HontaiKbn        string     // body class
	Hinmei           string     // product name
	Width            string     // product width
	Height           string     // product height
	HonsekiCD        string     // base part no.
	ModelCD          string     // model code
	DBBunruiCD       string     // DB category code
}

// WorkRecord is one persisted work interval for a single worker.
type WorkRecord struct {
	Seq         int64
	WorkerCD    string
	ProcessCD   string
	Status      string
	StartAt     time.Time
	EndAt       *time.Time
	WorkTimeSec *int64
	Payload     string // the raw accepted QR line
	Fields      InstructionFields
	WorkerName  string
	ProcessName string
}

// WorkerMaster is a row of the worker master table.
type WorkerMaster struct {
	WorkerCD    string
	Name        string
	Kana        string
	DisplayName string // short name for the station display, max 8 cells
}

// ProcessMaster is a row of the process master table.
type ProcessMaster struct {
	ProcessCD   string
	Name        string
	DisplayName string // short name for the station display, max 14 cells
}

// IndirectWork is a row of the indirect-work master table.
type IndirectWork struct {
	WorkCode     string
	RecordName   string // persisted as the record status
	DisplayLabel string // shown in the check-no field, 6 cells
	Category     string
	WorkName     string
}

// FormatCheckNo shapes a check number for the station display's 6-cell
// check-no field. Short values (indirect-work labels and the like) pass
// through untouched; full-length check numbers show columns 6..11.
func FormatCheckNo(checkNo string) string {
	r := []rune(checkNo)
	switch {
	case len(r) == 0:
		return strings.Repeat(" ", 6)
	case len(r) <= 6:
		return checkNo
	case len(r) >= 11:
		return string(r[5:11])
	default:
		return string(r[5:])
	}
}

// FormatTimer renders elapsed time as mm:ss. Durations are clamped at zero
// so a clock step backwards never renders a negative timer.
func FormatTimer(elapsed time.Duration) string {
	secs := int(elapsed.Seconds())
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
