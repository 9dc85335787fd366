package qr

import (
	"regexp"
	"strings"

	"github.com/akfujita/prodtrac/internal/model"
)

// EndSentinel is the payload of the dedicated end-of-work QR card.
const EndSentinel = "END*END*END"

// Kind identifies which dispatch handler owns a scanned line.
type Kind int

const (
	// KindEndOrSame closes the open record(s): the end sentinel, or a
	// repeat of the last accepted instruction.
	KindEndOrSame Kind = iota + 1
	// KindStatus is a rework/status annotation code.
	KindStatus
	// KindProcess switches the station's process code.
	KindProcess
	// KindWorker identifies an operator (pairing input).
	KindWorker
	// KindIndirect opens an indirect-work record.
	KindIndirect
	// KindFirstOpen is a standard instruction with no instruction open.
	KindFirstOpen
	// KindSwitch is a standard instruction arriving while a different one
	// is open.
	KindSwitch
	// KindUnknown matched nothing; the fallback handler records it.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindEndOrSame:
		return "end_or_same"
	case KindStatus:
		return "status"
	case KindProcess:
		return "process"
	case KindWorker:
		return "worker"
	case KindIndirect:
		return "indirect"
	case KindFirstOpen:
		return "first_open"
	case KindSwitch:
		return "switch"
	default:
		return "unknown"
	}
}

var (
	processRe = regexp.MustCompile(`^P[A-Z0-9]{4}$`)
	workerRe  = regexp.MustCompile(`^WCD(\d+)$`)
)

// Scan is one classified line with the branch-specific data already parsed
// out, so handlers never re-parse the payload.
type Scan struct {
	Kind    Kind
	Payload string

	WorkerCD    string                  // KindWorker
	StatusLabel string                  // KindStatus
	Indirect    IndirectCode            // KindIndirect
	Fields      model.InstructionFields // KindFirstOpen / KindSwitch
}

// IndirectCode is the decomposed "ID:code-factory" payload. Factory is empty
// when the scanned code carries no factory suffix.
type IndirectCode struct {
	Code    string
	Factory string
}

// Classify routes one decoded line to exactly one Kind. First match wins;
// the order matches the dispatch priority of the handlers. lastAccepted is
// the port's most recently accepted instruction code, or "".
func Classify(payload, lastAccepted string) Scan {
	s := Scan{Payload: payload}

	if lastAccepted != "" && (payload == EndSentinel || payload == lastAccepted) {
		s.Kind = KindEndOrSame
		return s
	}

	if label, ok := model.ReworkLabels[payload]; ok {
		s.Kind = KindStatus
		s.StatusLabel = label
		return s
	}

	if processRe.MatchString(payload) {
		s.Kind = KindProcess
		return s
	}

	if m := workerRe.FindStringSubmatch(payload); m != nil {
		s.Kind = KindWorker
		s.WorkerCD = m[1]
		return s
	}

	if strings.HasPrefix(payload, "ID:") {
		s.Kind = KindIndirect
		s.Indirect = parseIndirect(payload)
		return s
	}

	if fields, err := Extract(payload); err == nil {
		s.Fields = fields
		if lastAccepted != "" {
			s.Kind = KindSwitch
		} else {
			s.Kind = KindFirstOpen
		}
		return s
	}

	s.Kind = KindUnknown
	return s
}

func parseIndirect(payload string) IndirectCode {
	body := strings.TrimPrefix(payload, "ID:")
	code, factory, _ := strings.Cut(body, "-")
	return IndirectCode{Code: code, Factory: factory}
}
