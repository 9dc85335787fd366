package qr

import "testing"

func TestClassify_Branches(t *testing.T) {
	instruction := sampleInstruction(300)

	for _, tc := range []struct {
		name         string
		payload      string
		lastAccepted string
		want         Kind
	}{
		{"end sentinel with open instruction", EndSentinel, instruction, KindEndOrSame},
		{"repeat of last instruction", instruction, instruction, KindEndOrSame},
		{"end sentinel with nothing open", EndSentinel, "", KindUnknown},
		{"rework code", "rew_material", "", KindStatus},
		{"generic rework code", "rework", "", KindStatus},
		{"process code", "P12A4", "", KindProcess},
		{"process code lowercase rejected", "p12a4", "", KindUnknown},
		{"worker code", "WCD007", "", KindWorker},
		{"worker code without digits", "WCD", "", KindUnknown},
		{"indirect code", "ID:A01-F2", "", KindIndirect},
		{"first open", instruction, "", KindFirstOpen},
		{"switch", instruction, "OTHER", KindSwitch},
		{"garbage", "hello world", "", KindUnknown},
		{"empty-ish", "?", "", KindUnknown},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.payload, tc.lastAccepted)
			if got.Kind != tc.want {
				t.Fatalf("Classify(%q, last=%q).Kind = %s, want %s", tc.payload, tc.lastAccepted, got.Kind, tc.want)
			}
		})
	}
}

func TestClassify_EndOrSameWinsOverOtherBranches(t *testing.T) {
	// A payload that would match the process pattern, scanned twice in a
	// row, is a close request, not a second process switch.
	got := Classify("P12A4", "P12A4")
	if got.Kind != KindEndOrSame {
		t.Fatalf("Kind = %s, want %s", got.Kind, KindEndOrSame)
	}
}

func TestClassify_WorkerExtractsID(t *testing.T) {
	got := Classify("WCD001234", "")
	if got.WorkerCD != "001234" {
		t.Errorf("WorkerCD = %q, want %q", got.WorkerCD, "001234")
	}
}

func TestClassify_StatusCarriesLabel(t *testing.T) {
	got := Classify("rew_equipm", "")
	if got.StatusLabel != "設備不良" {
		t.Errorf("StatusLabel = %q", got.StatusLabel)
	}
}

func TestParseIndirect(t *testing.T) {
	for _, tc := range []struct {
		payload       string
		code, factory string
	}{
		{"ID:A01-F2", "A01", "F2"},
		{"ID:A01", "A01", ""},
		{"ID:", "", ""},
		{"ID:A01-F2-extra", "A01", "F2-extra"},
	} {
		got := parseIndirect(tc.payload)
		if got.Code != tc.code || got.Factory != tc.factory {
			t.Errorf("parseIndirect(%q) = %+v, want {%s %s}", tc.payload, got, tc.code, tc.factory)
		}
	}
}

func TestClassify_TotalAndExclusive(t *testing.T) {
	// Every payload lands in exactly one branch; none returns zero Kind.
	for _, payload := range []string{"", "END*END*END", "rew_own_fix", "P0000", "WCD1", "ID:X", sampleInstruction(300), "junk"} {
		if got := Classify(payload, ""); got.Kind == 0 {
			t.Errorf("Classify(%q) returned zero Kind", payload)
		}
	}
}
