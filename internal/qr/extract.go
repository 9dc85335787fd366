// Package qr parses scanner payloads: fixed-offset field extraction for
// standard instruction codes and priority-ordered classification of every
// line that arrives from a port.
package qr

import (
	"fmt"
	"time"

	"github.com/akfujita/prodtrac/internal/model"
)

// region is one fixed-offset slice of an instruction payload. Offsets are
// rune positions: payloads are decoded from Shift-JIS before extraction and
// the layout is defined in characters, not bytes.
type region struct {
	start, length int
}

// instructionLayout is the byte-offset map of the standard instruction code.
// CheckNo is assembled from two regions; every other field is a single slice.
var instructionLayout = map[string][]region{
	"seisan_tehai_no":     {{0, 12}},
	"seisan_tehai_sub_no": {{12, 3}},
	"juchu_no":            {{81, 11}},
	"check_no":            {{45, 5}, {20, 6}},
	"daisu_no":            {{27, 7}},
	"kyoten_cd":           {{39, 6}},
	"seisakusho_fuka_cd":  {{45, 6}},
	"seisakusho_mae_cd":   {{69, 6}},
	"seisakusho_ato_cd":   {{45, 6}},
	"shohingun_cd":        {{51, 1}},
	"seisanbi":            {{52, 6}},
	"seisan_check_sub_no": {{58, 3}},
	"shukkabi":            {{61, 6}},
	"shukka_basho":        {{67, 2}},
	"hontai_kbn":          {{92, 1}},
	"hinmei":              {{105, 23}},
	"width":               {{127, 5}},
	"height":              {{132, 5}},
	"honseki_cd":          {{152, 4}},
	"model_cd":            {{125, 2}},
	"db_bunrui_cd":        {{256, 3}},
}

// MaxPayloadRunes is the payload column width in the record store.
const MaxPayloadRunes = 400

// extractField returns the slice [start, start+length) of the payload, or an
// error when the payload is too short. Short payloads are rejected, never
// truncated.
func extractField(payload []rune, r region, name string) (string, error) {
	end := r.start + r.length
	if len(payload) < end {
		return "", fmt.Errorf("field %s: payload length %d, need %d", name, len(payload), end)
	}
	return string(payload[r.start:end]), nil
}

// Extract parses a standard instruction payload into its named fields.
// Every field must be present at its full expected length; a payload even one
// character short of any region fails extraction.
func Extract(payload string) (model.InstructionFields, error) {
	var f model.InstructionFields
	runes := []rune(payload)
	if len(runes) > MaxPayloadRunes {
		return f, fmt.Errorf("payload length %d exceeds %d", len(runes), MaxPayloadRunes)
	}

	get := func(name string) (string, error) {
		var joined string
		for _, r := range instructionLayout[name] {
			s, err := extractField(runes, r, name)
			if err != nil {
				return "", err
			}
			joined += s
		}
		return joined, nil
	}

	var err error
	assign := func(dst *string, name string) {
		if err != nil {
			return
		}
		*dst, err = get(name)
	}

	assign(&f.SeisanTehaiNo, "seisan_tehai_no")
	assign(&f.SeisanTehaiSubNo, "seisan_tehai_sub_no")
	assign(&f.JuchuNo, "juchu_no")
	assign(&f.CheckNo, "check_no")
	assign(&f.DaisuNo, "daisu_no")
	assign(&f.KyotenCD, "kyoten_cd")
	assign(&f.SeisakushoFukaCD, "seisakusho_fuka_cd")
	assign(&f.SeisakushoMaeCD, "seisakusho_mae_cd")
	assign(&f.SeisakushoAtoCD, "seisakusho_ato_cd")
	assign(&f.ShohingunCD, "shohingun_cd")
	assign(&f.Seisanbi, "seisanbi")
	assign(&f.SeisanCheckSubNo, "seisan_check_sub_no")
	assign(&f.Shukkabi, "shukkabi")
	assign(&f.ShukkaBasho, "shukka_basho")
	assign(&f.HontaiKbn, "hontai_kbn")
	assign(&f.Hinmei, "hinmei")
	assign(&f.Width, "width")
	assign(&f.Height, "height")
	assign(&f.HonsekiCD, "honseki_cd")
	assign(&f.ModelCD, "model_cd")
	assign(&f.DBBunruiCD, "db_bunrui_cd")
	if err != nil {
		return model.InstructionFields{}, err
	}

	if f.Seisanbi != "" {
		dt, perr := time.ParseInLocation("060102", f.Seisanbi, time.Local)
		if perr != nil {
			return model.InstructionFields{}, fmt.Errorf("seisanbi %q: %w", f.Seisanbi, perr)
		}
		f.SeisanbiDT = &dt
	}

	return f, nil
}
