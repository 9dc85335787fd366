package postgres

import (
	"database/sql"
	"errors"
	"time"

	"github.com/akfujita/prodtrac/internal/model"
	"github.com/akfujita/prodtrac/internal/store"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanRecord scans a single row into a model.WorkRecord.
// The row must contain columns in the order defined by recordColumns.
func scanRecord(row scannable) (*model.WorkRecord, error) {
	var rec model.WorkRecord
	var (
		endAt       sql.NullTime
		workTimeSec sql.NullInt64
		seisanbiDT  sql.NullTime
	)

	err := row.Scan(
		&rec.Seq,
		&rec.WorkerCD,
		&rec.ProcessCD,
		&rec.Status,
		&rec.StartAt,
		&endAt,
		&workTimeSec,
		&rec.Payload,
		&rec.WorkerName,
		&rec.ProcessName,
		&rec.Fields.SeisanTehaiNo,
		&rec.Fields.SeisanTehaiSubNo,
		&rec.Fields.JuchuNo,
		&rec.Fields.CheckNo,
		&rec.Fields.DaisuNo,
		&rec.Fields.KyotenCD,
		&rec.Fields.SeisakushoFukaCD,
		&rec.Fields.SeisakushoMaeCD,
		&rec.Fields.SeisakushoAtoCD,
		&rec.Fields.ShohingunCD,
		&rec.Fields.Seisanbi,
		&seisanbiDT,
		&rec.Fields.SeisanCheckSubNo,
		&rec.Fields.Shukkabi,
		&rec.Fields.ShukkaBasho,
		&rec.Fields.HontaiKbn,
		&rec.Fields.Hinmei,
		&rec.Fields.Width,
		&rec.Fields.Height,
		&rec.Fields.HonsekiCD,
		&rec.Fields.ModelCD,
		&rec.Fields.DBBunruiCD,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if endAt.Valid {
		t := endAt.Time
		rec.EndAt = &t
	}
	if workTimeSec.Valid {
		v := workTimeSec.Int64
		rec.WorkTimeSec = &v
	}
	if seisanbiDT.Valid {
		t := seisanbiDT.Time
		rec.Fields.SeisanbiDT = &t
	}

	return &rec, nil
}

// scanLabel scans a single display-name row, mapping no-rows to
// store.ErrNotFound.
func scanLabel(row scannable) (string, error) {
	var label string
	err := row.Scan(&label)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return label, nil
}

// scanIndirectWork scans a single indirect-work master row.
func scanIndirectWork(row scannable) (*model.IndirectWork, error) {
	var iw model.IndirectWork
	err := row.Scan(
		&iw.WorkCode,
		&iw.RecordName,
		&iw.DisplayLabel,
		&iw.Category,
		&iw.WorkName,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &iw, nil
}

// nullTimePtr converts a *time.Time to a sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullInt64Ptr converts a *int64 to a sql.NullInt64.
func nullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
