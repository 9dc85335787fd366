package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/akfujita/prodtrac/internal/model"
)

// closeLookbackDays bounds how far back an open record may be matched for
// close, status override or restart. Records older than the window are left
// alone; an operator closes those by hand.
const closeLookbackDays = 2

// recordColumns is the column list used for SELECT statements on the
// work_records table.
const recordColumns = `tracking_seq, worker_cd, process_cd, status,
	start_dt, end_dt, work_time_sec, payload, worker_name, process_name,
	seisan_tehai_no, seisan_tehai_sub_no, juchu_no, check_no, daisu_no,
	kyoten_cd, seisakusho_fuka_cd, seisakusho_mae_cd, seisakusho_ato_cd,
	shohingun_cd, seisanbi, seisanbi_dt, seisan_check_sub_no, shukkabi,
	shukka_basho, hontai_kbn, hinmei, width, height, honseki_cd, model_cd,
	db_bunrui_cd`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// lookbackWindow returns the half-open [start, end) interval of start_dt
// values eligible for close. The window covers today and the previous
// closeLookbackDays-1 calendar days, extended through midnight tomorrow so a
// record opened just before the query still matches.
func lookbackWindow(now time.Time) (time.Time, time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return day.AddDate(0, 0, -(closeLookbackDays - 1)), day.AddDate(0, 0, 1)
}

func queryInsertRecord(ctx context.Context, db executor, rec *model.WorkRecord) (int64, error) {
	f := rec.Fields
	var seq int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO work_records (
			worker_cd, process_cd, status,
			start_dt, end_dt, work_time_sec, payload, worker_name, process_name,
			seisan_tehai_no, seisan_tehai_sub_no, juchu_no, check_no, daisu_no,
			kyoten_cd, seisakusho_fuka_cd, seisakusho_mae_cd, seisakusho_ato_cd,
			shohingun_cd, seisanbi, seisanbi_dt, seisan_check_sub_no, shukkabi,
			shukka_basho, hontai_kbn, hinmei, width, height, honseki_cd, model_cd,
			db_bunrui_cd
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17, $18,
			$19, $20, $21, $22, $23,
			$24, $25, $26, $27, $28, $29, $30,
			$31
		)
		RETURNING tracking_seq`,
		rec.WorkerCD,
		rec.ProcessCD,
		rec.Status,
		rec.StartAt,
		nullTimePtr(rec.EndAt),
		nullInt64Ptr(rec.WorkTimeSec),
		rec.Payload,
		rec.WorkerName,
		rec.ProcessName,
		f.SeisanTehaiNo,
		f.SeisanTehaiSubNo,
		f.JuchuNo,
		f.CheckNo,
		f.DaisuNo,
		f.KyotenCD,
		f.SeisakushoFukaCD,
		f.SeisakushoMaeCD,
		f.SeisakushoAtoCD,
		f.ShohingunCD,
		f.Seisanbi,
		nullTimePtr(f.SeisanbiDT),
		f.SeisanCheckSubNo,
		f.Shukkabi,
		f.ShukkaBasho,
		f.HontaiKbn,
		f.Hinmei,
		f.Width,
		f.Height,
		f.HonsekiCD,
		f.ModelCD,
		f.DBBunruiCD,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("insert work record: %w", err)
	}
	return seq, nil
}

// queryCloseLatestOpen stamps end_dt and work_time_sec on every open record
// for payload inside the lookback window. A pair session holds two open rows
// for the same payload; both close together. Non-empty workerCD or processCD
// also overwrite the stored codes, so a close scanned at a different station
// attributes the interval to whoever actually finished it.
func queryCloseLatestOpen(ctx context.Context, db executor, payload, workerCD, processCD string, endAt time.Time) (int, error) {
	rangeStart, rangeEnd := lookbackWindow(endAt)
	res, err := db.ExecContext(ctx, `
		UPDATE work_records
		SET end_dt = $1,
			work_time_sec = EXTRACT(EPOCH FROM ($1::timestamptz - start_dt))::bigint,
			worker_cd = CASE WHEN $2 <> '' THEN $2 ELSE worker_cd END,
			process_cd = CASE WHEN $3 <> '' THEN $3 ELSE process_cd END
		WHERE payload = $4
			AND end_dt IS NULL
			AND start_dt >= $5 AND start_dt < $6`,
		endAt, workerCD, processCD, payload, rangeStart, rangeEnd,
	)
	if err != nil {
		return 0, fmt.Errorf("close work records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// queryFindLatestOpen is the fallback lookup: deliberately unbounded by the
// lookback window, so an open record that aged out of the close predicate
// can still be found and ended.
func queryFindLatestOpen(ctx context.Context, db executor, payload string) (*model.WorkRecord, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM work_records
		WHERE payload = $1
			AND end_dt IS NULL
		ORDER BY start_dt DESC, tracking_seq DESC
		LIMIT 1`,
		payload,
	)
	return scanRecord(row)
}

// queryCloseRecord ends one specific record by sequence, with no window
// bound. Pairs with queryFindLatestOpen for the stale-record fallback.
func queryCloseRecord(ctx context.Context, db executor, seq int64, endAt time.Time) (int, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE work_records
		SET end_dt = $1,
			work_time_sec = EXTRACT(EPOCH FROM ($1::timestamptz - start_dt))::bigint
		WHERE tracking_seq = $2
			AND end_dt IS NULL`,
		endAt, seq,
	)
	if err != nil {
		return 0, fmt.Errorf("close work record %d: %w", seq, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// queryUpdateOpenStatus rewrites the status of the open records held by a
// worker at a process, inside the lookback window.
func queryUpdateOpenStatus(ctx context.Context, db executor, workerCD, processCD, status string) (int, error) {
	rangeStart, rangeEnd := lookbackWindow(time.Now())
	res, err := db.ExecContext(ctx, `
		UPDATE work_records
		SET status = $1
		WHERE worker_cd = $2
			AND process_cd = $3
			AND end_dt IS NULL
			AND start_dt >= $4 AND start_dt < $5`,
		status, workerCD, processCD, rangeStart, rangeEnd,
	)
	if err != nil {
		return 0, fmt.Errorf("update open status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func queryResolveWorkerLabel(ctx context.Context, db executor, workerCD string) (string, error) {
	row := db.QueryRowContext(ctx, `
		SELECT display_name FROM worker_master WHERE worker_cd = $1`,
		workerCD,
	)
	return scanLabel(row)
}

func queryResolveProcessLabel(ctx context.Context, db executor, processCD string) (string, error) {
	row := db.QueryRowContext(ctx, `
		SELECT display_name FROM process_master WHERE process_cd = $1`,
		processCD,
	)
	return scanLabel(row)
}

func queryResolveIndirectWork(ctx context.Context, db executor, code string) (*model.IndirectWork, error) {
	row := db.QueryRowContext(ctx, `
		SELECT work_code, record_name, display_label, category, work_name
		FROM indirect_work_master WHERE work_code = $1`,
		code,
	)
	return scanIndirectWork(row)
}
