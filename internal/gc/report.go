package gc

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
)

// ReportRow is one orphan found by a sweep.
type ReportRow struct {
	Provider string `parquet:"provider"`
	Key      string `parquet:"key"`
	Size     int64  `parquet:"size"`
	Deleted  bool   `parquet:"deleted"`
	SweptAt  int64  `parquet:"swept_at,timestamp(millisecond)"`
}

// reportWriter streams orphan rows into a Parquet file. Rows arrive from
// concurrent batches; the first write error is kept and returned by close.
type reportWriter struct {
	path string

	mu   sync.Mutex
	f    *os.File
	pw   *parquet.GenericWriter[ReportRow]
	rows int
	err  error
}

func newReportWriter(path string) (*reportWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("gc: create report: %w", err)
	}
	return &reportWriter{path: path, f: f, pw: parquet.NewGenericWriter[ReportRow](f)}, nil
}

func (w *reportWriter) add(provider, key string, size int64, deleted bool) {
	if w == nil {
		return
	}
	row := ReportRow{
		Provider: provider,
		Key:      key,
		Size:     size,
		Deleted:  deleted,
		SweptAt:  time.Now().UnixMilli(),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	if _, err := w.pw.Write([]ReportRow{row}); err != nil {
		w.err = fmt.Errorf("gc: write report: %w", err)
		return
	}
	w.rows++
}

// close flushes the report and returns the number of rows written.
func (w *reportWriter) close() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.pw.Close(); err != nil && w.err == nil {
		w.err = fmt.Errorf("gc: close report: %w", err)
	}
	if err := w.f.Close(); err != nil && w.err == nil {
		w.err = fmt.Errorf("gc: close report: %w", err)
	}
	if w.err != nil {
		return 0, w.err
	}
	return w.rows, nil
}

// ReadReport reads every row of a report written by a sweep.
func ReadReport(path string) ([]ReportRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gc: open report: %w", err)
	}
	defer f.Close()

	r := parquet.NewGenericReader[ReportRow](f)
	defer r.Close()

	rows := make([]ReportRow, r.NumRows())
	if len(rows) == 0 {
		return rows, nil
	}
	n, err := r.Read(rows)
	if err != nil && n != len(rows) {
		return nil, fmt.Errorf("gc: read report: %w", err)
	}
	return rows[:n], nil
}
