package journal

import (
	"encoding/csv"
	"io"
	"strconv"
)

// ExportHeader is the column layout read back by cmd/proof-verify.
var ExportHeader = []string{"seq", "event_type", "prev_hash_hex", "hash_hex", "payload_canonical"}

// WriteCSV writes every entry in sequence order.
func (j *Journal) WriteCSV(w io.Writer) error {
	return WriteCSV(w, j.Since(0))
}

func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return err
	}
	for _, e := range entries {
		rec := []string{
			strconv.FormatInt(e.Seq, 10),
			e.Type,
			e.PrevHashHex(),
			e.HashHex(),
			e.PayloadCanonical,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
