package main

import (
	"bufio"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"account-ledger/internal/journal"
)

type row struct {
	Seq     int64
	Type    string
	PrevHex string
	HashHex string
	Payload string
}

var errChain = errors.New("chain verification failed")

func main() {
	var (
		inPath   = flag.String("in", "", "CSV exported from GET /v1/journal/export")
		headHash = flag.String("head", "", "expected head hash hex (GET /v1/journal/head)")
		strong   = flag.Bool("strong", true, "recompute every hash from its canonical payload")
	)
	flag.Parse()

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		os.Exit(2)
	}
	if *headHash == "" {
		fmt.Fprintln(os.Stderr, "missing -head")
		os.Exit(2)
	}

	f, err := os.Open(*inPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(2)
	}
	defer f.Close()

	rows, last, err := verify(bufio.NewReader(f), *headHash, *strong)
	if err != nil {
		fmt.Fprintln(os.Stderr, "FAIL:", err)
		if errors.Is(err, errChain) {
			os.Exit(1)
		}
		os.Exit(2)
	}

	fmt.Printf("OK: chain verified (%d rows). head=%s\n", rows, last)
}

// verify walks the export and returns the row count and last hash. Chain
// problems wrap errChain; malformed input does not.
func verify(in io.Reader, headHash string, strong bool) (int, string, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return 0, "", fmt.Errorf("read header: %w", err)
	}

	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	need := []string{"seq", "prev_hash_hex", "hash_hex"}
	if strong {
		need = append(need, "event_type", "payload_canonical")
	}
	maxCol := 0
	for _, c := range need {
		i, ok := col[c]
		if !ok {
			return 0, "", fmt.Errorf("missing column: %s", c)
		}
		maxCol = max(maxCol, i)
	}

	var (
		lineNo      = 1
		prevSeq     int64
		prevHashHex string
		lastHashHex string
		rows        int
	)

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		lineNo++
		if err != nil {
			return rows, "", fmt.Errorf("csv read: %w", err)
		}
		if len(rec) <= maxCol {
			return rows, "", fmt.Errorf("line %d: expected at least %d fields, got %d", lineNo, maxCol+1, len(rec))
		}

		cur := row{
			PrevHex: strings.ToLower(strings.TrimSpace(rec[col["prev_hash_hex"]])),
			HashHex: strings.ToLower(strings.TrimSpace(rec[col["hash_hex"]])),
		}
		cur.Seq, err = strconv.ParseInt(strings.TrimSpace(rec[col["seq"]]), 10, 64)
		if err != nil {
			return rows, "", fmt.Errorf("line %d: invalid seq: %w", lineNo, err)
		}

		prev, err := decodeHash(cur.PrevHex)
		if err != nil {
			return rows, "", fmt.Errorf("line %d: invalid prev_hash_hex: %w", lineNo, err)
		}
		if _, err := decodeHash(cur.HashHex); err != nil {
			return rows, "", fmt.Errorf("line %d: invalid hash_hex: %w", lineNo, err)
		}

		if rows == 0 {
			// the export must start at genesis
			if cur.Seq != 1 || prev != ([32]byte{}) {
				return rows, "", fmt.Errorf("%w: export does not start at genesis (seq=%d prev=%s)",
					errChain, cur.Seq, cur.PrevHex)
			}
		} else {
			if cur.Seq != prevSeq+1 {
				return rows, "", fmt.Errorf("%w: seq gap at line=%d: %d after %d",
					errChain, lineNo, cur.Seq, prevSeq)
			}
			// chain check: prev_hash(i) == hash(i-1)
			if cur.PrevHex != prevHashHex {
				return rows, "", fmt.Errorf("%w: prev_hash mismatch at seq=%d line=%d\nexpected=%s\ngot=%s",
					errChain, cur.Seq, lineNo, prevHashHex, cur.PrevHex)
			}
		}

		if strong {
			cur.Type = rec[col["event_type"]]
			cur.Payload = rec[col["payload_canonical"]]
			sum := journal.ChainHash(prev, cur.Seq, cur.Type, cur.Payload)
			if got := hex.EncodeToString(sum[:]); got != cur.HashHex {
				return rows, "", fmt.Errorf("%w: hash mismatch at seq=%d line=%d\nexpected=%s\ngot=%s",
					errChain, cur.Seq, lineNo, got, cur.HashHex)
			}
		}

		prevSeq = cur.Seq
		prevHashHex = cur.HashHex
		lastHashHex = cur.HashHex
		rows++
	}

	if rows == 0 {
		return 0, "", fmt.Errorf("%w: empty export", errChain)
	}

	if strings.ToLower(strings.TrimSpace(headHash)) != lastHashHex {
		return rows, lastHashHex, fmt.Errorf("%w: head hash mismatch\nexpected=%s\ngot=%s", errChain, headHash, lastHashHex)
	}
	return rows, lastHashHex, nil
}

func decodeHash(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("want %d bytes, got %d", len(out), len(b))
	}
	copy(out[:], b)
	return out, nil
}
