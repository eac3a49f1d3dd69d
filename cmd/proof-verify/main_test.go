package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"account-ledger/internal/journal"
	"account-ledger/internal/ledger"
)

func exportedJournal(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	j := journal.New()
	r := ledger.New(ledger.WithObserver(j))
	a, err := r.Open(500)
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Open(100)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Transfer(a, b, 300); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := j.WriteCSV(&buf); err != nil {
		t.Fatal(err)
	}
	_, head := j.Head()
	return &buf, journal.Entry{Hash: head}.HashHex()
}

func TestVerifyAcceptsExport(t *testing.T) {
	for _, strong := range []bool{true, false} {
		buf, head := exportedJournal(t)
		rows, last, err := verify(buf, strings.ToUpper(head), strong)
		if err != nil {
			t.Fatalf("strong=%t: %v", strong, err)
		}
		if rows != 3 || last != head {
			t.Fatalf("strong=%t: rows=%d last=%s", strong, rows, last)
		}
	}
}

func TestVerifyRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(csv, head string) (string, string)
		chain  bool
	}{
		{"wrong head", func(c, h string) (string, string) {
			return c, strings.Repeat("0", 64)
		}, true},
		{"tampered payload", func(c, h string) (string, string) {
			return strings.Replace(c, `""amount_cents"":300`, `""amount_cents"":301`, 1), h
		}, true},
		{"empty", func(c, h string) (string, string) {
			return strings.SplitN(c, "\n", 2)[0] + "\n", h
		}, true},
		{"truncated prefix", func(c, h string) (string, string) {
			lines := strings.Split(c, "\n")
			return lines[0] + "\n" + lines[3] + "\n", h
		}, true},
		{"missing middle row", func(c, h string) (string, string) {
			lines := strings.Split(c, "\n")
			return strings.Join([]string{lines[0], lines[1], lines[3], ""}, "\n"), h
		}, true},
		{"missing column", func(c, h string) (string, string) {
			return "seq,hash_hex\n1,00\n", h
		}, false},
		{"short row", func(c, h string) (string, string) {
			return strings.Join(journal.ExportHeader, ",") + "\n1\n", h
		}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf, head := exportedJournal(t)
			in, h := tc.mutate(buf.String(), head)
			_, _, err := verify(strings.NewReader(in), h, true)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, errChain) != tc.chain {
				t.Fatalf("errChain=%t want %t: %v", errors.Is(err, errChain), tc.chain, err)
			}
		})
	}
}
