package audit

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ExportJSONLZstd writes the events matching q to w as zstd-compressed JSON
// lines and returns how many were written.
func (s *Store) ExportJSONLZstd(ctx context.Context, w io.Writer, q Query) (int, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, fmt.Errorf("audit: zstd writer: %w", err)
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	n := 0
	err = s.each(ctx, q, func(raw []byte) error {
		if _, err := bw.Write(raw); err != nil {
			return err
		}
		n++
		return bw.WriteByte('\n')
	})
	if err != nil {
		_ = enc.Close()
		return n, err
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return n, err
	}
	return n, enc.Close()
}

// ReadJSONLZstd decompresses an export produced by ExportJSONLZstd and calls
// fn with each line.
func ReadJSONLZstd(r io.Reader, fn func(line []byte) error) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("audit: zstd reader: %w", err)
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}
