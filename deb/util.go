package deb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/blakesmith/ar"
)

// countingWriter wraps an io.Writer and counts the bytes written.
type countingWriter struct {
	w io.Writer
	n int64
}

// Write writes p to the underlying io.Writer and increments the byte count.
func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// arHeader returns the header of a root owned, 0644 ar member.
func arHeader(name string, size int64, modTime time.Time) *ar.Header {
	if modTime.IsZero() {
		modTime = time.Now()
	}
	return &ar.Header{
		Name:    name,
		Size:    size,
		Mode:    0644,
		ModTime: modTime,
	}
}

// addBufferToAr writes a named byte slice as a member of the ar archive.
func addBufferToAr(w *ar.Writer, name string, body []byte, modTime time.Time) error {
	if err := w.WriteHeader(arHeader(name, int64(len(body)), modTime)); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// addFileToAr writes the file at path as a member of the ar archive.
func addFileToAr(w *ar.Writer, name, path string, modTime time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if err := w.WriteHeader(arHeader(name, st.Size(), modTime)); err != nil {
		return err
	}
	return copyToAr(w, f)
}

// copyToAr streams r into the current member. The ar writer pads every odd
// sized write, so content is written in even sized chunks and only the last
// chunk may be odd.
func copyToAr(w *ar.Writer, r io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// removeOnError deletes path when *err is set. Used to drop partially
// written outputs.
func removeOnError(path string, err *error) {
	if *err == nil {
		return
	}
	if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		*err = fmt.Errorf("%w (removing %s: %v)", *err, path, rmErr)
	}
}
