package recorder

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
)

// maxLine bounds one JSON line; snapshot events can be large.
const maxLine = 64 << 20

// journal is an append-only file of JSON lines, optionally compressed.
type journal struct {
	file            *os.File
	writer          io.Writer
	bufWriter       *bufio.Writer
	path            string
	compressionType CompressionType
}

func openJournal(path string, compressionType CompressionType) (*journal, error) {
	j := &journal{path: path, compressionType: compressionType}
	if err := j.open(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *journal) open() error {
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	j.file = f
	j.bufWriter = bufio.NewWriter(f)
	if j.writer, err = NewCompressedWriter(j.bufWriter, j.compressionType); err != nil {
		f.Close()
		return err
	}
	return nil
}

// append writes v as one line and flushes it to the file.
func (j *journal) append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := j.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	if zw, ok := j.writer.(interface{ Flush() error }); ok {
		if err := zw.Flush(); err != nil {
			return err
		}
	}
	return j.bufWriter.Flush()
}

// sync ends the current compressed frame so the file can be read back, and
// starts a new one for later appends.
func (j *journal) sync() error {
	if err := CloseCompressedWriter(j.writer, j.compressionType); err != nil {
		return err
	}
	if err := j.bufWriter.Flush(); err != nil {
		return err
	}
	var err error
	j.writer, err = NewCompressedWriter(j.bufWriter, j.compressionType)
	return err
}

// lines calls fn with every line of the file until fn returns false.
func (j *journal) lines(fn func([]byte) bool) error {
	return scanFile(j.path, j.compressionType, fn)
}

func (j *journal) truncate() error {
	CloseCompressedWriter(j.writer, j.compressionType)
	j.bufWriter.Flush()
	j.file.Close()
	if err := os.Truncate(j.path, 0); err != nil {
		return err
	}
	return j.open()
}

func (j *journal) close() error {
	if err := CloseCompressedWriter(j.writer, j.compressionType); err != nil {
		return err
	}
	if err := j.bufWriter.Flush(); err != nil {
		return err
	}
	return j.file.Close()
}

func scanFile(path string, compressionType CompressionType, fn func([]byte) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, err := NewCompressedReader(f, compressionType)
	if err != nil {
		return err
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		if !fn(scanner.Bytes()) {
			return nil
		}
	}
	return scanner.Err()
}
