package storage

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-downloader/internal/errors"
	"github.com/johnayoung/go-ohlcv-downloader/internal/logger"
	"github.com/johnayoung/go-ohlcv-downloader/internal/models"
)

// tailChunk is how many bytes are read per step when looking for the last line.
const tailChunk = 512

// Log stores one append-only file per asset under
// <savePath>/<Exchange>/<asset file name>. It does no locking: the
// orchestrator guarantees a single writer per asset.
type Log struct {
	savePath string
	logger   *slog.Logger
}

// NewLog creates a log rooted at savePath.
func NewLog(savePath string, log *slog.Logger) *Log {
	if log == nil {
		log = logger.Discard()
	}
	return &Log{savePath: savePath, logger: log.With("component", "storage")}
}

// SavePath returns the root folder.
func (l *Log) SavePath() string {
	return l.savePath
}

// Path returns the file backing asset.
func (l *Log) Path(asset *models.Asset) string {
	return filepath.Join(l.exchangeDir(asset.Exchange), asset.FileName())
}

func (l *Log) exchangeDir(exchange string) string {
	return filepath.Join(l.savePath, exchange)
}

// Exists implements AssetLog.
func (l *Log) Exists(asset *models.Asset) bool {
	_, err := os.Stat(l.Path(asset))
	return err == nil
}

// Create implements RowWriter.
func (l *Log) Create(ctx context.Context, asset *models.Asset) (string, error) {
	path := l.Path(asset)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errors.NewStorageError("create", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return "", errors.NewAlreadyExistsError("asset file " + path)
		}
		return "", errors.NewStorageError("create", path, err)
	}
	defer f.Close()

	preamble := strings.Join([]string{HeaderFor(asset).String(), separatorLine, columnsLine}, "\n") + "\n"
	if _, err := f.WriteString(preamble); err != nil {
		return "", errors.NewStorageError("create", path, err)
	}
	if err := f.Sync(); err != nil {
		return "", errors.NewStorageError("create", path, err)
	}

	logger.FromContext(ctx, l.logger).Info("asset file created", "path", path)
	return path, nil
}

// Append implements RowWriter. Only the tail of the file is read: a final
// row without its newline, left by an interrupted append, is cut off before
// the new rows are written.
func (l *Log) Append(ctx context.Context, asset *models.Asset, rows []models.CandleRow) error {
	if len(rows) == 0 {
		return nil
	}
	path := l.Path(asset)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("asset file " + path)
		}
		return errors.NewStorageError("append", path, err)
	}
	defer f.Close()

	if err := l.cutTornTail(ctx, f, path); err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	for _, row := range rows {
		if _, err := w.WriteString(FormatRow(row) + "\n"); err != nil {
			return errors.NewStorageError("append", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return errors.NewStorageError("append", path, err)
	}
	if err := f.Sync(); err != nil {
		return errors.NewStorageError("append", path, err)
	}

	logger.FromContext(ctx, l.logger).Debug("rows appended",
		"path", path,
		"rows", len(rows),
		"last", rows[len(rows)-1].Time.Format(models.TimestampLayout))
	return nil
}

// cutTornTail truncates f after its last complete line.
func (l *Log) cutTornTail(ctx context.Context, f *os.File, path string) error {
	info, err := f.Stat()
	if err != nil {
		return errors.NewStorageError("append", path, err)
	}
	_, torn, err := lastLine(f, info.Size())
	if err != nil {
		return errors.NewStorageError("append", path, err)
	}
	if torn == 0 {
		return nil
	}
	if torn == info.Size() {
		return errors.NewFormatError(path, "file has no complete line")
	}
	if err := f.Truncate(info.Size() - torn); err != nil {
		return errors.NewStorageError("append", path, err)
	}
	logger.FromContext(ctx, l.logger).Warn("dropped incomplete last row",
		"path", path,
		"bytes", torn)
	return nil
}

// ReadWatermark implements RowReader. Only the tail of the file is read.
func (l *Log) ReadWatermark(ctx context.Context, asset *models.Asset) (*time.Time, error) {
	return readWatermarkFile(l.Path(asset))
}

// readWatermarkFile returns the time of the last complete row of the file at
// path. An incomplete final line is ignored.
func readWatermarkFile(path string) (*time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("asset file " + path)
		}
		return nil, errors.NewStorageError("read watermark", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.NewStorageError("read watermark", path, err)
	}
	line, _, err := lastLine(f, info.Size())
	if err != nil {
		return nil, errors.NewStorageError("read watermark", path, err)
	}

	// The preamble is all a file without rows holds.
	if line == "" || strings.HasPrefix(line, headerSentinel) || line == columnsLine {
		return nil, nil
	}
	row, err := ParseRow(line)
	if err != nil {
		return nil, errors.NewFormatError(path, "last row: "+err.Error())
	}
	return &row.Time, nil
}

// lastLine returns the last non-empty newline-terminated line of r, reading
// backwards from size. torn is the length of the trailing bytes after the
// final newline; they belong to a line whose write never completed.
func lastLine(r io.ReaderAt, size int64) (line string, torn int64, err error) {
	var buf []byte
	for offset := size; offset > 0; {
		n := int64(tailChunk)
		if offset < n {
			n = offset
		}
		offset -= n
		part := make([]byte, n)
		if _, err := r.ReadAt(part, offset); err != nil && err != io.EOF {
			return "", 0, err
		}
		buf = append(part, buf...)

		end := bytes.LastIndexByte(buf, '\n')
		if end < 0 {
			continue
		}
		torn = int64(len(buf) - end - 1)
		complete := bytes.TrimRight(buf[:end+1], "\r\n")
		if i := bytes.LastIndexByte(complete, '\n'); i >= 0 {
			return string(complete[i+1:]), torn, nil
		}
		if offset == 0 {
			return string(complete), torn, nil
		}
	}
	return "", int64(len(buf)), nil
}

// ReadHeader decodes the first line of the file at path.
func (l *Log) ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Header{}, errors.NewNotFoundError("asset file " + path)
		}
		return Header{}, errors.NewStorageError("read header", path, err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && err != io.EOF {
		return Header{}, errors.NewStorageError("read header", path, err)
	}
	if line == "" {
		return Header{}, errors.NewFormatError(path, "file is empty")
	}
	return ParseHeader(path, line)
}

// ReadRows implements RowReader.
func (l *Log) ReadRows(ctx context.Context, asset *models.Asset) ([]models.CandleRow, error) {
	path := l.Path(asset)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("asset file " + path)
		}
		return nil, errors.NewStorageError("read rows", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.NewStorageError("read rows", path, err)
	}
	_, torn, err := lastLine(f, info.Size())
	if err != nil {
		return nil, errors.NewStorageError("read rows", path, err)
	}

	var rows []models.CandleRow
	scanner := bufio.NewScanner(io.LimitReader(f, info.Size()-torn))
	for lineNo := 1; scanner.Scan(); lineNo++ {
		if lineNo <= preambleLines {
			continue
		}
		if lineNo%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		row, err := ParseRow(line)
		if err != nil {
			return nil, errors.NewFormatError(path, fmt.Sprintf("line %d: %v", lineNo, err))
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewStorageError("read rows", path, err)
	}
	return rows, nil
}

// Delete implements AssetLog.
func (l *Log) Delete(ctx context.Context, asset *models.Asset) error {
	path := l.Path(asset)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("asset file " + path)
		}
		return errors.NewStorageError("delete", path, err)
	}

	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.NewStorageError("delete", dir, err)
	}
	if len(entries) == 0 {
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			return errors.NewStorageError("delete", dir, err)
		}
	}

	logger.FromContext(ctx, l.logger).Info("asset file deleted", "path", path)
	return nil
}

var _ AssetLog = (*Log)(nil)
