package paper

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
)

var errRecorderClosed = errors.New("jsonl recorder closed")

// jsonlLine is one settlement plus the ledger totals right after it, so a
// tail of the file is enough to recover the running statistics.
type jsonlLine struct {
	TradeRecord
	Stats Stats `json:"stats"`
}

// JSONLRecorder appends settlements as JSON lines for offline analysis.
type JSONLRecorder struct {
	mu   sync.Mutex
	file *os.File
	enc  sonic.Encoder
}

// NewJSONLRecorder opens path for appending, creating parent directories.
func NewJSONLRecorder(path string) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLRecorder{file: file, enc: newEncoder(file)}, nil
}

func newEncoder(w io.Writer) sonic.Encoder {
	enc := sonic.ConfigDefault.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

// Record appends rec with the stats it produced.
func (r *JSONLRecorder) Record(rec TradeRecord, stats Stats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return errRecorderClosed
	}
	return r.enc.Encode(jsonlLine{TradeRecord: rec, Stats: stats})
}

// Close syncs and closes the file. Further Records fail.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := errors.Join(r.file.Sync(), r.file.Close())
	r.file = nil
	return err
}
