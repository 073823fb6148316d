package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	hourLayout = "2006-01-02-15"
	fileSuffix = ".jsonl.zst"
)

func segmentName(prefix string, t time.Time) string {
	return prefix + "-" + t.UTC().Format(hourLayout) + fileSuffix
}

// segment is one open hourly file. Reopening an existing hour appends a new
// zstd frame; readers decode concatenated frames.
type segment struct {
	hour string
	file *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
	enc  *json.Encoder
}

func openSegment(path, hour string) (*segment, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	buf := bufio.NewWriterSize(zw, 32*1024)
	return &segment{hour: hour, file: f, zw: zw, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (s *segment) close() error {
	return errors.Join(s.buf.Flush(), s.zw.Close(), s.file.Close())
}

// rotator writes lines to the segment of the current UTC hour.
type rotator struct {
	dir    string
	prefix string
	now    func() time.Time

	mu  sync.Mutex
	seg *segment
}

func newRotator(dir, prefix string) *rotator {
	return &rotator{dir: dir, prefix: prefix, now: time.Now}
}

// append encodes l as one line and pushes it through to the zstd stream, so
// a crash loses at most the current compression block.
func (r *rotator) append(l Line) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.now()
	hour := t.UTC().Format(hourLayout)
	if r.seg == nil || r.seg.hour != hour {
		if r.seg != nil {
			err := r.seg.close()
			r.seg = nil
			if err != nil {
				return err
			}
		}
		if err := os.MkdirAll(r.dir, 0o755); err != nil {
			return err
		}
		seg, err := openSegment(filepath.Join(r.dir, segmentName(r.prefix, t)), hour)
		if err != nil {
			return err
		}
		r.seg = seg
	}
	if err := r.seg.enc.Encode(l); err != nil {
		return err
	}
	return r.seg.buf.Flush()
}

func (r *rotator) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seg == nil {
		return nil
	}
	err := r.seg.close()
	r.seg = nil
	return err
}
