package monitoring

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cao-extract/internal/model"
)

// FileLog is a JSON-lines event log. Each event is written with a single
// write call and fsynced; readers skip lines that do not parse, so a line
// torn by a crash loses only that event.
type FileLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenFileLog opens path for appending. A trailing line left without a
// newline by a crash is terminated first so the next event starts on its own
// line.
func OpenFileLog(path string) (*FileLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "monitoring: open %s", path)
	}
	if err := terminateTail(f); err != nil {
		_ = f.Close()
		return nil, eris.Wrapf(err, "monitoring: repair %s", path)
	}
	return &FileLog{path: path, f: f}, nil
}

func terminateTail(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	zap.L().Warn("monitoring: terminating torn trailing line", zap.String("path", f.Name()))
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return err
	}
	return f.Sync()
}

// Append implements EventLog.
func (l *FileLog) Append(_ context.Context, ev model.PerformanceEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal event")
	}
	b = append(b, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return eris.New("monitoring: log is closed")
	}
	if _, err := l.f.Write(b); err != nil {
		return eris.Wrap(err, "monitoring: append event")
	}
	if err := l.f.Sync(); err != nil {
		return eris.Wrap(err, "monitoring: sync log")
	}
	return nil
}

// Events implements EventLog.
func (l *FileLog) Events(ctx context.Context) ([]model.PerformanceEvent, int, error) {
	return ReadFileLog(ctx, l.path)
}

// Close implements EventLog.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return eris.Wrap(err, "monitoring: close log")
}

// ReadFileLog reads a JSON-lines log without opening it for writing. A
// missing file is an empty log.
func ReadFileLog(ctx context.Context, path string) ([]model.PerformanceEvent, int, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, eris.Wrapf(err, "monitoring: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var (
		events  []model.PerformanceEvent
		skipped int
		lineNo  int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lineNo++
		if lineNo%1000 == 0 && ctx.Err() != nil {
			return nil, 0, eris.Wrap(ctx.Err(), "monitoring: read log")
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev model.PerformanceEvent
		if err := json.Unmarshal(line, &ev); err != nil || ev.DocumentID == "" {
			skipped++
			zap.L().Warn("monitoring: skipping unreadable log line",
				zap.String("path", path),
				zap.Int("line", lineNo),
			)
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, 0, eris.Wrapf(err, "monitoring: scan %s", path)
	}
	return events, skipped, nil
}
