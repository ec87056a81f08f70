// Package trace keeps an append-only record of the view messages a
// controller received, one JSON entry per line, for later inspection.
package trace

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinytelemetry/sepal/internal/model"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// Entry is one traced message.
type Entry struct {
	Seq     uint64        `json:"seq"`
	Session string        `json:"session"`
	Time    time.Time     `json:"time"`
	Source  string        `json:"source"`
	Message model.Message `json:"message"`
}

// Trace is a durable append-only message log. Entries at or below the
// checkpoint are dropped the next time the trace is opened.
type Trace struct {
	mu             sync.Mutex
	path           string
	checkpointPath string
	session        string
	file           *os.File
	nextSeq        uint64
	checkpoint     uint64
	now            func() time.Time
}

// Open creates or opens a trace at path and starts a new session. On
// startup it drops checkpointed entries and ignores a partially written
// trailing line.
func Open(path string) (*Trace, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("trace: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirMode); err != nil {
		return nil, fmt.Errorf("trace: mkdir: %w", err)
	}

	checkpointPath := path + ".checkpoint"
	checkpoint, err := readCheckpoint(checkpointPath)
	if err != nil {
		return nil, err
	}

	maxSeq, err := compact(path, checkpoint)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, defaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("trace: open: %w", err)
	}

	next := maxSeq + 1
	if checkpoint+1 > next {
		next = checkpoint + 1
	}

	return &Trace{
		path:           path,
		checkpointPath: checkpointPath,
		session:        uuid.NewString(),
		file:           f,
		nextSeq:        next,
		checkpoint:     checkpoint,
		now:            time.Now,
	}, nil
}

// Session returns the id stamped on entries appended by this Trace.
func (t *Trace) Session() string { return t.session }

// Append records msg received from source and returns its sequence number.
func (t *Trace) Append(source string, msg model.Message) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return 0, errors.New("trace: closed")
	}

	seq := t.nextSeq
	t.nextSeq++

	line, err := json.Marshal(Entry{
		Seq:     seq,
		Session: t.session,
		Time:    t.now().UTC(),
		Source:  source,
		Message: msg,
	})
	if err != nil {
		return 0, fmt.Errorf("trace: marshal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := t.file.Write(line); err != nil {
		return 0, fmt.Errorf("trace: write entry: %w", err)
	}
	return seq, nil
}

// Checkpoint marks every entry up to seq as seen.
func (t *Trace) Checkpoint(seq uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if seq <= t.checkpoint {
		return nil
	}
	t.checkpoint = seq
	return writeCheckpoint(t.checkpointPath, seq)
}

// Checkpointed returns the highest checkpointed sequence number.
func (t *Trace) Checkpointed() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkpoint
}

// Replay calls fn for each entry after the checkpoint, in sequence order.
func (t *Trace) Replay(fn func(e Entry) error) error {
	if fn == nil {
		return errors.New("trace: replay callback is nil")
	}

	t.mu.Lock()
	path := t.path
	checkpoint := t.checkpoint
	if t.file != nil {
		if err := t.file.Sync(); err != nil {
			t.mu.Unlock()
			return fmt.Errorf("trace: sync: %w", err)
		}
	}
	t.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("trace: open for replay: %w", err)
	}
	defer f.Close()

	return scan(f, func(e Entry, _ []byte) error {
		if e.Seq <= checkpoint {
			return nil
		}
		return fn(e)
	})
}

// Tail returns up to n of the latest entries after the checkpoint, oldest
// first.
func (t *Trace) Tail(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []Entry
	err := t.Replay(func(e Entry) error {
		out = append(out, e)
		if len(out) > n {
			out = out[1:]
		}
		return nil
	})
	return out, err
}

// Path returns the trace file location.
func (t *Trace) Path() string { return t.path }

// SnapshotTo copies the trace file as it stands to dstPath. Appends wait
// until the copy is done, so the snapshot never ends in a partial line.
func (t *Trace) SnapshotTo(dstPath string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	src, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("trace: open for snapshot: %w", err)
	}
	defer src.Close()

	tmp := dstPath + ".tmp"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return fmt.Errorf("trace: create snapshot: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("trace: copy snapshot: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("trace: close snapshot: %w", err)
	}
	if err := os.Rename(tmp, dstPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("trace: rename snapshot: %w", err)
	}
	return nil
}

// Close closes the underlying trace file.
func (t *Trace) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// scan calls fn for every complete, well-formed line of r. It stops at a
// partial trailing line or the first malformed one.
func scan(r io.Reader, fn func(e Entry, line []byte) error) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("trace: read: %w", err)
		}
		if len(line) == 0 || line[len(line)-1] != '\n' {
			return nil
		}

		var e Entry
		if uerr := json.Unmarshal(line, &e); uerr != nil {
			return nil
		}
		if ferr := fn(e, line); ferr != nil {
			return ferr
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func readCheckpoint(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("trace: read checkpoint: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("trace: parse checkpoint: %w", err)
	}
	return seq, nil
}

func writeCheckpoint(path string, seq uint64) error {
	tmp := path + ".tmp"
	payload := []byte(strconv.FormatUint(seq, 10) + "\n")
	if err := os.WriteFile(tmp, payload, defaultFileMode); err != nil {
		return fmt.Errorf("trace: write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("trace: rename checkpoint: %w", err)
	}
	return nil
}

// compact rewrites path without the checkpointed entries and returns the
// highest sequence number seen.
func compact(path string, checkpoint uint64) (uint64, error) {
	src, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, defaultFileMode)
	if err != nil {
		return 0, fmt.Errorf("trace: open source for compact: %w", err)
	}
	defer src.Close()

	tmpPath := path + ".compact"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, defaultFileMode)
	if err != nil {
		return 0, fmt.Errorf("trace: open compact tmp: %w", err)
	}

	var maxSeq uint64
	err = scan(src, func(e Entry, line []byte) error {
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
		if e.Seq <= checkpoint {
			return nil
		}
		if _, werr := dst.Write(line); werr != nil {
			return fmt.Errorf("trace: compact write: %w", werr)
		}
		return nil
	})
	if err != nil {
		_ = dst.Close()
		_ = os.Remove(tmpPath)
		return 0, err
	}

	if err := dst.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("trace: compact close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("trace: compact rename: %w", err)
	}
	return maxSeq, nil
}
