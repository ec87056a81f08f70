package trace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/tinytelemetry/sepal/internal/model"
)

func TestAppendReplayCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "views.trace")

	tr, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	if _, err := uuid.Parse(tr.Session()); err != nil {
		t.Fatalf("session %q is not a uuid: %v", tr.Session(), err)
	}

	seq1, err := tr.Append("tcp", model.NewMessage(model.MsgSlaveAttached, "1", nil))
	if err != nil {
		t.Fatalf("Append first: %v", err)
	}
	seq2, err := tr.Append("stdin", model.NewMessage(model.MsgAbilityMessage, "1", model.Ability{Type: model.AbilityRendered}))
	if err != nil {
		t.Fatalf("Append second: %v", err)
	}
	if seq2 <= seq1 {
		t.Fatalf("sequence did not advance: seq1=%d seq2=%d", seq1, seq2)
	}

	if err := tr.Checkpoint(seq1); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	var replayed []Entry
	err = tr.Replay(func(e Entry) error {
		replayed = append(replayed, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(replayed) != 1 || replayed[0].Message.Type != model.MsgAbilityMessage {
		t.Fatalf("Replay=%+v, want the ability message only", replayed)
	}
	if replayed[0].Source != "stdin" || replayed[0].Message.SlaveID != "1" || replayed[0].Session != tr.Session() {
		t.Fatalf("unexpected entry: %+v", replayed[0])
	}
}

func TestTail(t *testing.T) {
	tr, err := Open(filepath.Join(t.TempDir(), "views.trace"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	for _, typ := range []string{"a", "b", "c", "d"} {
		if _, err := tr.Append("tcp", model.Message{Type: typ}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := tr.Tail(2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 2 || got[0].Message.Type != "c" || got[1].Message.Type != "d" {
		t.Fatalf("Tail(2)=%+v", got)
	}
	if none, _ := tr.Tail(0); none != nil {
		t.Fatalf("Tail(0)=%v, want nil", none)
	}
}

func TestReopenDropsCheckpointedAndPartialLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "views.trace")

	tr, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first, _ := tr.Append("tcp", model.Message{Type: "old"})
	if _, err := tr.Append("tcp", model.Message{Type: "kept"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tr.Checkpoint(first); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	session := tr.Session()
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate torn write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString(`{"seq":999,"message":`); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close torn writer: %v", err)
	}

	tr2, err := Open(path)
	if err != nil {
		t.Fatalf("Open second: %v", err)
	}
	defer tr2.Close()
	if tr2.Session() == session {
		t.Fatal("reopened trace reused the session id")
	}

	seq, err := tr2.Append("tcp", model.Message{Type: "new"})
	if err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if seq != 3 {
		t.Fatalf("seq after reopen = %d, want 3", seq)
	}

	var types []string
	if err := tr2.Replay(func(e Entry) error {
		types = append(types, e.Message.Type)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(types) != 2 || types[0] != "kept" || types[1] != "new" {
		t.Fatalf("Replay after reopen=%v, want [kept new]", types)
	}
}

func TestAppendAfterClose(t *testing.T) {
	tr, err := Open(filepath.Join(t.TempDir(), "views.trace"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tr.Close()
	if _, err := tr.Append("tcp", model.Message{Type: "x"}); err == nil {
		t.Fatal("Append after Close succeeded")
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("Open with empty path succeeded")
	}
}

func TestSnapshotTo(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(filepath.Join(dir, "views.trace"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	if _, err := tr.Append("tcp", model.NewMessage(model.MsgSlaveAttached, "1", nil)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	dst := filepath.Join(dir, "copy.jsonl")
	if err := tr.SnapshotTo(dst); err != nil {
		t.Fatalf("SnapshotTo: %v", err)
	}
	want, _ := os.ReadFile(tr.Path())
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if string(got) != string(want) || len(got) == 0 {
		t.Fatalf("snapshot = %q, want %q", got, want)
	}
	if _, err := os.Stat(dst + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}
