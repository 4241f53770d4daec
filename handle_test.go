package vidstream

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
)

type countingCloser struct {
	closes int
	err    error
}

func (c *countingCloser) Close() error {
	c.closes++
	return c.err
}

func TestCodecHandleClosesOnLastRelease(t *testing.T) {
	c := &countingCloser{}
	h := newCodecHandle(c)

	h.acquire()
	h.release()
	if c.closes != 0 {
		t.Fatalf("closed with a reference outstanding")
	}
	h.release()
	if c.closes != 1 {
		t.Errorf("got %d closes, want 1", c.closes)
	}
}

func TestCodecHandleLogsCloseError(t *testing.T) {
	log, hook := newTestLogger()
	SetLogger(log)
	t.Cleanup(func() { SetLogger(nil) })

	h := newCodecHandle(&countingCloser{err: errors.New("busy")})
	h.release()

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("close error not logged")
	}
	if entry.Level != logrus.WarnLevel {
		t.Errorf("got level %v, want warning", entry.Level)
	}
	if err, _ := entry.Data[logrus.ErrorKey].(error); err == nil || err.Error() != "busy" {
		t.Errorf("got error field %v", entry.Data[logrus.ErrorKey])
	}
}

func TestDirectionStateString(t *testing.T) {
	tests := map[DirectionState]string{
		StateUnconfigured:  "unconfigured",
		StateConfigured:    "configured",
		StateReconfiguring: "reconfiguring",
		StateStopped:       "stopped",
		DirectionState(9):  "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("state %d: got %q, want %q", int32(s), got, want)
		}
	}
}
