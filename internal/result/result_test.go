package result

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := Newf(KindUnknownStyle, CodeStyleNotFound, "audio_query", "style %d not found", 7)
	if !errors.Is(err, ErrUnknownStyle) {
		t.Fatal("expected errors.Is to match ErrUnknownStyle")
	}
	if errors.Is(err, ErrModelLoad) {
		t.Fatal("should not match a different kind")
	}
}

func TestError_WrappedChain(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("outer: %w", Wrap(KindIO, CodeWriteFile, "synthesis", cause, "write wav"))

	if !errors.Is(err, ErrIO) {
		t.Error("expected wrapped error to match ErrIO")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to stay reachable")
	}
	if KindOf(err) != KindIO {
		t.Errorf("KindOf: got %s, want IO", KindOf(err))
	}
	if CodeOf(err) != CodeWriteFile {
		t.Errorf("CodeOf: got %d, want %d", CodeOf(err), CodeWriteFile)
	}
}

func TestError_Message(t *testing.T) {
	err := New(KindModelLoad, CodeInvalidModelHeader, "load_model", "unsupported vvm format version 9")
	want := "load_model: unsupported vvm format version 9"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	if got := NotInitialized("tts").Error(); got != "tts: synthesizer not initialized" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if KindOf(errors.New("x")) != KindUnknown {
		t.Error("plain errors should map to KindUnknown")
	}
	if CodeOf(nil) != CodeOK {
		t.Error("nil error should map to CodeOK")
	}
}

func TestDescribe(t *testing.T) {
	info := Describe(fmt.Errorf("outer: %w", New(KindUnknownStyle, CodeStyleNotFound, "tts", "style 3 is not loaded")))
	if info.Code != 6 || info.Kind != "UnknownStyle" {
		t.Errorf("Describe = %+v", info)
	}
	if info.Message != "outer: tts: style 3 is not loaded" {
		t.Errorf("Message = %q", info.Message)
	}
	if got := Describe(errors.New("x")); got.Kind != "Unknown" || got.Code != 0 {
		t.Errorf("plain error: %+v", got)
	}
	if got := Describe(nil); got.Kind != "OK" {
		t.Errorf("nil error: %+v", got)
	}
}
