package monitoring

import (
	"fmt"
	"log"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...any) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("scene %s", "a")
	if len(got) != 1 || got[0] != "scene a" {
		t.Fatalf("got %q", got)
	}

	SetLogger(nil)
	Logf("dropped")
	if len(got) != 1 {
		t.Errorf("no-op logger forwarded a message: %q", got)
	}
}

func TestWriterRoutesThroughLogf(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...any) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	l := log.New(Writer{}, "[slam] ", 0)
	l.Printf("frame %d fused", 4)

	if len(got) != 1 || got[0] != "[slam] frame 4 fused" {
		t.Errorf("got %q", got)
	}
}
