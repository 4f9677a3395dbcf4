package adb

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func frame(payload string) string {
	return strings.ToUpper(hex4(len(payload))) + payload
}

func hex4(n int) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[(n>>12)&0xf], digits[(n>>8)&0xf], digits[(n>>4)&0xf], digits[n&0xf]})
}

func TestReadTrackStream(t *testing.T) {
	stream := frame("") +
		frame("ABC123\tdevice\n") +
		frame("ABC123\tdevice\n192.168.1.5:5555\toffline\n")

	out := make(chan []DeviceEntry, 8)
	if err := ReadTrackStream(context.Background(), strings.NewReader(stream), out); err != nil {
		t.Fatalf("ReadTrackStream: %v", err)
	}
	close(out)

	var got [][]DeviceEntry
	for snapshot := range out {
		got = append(got, snapshot)
	}
	want := [][]DeviceEntry{
		{},
		{{Serial: "ABC123", State: "device"}},
		{{Serial: "ABC123", State: "device"}, {Serial: "192.168.1.5:5555", State: "offline"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshots mismatch (-want +got):\n%s", diff)
	}
}

func TestReadTrackStreamTruncated(t *testing.T) {
	out := make(chan []DeviceEntry, 1)
	err := ReadTrackStream(context.Background(), strings.NewReader("0010ABC"), out)
	if err == nil {
		t.Fatal("expected an error for a truncated frame")
	}
}

func TestReadTrackStreamBadLength(t *testing.T) {
	out := make(chan []DeviceEntry, 1)
	if err := ReadTrackStream(context.Background(), strings.NewReader("zzzzABC"), out); err == nil {
		t.Fatal("expected an error for a non-hex length")
	}
}
