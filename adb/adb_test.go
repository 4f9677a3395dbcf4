package adb

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"devicemirror/process"
)

// fakeRunner answers adb invocations from a table keyed by the joined args.
type fakeRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeRunner) lookup(args []string) ([]byte, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	return []byte(f.outputs[key]), f.errs[key]
}

func (f *fakeRunner) Output(_ context.Context, _ string, args ...string) ([]byte, error) {
	return f.lookup(args)
}

func (f *fakeRunner) CombinedOutput(_ context.Context, _ string, args ...string) ([]byte, error) {
	return f.lookup(args)
}

func (f *fakeRunner) Start(context.Context, string, ...string) (*process.Stream, error) {
	return nil, errors.New("not supported")
}

func TestParseDeviceList(t *testing.T) {
	output := "* daemon not running; starting now at tcp:5037\n" +
		"* daemon started successfully\n" +
		"List of devices attached\n" +
		"ABC123                 device usb:1-1 product:panther model:Pixel_7 device:panther transport_id:1\n" +
		"192.168.1.5:5555       device product:a52 model:SM_A525F transport_id:2\n" +
		"emulator-5554          offline\n" +
		"\n"

	got, err := ParseDeviceList(output)
	if err != nil {
		t.Fatalf("ParseDeviceList: %v", err)
	}

	want := []DeviceEntry{
		{Serial: "ABC123", State: "device", Attributes: map[string]string{
			"usb": "1-1", "product": "panther", "model": "Pixel_7", "device": "panther", "transport_id": "1",
		}},
		{Serial: "192.168.1.5:5555", State: "device", Attributes: map[string]string{
			"product": "a52", "model": "SM_A525F", "transport_id": "2",
		}},
		{Serial: "emulator-5554", State: "offline", Attributes: map[string]string{}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseDeviceList mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDeviceListTabSeparated(t *testing.T) {
	got, err := ParseDeviceList("List of devices attached\nABC123\tdevice\n192.168.1.5:5555\tdevice\n")
	if err != nil {
		t.Fatalf("ParseDeviceList: %v", err)
	}
	if len(got) != 2 || got[0].Serial != "ABC123" || got[1].Serial != "192.168.1.5:5555" {
		t.Errorf("unexpected entries: %+v", got)
	}
}

func TestParseDeviceListEmpty(t *testing.T) {
	got, err := ParseDeviceList("List of devices attached\n\n")
	if err != nil {
		t.Fatalf("ParseDeviceList: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no devices, got %+v", got)
	}
}

func TestParseDeviceListMalformed(t *testing.T) {
	tests := map[string]string{
		"missing header": "ABC123\tdevice\n",
		"missing state":  "List of devices attached\nABC123\n",
		"garbage":        "adb: command not found",
	}
	for name, output := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseDeviceList(output); err == nil {
				t.Errorf("expected an error for %q", output)
			}
		})
	}
}

func TestParseScreenSize(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"physical only", "Physical size: 1080x2400\n", "1080x2400"},
		{"override wins", "Physical size: 1440x3200\nOverride size: 1080x2400\n", "1080x2400"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScreenSize(tt.output)
			if err != nil {
				t.Fatalf("ParseScreenSize: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := ParseScreenSize("error: no devices"); err == nil {
		t.Error("expected an error when no size is reported")
	}
}

func TestParseDensity(t *testing.T) {
	got, err := ParseDensity("Physical density: 420\nOverride density: 480\n")
	if err != nil {
		t.Fatalf("ParseDensity: %v", err)
	}
	if got != "480" {
		t.Errorf("got %q, want 480", got)
	}
}

func TestParseEncoders(t *testing.T) {
	output := `Media Codec List:
  encoder: video/avc, name=c2.qti.avc.encoder, owner=codec2
    aliases: OMX.qcom.video.encoder.avc
  encoder: video/hevc, name=c2.qti.hevc.encoder, owner=codec2
  encoder: audio/mp4a-latm, name=c2.android.aac.encoder
  encoder: video/avc, name=c2.qti.avc.encoder, owner=codec2
`
	got, err := ParseEncoders(output)
	if err != nil {
		t.Fatalf("ParseEncoders: %v", err)
	}
	want := []string{"c2.qti.avc.encoder", "c2.qti.hevc.encoder"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseEncoders mismatch (-want +got):\n%s", diff)
	}

	if _, err := ParseEncoders("nothing useful"); err == nil {
		t.Error("expected an error when no encoders are listed")
	}
}

func TestListDevicesWrapsFailures(t *testing.T) {
	runner := &fakeRunner{
		errs: map[string]error{"devices -l": errors.New("exec: adb not found")},
	}
	client := NewADBClient("", runner)

	_, err := client.ListDevices(context.Background())
	var enumErr *EnumerationError
	if !errors.As(err, &enumErr) {
		t.Fatalf("expected *EnumerationError, got %T (%v)", err, err)
	}

	runner.errs = nil
	runner.outputs = map[string]string{"devices -l": "garbage"}
	_, err = client.ListDevices(context.Background())
	if !errors.As(err, &enumErr) {
		t.Fatalf("expected *EnumerationError for malformed output, got %T (%v)", err, err)
	}
}

func TestConnect(t *testing.T) {
	tests := []struct {
		name         string
		output       string
		wantErr      bool
		needsPairing bool
	}{
		{"connected", "connected to 192.168.1.5:5555\n", false, false},
		{"already connected", "already connected to 192.168.1.5:5555\n", false, false},
		{"refused", "failed to connect to '192.168.1.5:5555': Connection refused\n", true, true},
		{"unreachable", "cannot connect to 192.168.1.5:5555: No route to host (113)\n", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{outputs: map[string]string{"connect 192.168.1.5:5555": tt.output}}
			client := NewADBClient("adb", runner)

			out, err := client.Connect(context.Background(), "192.168.1.5:5555")
			if out != tt.output {
				t.Errorf("output = %q, want %q", out, tt.output)
			}
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var connErr *ConnectError
			if !errors.As(err, &connErr) {
				t.Fatalf("expected *ConnectError, got %T (%v)", err, err)
			}
			if connErr.Output != tt.output {
				t.Errorf("ConnectError.Output = %q", connErr.Output)
			}
			if connErr.NeedsPairing() != tt.needsPairing {
				t.Errorf("NeedsPairing = %v, want %v", connErr.NeedsPairing(), tt.needsPairing)
			}
		})
	}
}

func TestPair(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"pair 192.168.1.5:37000 123456": "Successfully paired to 192.168.1.5:37000 [guid=adb-XYZ]\n",
		"pair 192.168.1.5:37000 000000": "Failed: Wrong password or connection was dropped.\n",
	}}
	client := NewADBClient("adb", runner)

	if _, err := client.Pair(context.Background(), "192.168.1.5:37000", "123456"); err != nil {
		t.Fatalf("Pair: %v", err)
	}

	_, err := client.Pair(context.Background(), "192.168.1.5:37000", "000000")
	var pairErr *PairError
	if !errors.As(err, &pairErr) {
		t.Fatalf("expected *PairError, got %T (%v)", err, err)
	}
	if !strings.Contains(pairErr.Output, "Wrong password") {
		t.Errorf("PairError.Output = %q", pairErr.Output)
	}
}

func TestExecuteCommand(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string]string{"-s ABC123 shell echo hi": "hi\n"},
		errs: map[string]error{"-s GONE shell echo hi": &process.Error{
			Command: "adb -s GONE shell echo hi", ExitCode: 1, Stderr: "error: device 'GONE' not found", Err: errors.New("exit status 1"),
		}},
	}
	client := NewADBClient("adb", runner)

	out, err := client.ExecuteCommand(context.Background(), "ABC123", "echo hi")
	if err != nil || out != "hi\n" {
		t.Fatalf("ExecuteCommand = %q, %v", out, err)
	}

	_, err = client.ExecuteCommand(context.Background(), "GONE", "echo hi")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %T (%v)", err, err)
	}
	if !strings.Contains(cmdErr.Output, "not found") {
		t.Errorf("CommandError.Output = %q", cmdErr.Output)
	}
}

func TestMetadataQueries(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"-s ABC123 shell getprop ro.product.model": "Pixel 7\n",
		"-s ABC123 shell wm size":                  "Physical size: 1080x2400\n",
		"-s ABC123 shell wm density":               "Physical density: 420\n",
		"-s ABC123 shell getprop ro.product.brand": "\n",
	}}
	client := NewADBClient("adb", runner)
	ctx := context.Background()

	if model, err := client.GetProperty(ctx, "ABC123", "ro.product.model"); err != nil || model != "Pixel 7" {
		t.Errorf("GetProperty = %q, %v", model, err)
	}
	if _, err := client.GetProperty(ctx, "ABC123", "ro.product.brand"); err == nil {
		t.Error("expected an error for an empty property")
	}
	if res, err := client.ScreenResolution(ctx, "ABC123"); err != nil || res != "1080x2400" {
		t.Errorf("ScreenResolution = %q, %v", res, err)
	}
	if d, err := client.ScreenDensity(ctx, "ABC123"); err != nil || d != "420" {
		t.Errorf("ScreenDensity = %q, %v", d, err)
	}
}
