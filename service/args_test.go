package service

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"devicemirror/models"
)

func intp(n int) *int { return &n }

func strp(s string) *string { return &s }

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(s *models.MirroringSettings)
		override string
		want     []string
	}{
		{
			name: "defaults produce identity only",
			want: []string{"-s", "ABC123"},
		},
		{
			name:   "max fps differs",
			modify: func(s *models.MirroringSettings) { s.MaxFps = 60 },
			want:   []string{"-s", "ABC123", "--max-fps", "60"},
		},
		{
			name:   "max fps at default",
			modify: func(s *models.MirroringSettings) { s.MaxFps = 30 },
			want:   []string{"-s", "ABC123"},
		},
		{
			name:   "clipboard autosync off",
			modify: func(s *models.MirroringSettings) { s.ClipboardAutosync = false },
			want:   []string{"-s", "ABC123", "--no-clipboard-autosync"},
		},
		{
			name:   "clipboard autosync on",
			modify: func(s *models.MirroringSettings) { s.ClipboardAutosync = true },
			want:   []string{"-s", "ABC123"},
		},
		{
			name:   "bitrate in kilobits",
			modify: func(s *models.MirroringSettings) { s.VideoBitrateKbps = 8000 },
			want:   []string{"-s", "ABC123", "--video-bit-rate", "8000K"},
		},
		{
			name:   "window size emits both dimensions",
			modify: func(s *models.MirroringSettings) { s.ScreenHeight = 900 },
			want:   []string{"-s", "ABC123", "--window-width", "800", "--window-height", "900"},
		},
		{
			name: "legacy sentinels mean unset",
			modify: func(s *models.MirroringSettings) {
				s.MaxSize = intp(0)
				s.LockVideoOrientation = intp(-1)
				s.EncoderName = strp("")
			},
			want: []string{"-s", "ABC123"},
		},
		{
			name: "optional values set",
			modify: func(s *models.MirroringSettings) {
				s.MaxSize = intp(1920)
				s.LockVideoOrientation = intp(0)
				s.EncoderName = strp("c2.android.avc.encoder")
			},
			want: []string{"-s", "ABC123", "--max-size", "1920", "--capture-orientation", "0", "--video-encoder", "c2.android.avc.encoder"},
		},
		{
			name:     "device encoder wins",
			modify:   func(s *models.MirroringSettings) { s.EncoderName = strp("c2.android.avc.encoder") },
			override: "OMX.qcom.video.encoder.avc",
			want:     []string{"-s", "ABC123", "--video-encoder", "OMX.qcom.video.encoder.avc"},
		},
		{
			name: "enable switches",
			modify: func(s *models.MirroringSettings) {
				s.Fullscreen = true
				s.Borderless = true
				s.AlwaysOnTop = true
				s.StayAwake = true
				s.TurnScreenOff = true
				s.ShowTouches = true
				s.PowerOffOnClose = true
				s.DisableScreensaver = true
			},
			want: []string{"-s", "ABC123", "--fullscreen", "--window-borderless", "--always-on-top", "--stay-awake",
				"--turn-screen-off", "--show-touches", "--power-off-on-close", "--disable-screensaver"},
		},
		{
			name: "disable switches",
			modify: func(s *models.MirroringSettings) {
				s.AudioEnabled = false
				s.ShortcutKeysEnabled = false
			},
			want: []string{"-s", "ABC123", "--no-audio", "--shortcut-mod=rsuper"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := models.DefaultMirroringSettings()
			if tt.modify != nil {
				tt.modify(&s)
			}
			got := BuildArgs("ABC123", s, tt.override)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("BuildArgs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
