package service

import (
	"strconv"

	"devicemirror/models"
)

// BuildArgs maps mirroring settings to scrcpy flags. Values equal to
// their default produce no flag; enable switches appear only when true and
// the audio, clipboard and shortcut switches only when false. A non-empty
// encoderOverride wins over the settings encoder.
func BuildArgs(deviceID string, s models.MirroringSettings, encoderOverride string) []string {
	s.Normalize()
	args := []string{"-s", deviceID}

	if s.MaxFps != models.DefaultMaxFps {
		args = append(args, "--max-fps", strconv.Itoa(s.MaxFps))
	}
	if s.VideoBitrateKbps != models.DefaultVideoBitrateKbps {
		args = append(args, "--video-bit-rate", strconv.Itoa(s.VideoBitrateKbps)+"K")
	}
	if s.MaxSize != nil {
		args = append(args, "--max-size", strconv.Itoa(*s.MaxSize))
	}
	if s.ScreenWidth != models.DefaultScreenWidth || s.ScreenHeight != models.DefaultScreenHeight {
		args = append(args,
			"--window-width", strconv.Itoa(s.ScreenWidth),
			"--window-height", strconv.Itoa(s.ScreenHeight))
	}
	if s.LockVideoOrientation != nil {
		args = append(args, "--capture-orientation", strconv.Itoa(*s.LockVideoOrientation))
	}

	encoder := encoderOverride
	if encoder == "" && s.EncoderName != nil {
		encoder = *s.EncoderName
	}
	if encoder != "" {
		args = append(args, "--video-encoder", encoder)
	}

	switches := []struct {
		on   bool
		flag string
	}{
		{s.Fullscreen, "--fullscreen"},
		{s.Borderless, "--window-borderless"},
		{s.AlwaysOnTop, "--always-on-top"},
		{s.StayAwake, "--stay-awake"},
		{s.TurnScreenOff, "--turn-screen-off"},
		{s.ShowTouches, "--show-touches"},
		{s.PowerOffOnClose, "--power-off-on-close"},
		{s.DisableScreensaver, "--disable-screensaver"},
		{!s.AudioEnabled, "--no-audio"},
		{!s.ClipboardAutosync, "--no-clipboard-autosync"},
		{!s.ShortcutKeysEnabled, "--shortcut-mod=rsuper"},
	}
	for _, sw := range switches {
		if sw.on {
			args = append(args, sw.flag)
		}
	}
	return args
}
