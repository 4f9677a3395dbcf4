package adb

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// TrackDevices runs 'adb track-devices' and delivers every device-list
// snapshot adb pushes. The channel is closed when the stream ends or ctx
// is cancelled; the stream is only a hint that the list changed.
func (c *ADBClient) TrackDevices(ctx context.Context) (<-chan []DeviceEntry, error) {
	stream, err := c.runner.Start(ctx, c.ADBPath, "track-devices")
	if err != nil {
		return nil, fmt.Errorf("start track-devices: %w", err)
	}

	snapshots := make(chan []DeviceEntry, 1)
	go func() {
		defer close(snapshots)
		_ = ReadTrackStream(ctx, stream.Stdout, snapshots)
		_ = stream.Wait()
	}()
	return snapshots, nil
}

// ReadTrackStream decodes length-prefixed snapshots from r until EOF or
// ctx is done. Each frame is four hex digits of payload length followed
// by "serial\tstate" lines.
func ReadTrackStream(ctx context.Context, r io.Reader, out chan<- []DeviceEntry) error {
	br := bufio.NewReader(r)
	for {
		entries, err := readTrackFrame(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		select {
		case out <- entries:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func readTrackFrame(br *bufio.Reader) ([]DeviceEntry, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, err
	}
	length, err := strconv.ParseUint(string(header), 16, 16)
	if err != nil {
		return nil, fmt.Errorf("bad track-devices length %q: %w", header, err)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(br, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return parseTrackPayload(string(payload)), nil
}

func parseTrackPayload(payload string) []DeviceEntry {
	entries := make([]DeviceEntry, 0)
	for _, line := range strings.Split(payload, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		entries = append(entries, DeviceEntry{Serial: parts[0], State: parts[1]})
	}
	return entries
}
