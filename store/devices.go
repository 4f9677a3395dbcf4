package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"devicemirror/models"
)

const deviceColumns = `ip_port, display_name, brand, model, android_version, resolution, density,
	supported_encoders, encoder_name, device_settings, last_status, last_seen`

// UpsertDevice records freshly read metadata. The display name, encoder
// override and per-device settings of an existing row are kept.
func (s *Store) UpsertDevice(ctx context.Context, d models.Device) error {
	encoders, err := json.Marshal(nonNil(d.SupportedEncoders))
	if err != nil {
		return &StorageError{Op: "upsert device", Err: err}
	}
	name := d.DisplayName
	if name == "" {
		name = d.ID
	}

	return s.run(ctx, "upsert device", func(ctx context.Context, q querier) error {
		now := time.Now().Unix()
		_, err := q.ExecContext(ctx, `
			INSERT INTO devices (ip_port, display_name, brand, model, android_version, resolution, density,
				supported_encoders, last_status, last_seen, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(ip_port) DO UPDATE SET
				brand = excluded.brand,
				model = excluded.model,
				android_version = excluded.android_version,
				resolution = excluded.resolution,
				density = excluded.density,
				supported_encoders = excluded.supported_encoders,
				last_status = excluded.last_status,
				last_seen = excluded.last_seen,
				updated_at = excluded.updated_at`,
			d.ID, name, d.Brand, d.Model, d.AndroidVersion, d.Resolution, d.Density,
			string(encoders), string(d.Status), d.LastSeen, now, now)
		return err
	})
}

// GetDevice returns the persisted record for id.
func (s *Store) GetDevice(ctx context.Context, id string) (models.Device, error) {
	var device models.Device
	err := s.run(ctx, "get device", func(ctx context.Context, q querier) error {
		row := q.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE ip_port = ?`, id)
		d, err := scanDevice(row)
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{ID: id}
		}
		if err != nil {
			return err
		}
		device = d
		return nil
	})
	return device, err
}

// ListDevices returns every persisted device in insertion order.
func (s *Store) ListDevices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	err := s.run(ctx, "list devices", func(ctx context.Context, q querier) error {
		rows, err := q.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY rowid`)
		if err != nil {
			return err
		}
		defer rows.Close()

		devices = devices[:0]
		for rows.Next() {
			d, err := scanDevice(rows)
			if err != nil {
				return err
			}
			devices = append(devices, d)
		}
		return rows.Err()
	})
	return devices, err
}

// SetDisplayName overrides the name shown for id.
func (s *Store) SetDisplayName(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ValidationError{Field: "name", Message: "display name must not be empty"}
	}
	return s.updateDevice(ctx, "set display name", id, `UPDATE devices SET display_name = ?, updated_at = ? WHERE ip_port = ?`, name)
}

// SetDeviceEncoder stores a per-device encoder override; "" clears it.
func (s *Store) SetDeviceEncoder(ctx context.Context, id, encoder string) error {
	return s.updateDevice(ctx, "set device encoder", id, `UPDATE devices SET encoder_name = ?, updated_at = ? WHERE ip_port = ?`, strings.TrimSpace(encoder))
}

// UpdateDeviceSettings merges partial into the per-device settings
// object of id and returns the result. A null value removes its key.
func (s *Store) UpdateDeviceSettings(ctx context.Context, id string, partial map[string]any) (map[string]any, error) {
	if partial == nil {
		return nil, &ValidationError{Field: "settings", Message: "must be a JSON object"}
	}
	for key := range partial {
		if strings.TrimSpace(key) == "" {
			return nil, &ValidationError{Field: "settings", Message: "keys must not be empty"}
		}
	}
	if _, err := json.Marshal(partial); err != nil {
		return nil, &ValidationError{Field: "settings", Message: err.Error()}
	}

	merged := make(map[string]any)
	err := s.inTx(ctx, "update device settings", func(ctx context.Context, q querier) error {
		var raw string
		err := q.QueryRowContext(ctx, `SELECT device_settings FROM devices WHERE ip_port = ?`, id).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{ID: id}
		}
		if err != nil {
			return err
		}

		clear(merged)
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &merged); err != nil || merged == nil {
				s.logger.Warn("⚠️ Corrupt device settings, starting from empty", "device", id, "error", err)
				merged = make(map[string]any)
			}
		}
		for key, value := range partial {
			if value == nil {
				delete(merged, key)
				continue
			}
			merged[key] = value
		}

		encoded, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `UPDATE devices SET device_settings = ?, updated_at = ? WHERE ip_port = ?`,
			string(encoded), time.Now().Unix(), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *Store) updateDevice(ctx context.Context, op, id, query, value string) error {
	return s.run(ctx, op, func(ctx context.Context, q querier) error {
		res, err := q.ExecContext(ctx, query, value, time.Now().Unix(), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &NotFoundError{ID: id}
		}
		return nil
	})
}

// DisplayName returns the stored display name; ok is false when id is
// not persisted.
func (s *Store) DisplayName(ctx context.Context, id string) (name string, ok bool, err error) {
	err = s.run(ctx, "get display name", func(ctx context.Context, q querier) error {
		scanErr := q.QueryRowContext(ctx, `SELECT display_name FROM devices WHERE ip_port = ?`, id).Scan(&name)
		if errors.Is(scanErr, sql.ErrNoRows) {
			ok = false
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		ok = true
		return nil
	})
	return name, ok, err
}

// DisplayNames maps every persisted identity to its display name.
func (s *Store) DisplayNames(ctx context.Context) (map[string]string, error) {
	names := make(map[string]string)
	err := s.run(ctx, "list display names", func(ctx context.Context, q querier) error {
		rows, err := q.QueryContext(ctx, `SELECT ip_port, display_name FROM devices`)
		if err != nil {
			return err
		}
		defer rows.Close()

		clear(names)
		for rows.Next() {
			var id, name string
			if err := rows.Scan(&id, &name); err != nil {
				return err
			}
			names[id] = name
		}
		return rows.Err()
	})
	return names, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (models.Device, error) {
	var (
		d                  models.Device
		encoders, settings string
		status             string
	)
	err := row.Scan(&d.ID, &d.DisplayName, &d.Brand, &d.Model, &d.AndroidVersion, &d.Resolution, &d.Density,
		&encoders, &d.EncoderName, &settings, &status, &d.LastSeen)
	if err != nil {
		return d, err
	}
	d.Status = models.DeviceStatus(status)

	if err := json.Unmarshal([]byte(encoders), &d.SupportedEncoders); err != nil || d.SupportedEncoders == nil {
		d.SupportedEncoders = []string{}
	}
	if settings != "" && settings != "{}" {
		if err := json.Unmarshal([]byte(settings), &d.Settings); err != nil {
			d.Settings = nil
		}
	}
	return d, nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
