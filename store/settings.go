package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"devicemirror/models"
)

type fieldKind int

const (
	kindInt fieldKind = iota
	kindOptionalInt
	kindBool
	kindOptionalString
)

// fieldSpec is one entry of the mirroring allow-list.
type fieldSpec struct {
	kind     fieldKind
	min      int
	allowed  []int
	sentinel *int // legacy "unset" value for optional ints
}

func intPtr(n int) *int { return &n }

var mirroringFields = map[string]fieldSpec{
	"maxFps":               {kind: kindInt, min: 1},
	"videoBitrateKbps":     {kind: kindInt, min: 1},
	"maxSize":              {kind: kindOptionalInt, min: 1, sentinel: intPtr(0)},
	"screenWidth":          {kind: kindInt, min: 1},
	"screenHeight":         {kind: kindInt, min: 1},
	"lockVideoOrientation": {kind: kindOptionalInt, allowed: []int{0, 90, 180, 270}, sentinel: intPtr(-1)},
	"encoderName":          {kind: kindOptionalString},
	"fullscreen":           {kind: kindBool},
	"borderless":           {kind: kindBool},
	"alwaysOnTop":          {kind: kindBool},
	"stayAwake":            {kind: kindBool},
	"turnScreenOff":        {kind: kindBool},
	"showTouches":          {kind: kindBool},
	"powerOffOnClose":      {kind: kindBool},
	"disableScreensaver":   {kind: kindBool},
	"audioEnabled":         {kind: kindBool},
	"clipboardAutosync":    {kind: kindBool},
	"shortcutKeysEnabled":  {kind: kindBool},
}

// validate returns the value in its stored form. Unset optionals become nil.
func (f fieldSpec) validate(name string, v any) (any, error) {
	switch f.kind {
	case kindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, &ValidationError{Field: name, Message: fmt.Sprintf("expected a boolean, got %T", v)}
		}
		return b, nil

	case kindOptionalString:
		if v == nil {
			return nil, nil
		}
		s, ok := v.(string)
		if !ok {
			return nil, &ValidationError{Field: name, Message: fmt.Sprintf("expected a string, got %T", v)}
		}
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		return strings.TrimSpace(s), nil

	case kindOptionalInt:
		if v == nil {
			return nil, nil
		}
		n, ok := coerceInt(v)
		if !ok {
			return nil, &ValidationError{Field: name, Message: fmt.Sprintf("expected an integer, got %v", v)}
		}
		if f.sentinel != nil && n == *f.sentinel {
			return nil, nil
		}
		return f.checkRange(name, n)

	default:
		n, ok := coerceInt(v)
		if !ok {
			return nil, &ValidationError{Field: name, Message: fmt.Sprintf("expected an integer, got %v", v)}
		}
		return f.checkRange(name, n)
	}
}

func (f fieldSpec) checkRange(name string, n int) (any, error) {
	if len(f.allowed) > 0 && !slices.Contains(f.allowed, n) {
		return nil, &ValidationError{Field: name, Message: fmt.Sprintf("must be one of %v", f.allowed)}
	}
	if len(f.allowed) == 0 && n < f.min {
		return nil, &ValidationError{Field: name, Message: fmt.Sprintf("must be at least %d", f.min)}
	}
	return n, nil
}

// coerceInt accepts JSON numbers, Go integers and numeric strings, as long
// as the value is integral and fits in 32 bits.
func coerceInt(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

// MirroringSettings returns the stored document over the defaults, with
// legacy sentinels normalised to unset.
func (s *Store) MirroringSettings(ctx context.Context) (models.MirroringSettings, error) {
	settings := models.DefaultMirroringSettings()
	raw, err := s.rawDocument(ctx, models.MirroringDocument)
	if err != nil {
		return settings, err
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &settings); err != nil {
			s.logger.Warn("⚠️ Mirroring settings partially unreadable, using defaults for bad keys", "error", err)
		}
	}
	settings.Normalize()
	return settings, nil
}

// UpdateMirroringSettings validates partial against the allow-list and
// merges it into the stored document. Any bad key rejects the whole update.
func (s *Store) UpdateMirroringSettings(ctx context.Context, partial map[string]any) (models.MirroringSettings, error) {
	updates := make(map[string]any, len(partial))
	for _, key := range slices.Sorted(maps.Keys(partial)) {
		spec, ok := mirroringFields[key]
		if !ok {
			return models.MirroringSettings{}, &ValidationError{Field: key, Message: "unknown setting"}
		}
		value, err := spec.validate(key, partial[key])
		if err != nil {
			return models.MirroringSettings{}, err
		}
		updates[key] = value
	}

	if len(updates) > 0 {
		err := s.inTx(ctx, "update mirroring settings", func(ctx context.Context, q querier) error {
			return s.mergeDocument(ctx, q, models.MirroringDocument, updates)
		})
		if err != nil {
			return models.MirroringSettings{}, err
		}
		s.logger.Info("⚙️ Mirroring settings updated", "keys", slices.Sorted(maps.Keys(updates)))
	}
	return s.MirroringSettings(ctx)
}

// RefreshPolicy returns the stored refresh policy over the defaults.
// Out-of-range stored values fall back to safe ones.
func (s *Store) RefreshPolicy(ctx context.Context) (models.RefreshPolicy, error) {
	policy := models.DefaultRefreshPolicy()
	raw, err := s.rawDocument(ctx, models.RefreshPolicyDocument)
	if err != nil {
		return policy, err
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &policy); err != nil {
			s.logger.Warn("⚠️ Refresh policy partially unreadable, using defaults for bad keys", "error", err)
		}
	}

	switch policy.RefreshMode {
	case models.RefreshAuto, models.RefreshSmart, models.RefreshManual:
	default:
		policy.RefreshMode = models.RefreshSmart
	}
	if policy.RefreshInterval < models.MinimumRefreshInterval {
		policy.RefreshInterval = models.MinimumRefreshInterval
	}
	policy.SmartRefreshEvents = filterEvents(policy.SmartRefreshEvents)
	return policy, nil
}

// UpdateRefreshPolicy validates and merges a partial refresh policy.
// Unknown event names are dropped rather than rejected.
func (s *Store) UpdateRefreshPolicy(ctx context.Context, partial map[string]any) (models.RefreshPolicy, error) {
	updates := make(map[string]any, len(partial))
	for _, key := range slices.Sorted(maps.Keys(partial)) {
		v := partial[key]
		switch key {
		case "refreshMode":
			mode, _ := v.(string)
			switch models.RefreshMode(mode) {
			case models.RefreshAuto, models.RefreshSmart, models.RefreshManual:
				updates[key] = mode
			default:
				return models.RefreshPolicy{}, &ValidationError{Field: key, Message: "must be one of auto, smart, manual"}
			}

		case "refreshInterval":
			n, ok := coerceInt(v)
			if !ok {
				return models.RefreshPolicy{}, &ValidationError{Field: key, Message: fmt.Sprintf("expected an integer, got %v", v)}
			}
			if n < models.MinimumRefreshInterval {
				return models.RefreshPolicy{}, &ValidationError{Field: key, Message: fmt.Sprintf("must be at least %d ms", models.MinimumRefreshInterval)}
			}
			updates[key] = n

		case "smartRefreshEvents":
			events, ok := eventNames(v)
			if !ok {
				return models.RefreshPolicy{}, &ValidationError{Field: key, Message: "expected a list of event names"}
			}
			updates[key] = filterEvents(events)

		default:
			return models.RefreshPolicy{}, &ValidationError{Field: key, Message: "unknown setting"}
		}
	}

	if len(updates) > 0 {
		err := s.inTx(ctx, "update refresh policy", func(ctx context.Context, q querier) error {
			return s.mergeDocument(ctx, q, models.RefreshPolicyDocument, updates)
		})
		if err != nil {
			return models.RefreshPolicy{}, err
		}
		s.logger.Info("⚙️ Refresh policy updated", "keys", slices.Sorted(maps.Keys(updates)))
	}
	return s.RefreshPolicy(ctx)
}

func eventNames(v any) ([]models.RefreshEvent, bool) {
	switch list := v.(type) {
	case []models.RefreshEvent:
		return list, true
	case []string:
		out := make([]models.RefreshEvent, len(list))
		for i, name := range list {
			out[i] = models.RefreshEvent(name)
		}
		return out, true
	case []any:
		out := make([]models.RefreshEvent, 0, len(list))
		for _, item := range list {
			if name, ok := item.(string); ok {
				out = append(out, models.RefreshEvent(name))
			}
		}
		return out, true
	}
	return nil, false
}

// filterEvents keeps known events, first occurrence wins.
func filterEvents(events []models.RefreshEvent) []models.RefreshEvent {
	out := make([]models.RefreshEvent, 0, len(events))
	for _, ev := range events {
		if slices.Contains(models.KnownRefreshEvents, ev) && !slices.Contains(out, ev) {
			out = append(out, ev)
		}
	}
	return out
}

// rawDocument returns the stored JSON, or nil if the row is missing.
func (s *Store) rawDocument(ctx context.Context, id string) ([]byte, error) {
	var raw []byte
	err := s.run(ctx, "read "+id, func(ctx context.Context, q querier) error {
		var value string
		err := q.QueryRowContext(ctx, `SELECT value FROM settings WHERE id = ?`, id).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			raw = nil
			return nil
		}
		if err != nil {
			return err
		}
		raw = []byte(value)
		return nil
	})
	return raw, err
}

func (s *Store) readDocument(ctx context.Context, q querier, id string) (map[string]any, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM settings WHERE id = ?`, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := json.Unmarshal([]byte(value), &doc); err != nil {
		s.logger.Warn("⚠️ Stored settings document is corrupt, rebuilding from the update", "document", id, "error", err)
		return map[string]any{}, nil
	}
	return doc, nil
}

// mergeDocument applies updates over the stored document, writes it and
// reads it back to confirm every updated key persisted.
func (s *Store) mergeDocument(ctx context.Context, q querier, id string, updates map[string]any) error {
	doc, err := s.readDocument(ctx, q, id)
	if err != nil {
		return err
	}
	for key, value := range updates {
		doc[key] = value
	}

	value, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	if _, err := q.ExecContext(ctx,
		`INSERT INTO settings (id, value, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		id, string(value), now, now); err != nil {
		return err
	}

	stored, err := s.readDocument(ctx, q, id)
	if err != nil {
		return err
	}
	for key, want := range updates {
		if !sameJSON(stored[key], want) {
			return &StorageError{Op: "verify " + id, Err: fmt.Errorf("%w: %s", errVerifyFailed, key)}
		}
	}
	return nil
}

func sameJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}
