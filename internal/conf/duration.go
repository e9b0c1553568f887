package conf

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes human-readable strings
// ("30s", "5m"). Bare numbers are interpreted as whole seconds, matching the
// *_sec columns operators already know from rules and channels.
type Duration time.Duration

// Std converts Duration to a standard time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Seconds returns the duration truncated to whole seconds.
func (d Duration) Seconds() int {
	return int(time.Duration(d) / time.Second)
}

// MarshalJSON outputs the duration as a JSON string like "30s".
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "30s", a number of seconds, or null.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case string:
		parsed, err := parseDurationString(value)
		if err != nil {
			return err
		}
		*d = parsed
	case float64:
		*d = fromSeconds(value)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration value: %v (type %T)", v, v)
	}
	return nil
}

// MarshalYAML outputs the duration as a human-readable string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts "30s" or a bare integer number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected scalar duration value, got %v", value.Kind)
	}
	parsed, err := parseDurationString(value.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func parseDurationString(s string) (Duration, error) {
	if parsed, err := time.ParseDuration(s); err == nil {
		return Duration(parsed), nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Duration(time.Duration(secs) * time.Second), nil
	}
	return 0, fmt.Errorf("invalid duration %q: expected format like \"30s\" or a number of seconds", s)
}

func fromSeconds(v float64) Duration {
	return Duration(time.Duration(v * float64(time.Second)))
}

var durationType = reflect.TypeFor[Duration]()

// DurationDecodeHook lets viper decode "30s" or 30 into conf.Duration fields
// while keeping the stock time.Duration and comma-slice hooks.
func DurationDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.DecodeHookFuncType(func(from, to reflect.Type, data any) (any, error) {
			if to != durationType {
				return data, nil
			}

			switch v := data.(type) {
			case string:
				return parseDurationString(v)
			case int:
				return Duration(time.Duration(v) * time.Second), nil
			case int64:
				return Duration(time.Duration(v) * time.Second), nil
			case float64:
				return fromSeconds(v), nil
			default:
				return data, nil
			}
		}),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}
