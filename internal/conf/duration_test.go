package conf

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_MarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		duration Duration
		expected string
	}{
		{"zero", Duration(0), `"0s"`},
		{"retry delay", Duration(30 * time.Second), `"30s"`},
		{"silence cache", Duration(5 * time.Minute), `"5m0s"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := json.Marshal(tt.duration)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(b))
		})
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected Duration
	}{
		{"string", `"30s"`, Duration(30 * time.Second)},
		{"compound string", `"1h30m"`, Duration(90 * time.Minute)},
		{"numeric string seconds", `"120"`, Duration(2 * time.Minute)},
		{"number seconds", `30`, Duration(30 * time.Second)},
		{"fractional seconds", `1.5`, Duration(1500 * time.Millisecond)},
		{"null", `null`, Duration(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := Duration(time.Hour)
			require.NoError(t, json.Unmarshal([]byte(tt.input), &d))
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestDuration_UnmarshalJSON_Invalid(t *testing.T) {
	t.Parallel()

	for _, input := range []string{`"notaduration"`, `true`, `[1]`} {
		var d Duration
		assert.Error(t, json.Unmarshal([]byte(input), &d), input)
	}
}

func TestDuration_YAML(t *testing.T) {
	t.Parallel()

	type delivery struct {
		RetryDelay Duration `yaml:"retry_delay"`
	}

	var fromString delivery
	require.NoError(t, yaml.Unmarshal([]byte("retry_delay: 45s"), &fromString))
	assert.Equal(t, Duration(45*time.Second), fromString.RetryDelay)

	var fromInt delivery
	require.NoError(t, yaml.Unmarshal([]byte("retry_delay: 30"), &fromInt))
	assert.Equal(t, Duration(30*time.Second), fromInt.RetryDelay, "bare integers are seconds")

	var bad delivery
	assert.Error(t, yaml.Unmarshal([]byte("retry_delay: soon"), &bad))

	out, err := yaml.Marshal(delivery{RetryDelay: Duration(time.Minute)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "1m0s")
}

func TestDuration_Seconds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 30, Duration(30*time.Second).Seconds())
	assert.Equal(t, 1, Duration(1900*time.Millisecond).Seconds())
	assert.Equal(t, 30*time.Second, Duration(30*time.Second).Std())
}

func TestDurationDecodeHook(t *testing.T) {
	t.Parallel()

	var cfg struct {
		RetryDelay Duration      `mapstructure:"retry_delay"`
		Fallback   Duration      `mapstructure:"fallback"`
		Timeout    time.Duration `mapstructure:"timeout"`
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: DurationDecodeHook(),
		Result:     &cfg,
	})
	require.NoError(t, err)

	require.NoError(t, dec.Decode(map[string]any{
		"retry_delay": "2m",
		"fallback":    120,
		"timeout":     "5s",
	}))
	assert.Equal(t, Duration(2*time.Minute), cfg.RetryDelay)
	assert.Equal(t, Duration(120*time.Second), cfg.Fallback)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}
