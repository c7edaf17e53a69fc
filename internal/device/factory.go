package device

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Options carries the settings shared by all device implementations plus
// a free-form map decoded per-implementation.
type Options struct {
	Path  string                 `mapstructure:"device"`
	Extra map[string]interface{} `mapstructure:"options,omitempty"`
}

// Constructor builds a device from options.
type Constructor func(opts Options) (Device, error)

var registry = make(map[Source]Constructor)

// Register adds a device constructor. Implementations register from their
// package init.
func Register(source Source, fn Constructor) {
	registry[source] = fn
}

// Open builds the device for the named source.
func Open(source Source, opts Options) (Device, error) {
	fn, ok := registry[source]
	if !ok {
		return nil, fmt.Errorf("unsupported device source: %q", source)
	}
	return fn(opts)
}

// decodeExtra fills a typed option struct from the free-form options map.
// Duration fields accept strings like "33ms" so the values survive a trip
// through YAML.
func decodeExtra(extra map[string]interface{}, out interface{}) error {
	if extra == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(extra); err != nil {
		return fmt.Errorf("decode device options: %w", err)
	}
	return nil
}
