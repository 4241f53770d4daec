package vidstream

import (
	"fmt"
	"strings"
	"sync"
)

// RegistryConfig lists the plugins of a Registry in priority order.
type RegistryConfig struct {
	Codecs   []*Codec
	Sources  []SourceDriver
	Displays []DisplayDriver
	Filters  []Filter
}

// Registry is the immutable set of codecs, device drivers and filters
// available to sessions. It is built once at startup and shared.
type Registry struct {
	codecs   []*Codec
	sources  []SourceDriver
	displays []DisplayDriver
	filters  []Filter
}

// NewRegistry validates cfg and builds a Registry. Names are compared
// case-insensitively and must be unique per kind; codecs may share a name
// when their format parameters differ.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	r := &Registry{}

	type codecKey struct{ name, fmtp string }
	seenCodecs := make(map[codecKey]bool)
	for _, c := range cfg.Codecs {
		if c == nil || c.Name == "" {
			return nil, fmt.Errorf("%w: codec without name", ErrConfiguration)
		}
		if _, err := NewPacketizer(c.Family); err != nil {
			return nil, fmt.Errorf("%w: codec %s: %v", ErrConfiguration, c.Name, err)
		}
		if c.ClockRate == 0 {
			return nil, fmt.Errorf("%w: codec %s: zero clock rate", ErrConfiguration, c.Name)
		}
		k := codecKey{strings.ToLower(c.Name), c.Fmtp}
		if seenCodecs[k] {
			return nil, fmt.Errorf("%w: duplicate codec %s", ErrConfiguration, c)
		}
		seenCodecs[k] = true
		r.codecs = append(r.codecs, c)
	}

	if err := uniqueNames("source", cfg.Sources, SourceDriver.Name); err != nil {
		return nil, err
	}
	if err := uniqueNames("display", cfg.Displays, DisplayDriver.Name); err != nil {
		return nil, err
	}
	if err := uniqueNames("filter", cfg.Filters, Filter.Name); err != nil {
		return nil, err
	}
	r.sources = append(r.sources, cfg.Sources...)
	r.displays = append(r.displays, cfg.Displays...)
	r.filters = append(r.filters, cfg.Filters...)
	return r, nil
}

func uniqueNames[T any](kind string, items []T, name func(T) string) error {
	seen := make(map[string]bool)
	for _, it := range items {
		n := strings.ToLower(name(it))
		if n == "" {
			return fmt.Errorf("%w: %s driver without name", ErrConfiguration, kind)
		}
		if seen[n] {
			return fmt.Errorf("%w: duplicate %s %q", ErrConfiguration, kind, n)
		}
		seen[n] = true
	}
	return nil
}

// Codecs returns the codecs in priority order.
func (r *Registry) Codecs() []*Codec {
	return append([]*Codec(nil), r.codecs...)
}

// Codec finds the first codec with the given name.
func (r *Registry) Codec(name string) *Codec {
	for _, c := range r.codecs {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// FindCodec finds the first codec serving an SDP format.
func (r *Registry) FindCodec(name, fmtp string) *Codec {
	for _, c := range r.codecs {
		if c.Matches(name, fmtp) {
			return c
		}
	}
	return nil
}

// Source finds a capture driver. An empty name selects the first one.
func (r *Registry) Source(name string) SourceDriver {
	for _, d := range r.sources {
		if name == "" || strings.EqualFold(d.Name(), name) {
			return d
		}
	}
	return nil
}

// Sources returns the capture drivers in priority order.
func (r *Registry) Sources() []SourceDriver {
	return append([]SourceDriver(nil), r.sources...)
}

// Display finds a display driver. An empty name selects the first one.
func (r *Registry) Display(name string) DisplayDriver {
	for _, d := range r.displays {
		if name == "" || strings.EqualFold(d.Name(), name) {
			return d
		}
	}
	return nil
}

// Displays returns the display drivers in priority order.
func (r *Registry) Displays() []DisplayDriver {
	return append([]DisplayDriver(nil), r.displays...)
}

// Filters returns the filters in registration order.
func (r *Registry) Filters() []Filter {
	return append([]Filter(nil), r.filters...)
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns the registry of built-in plugins: codecs with a
// native implementation present, the test pattern and platform capture
// drivers and the null display.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		cfg := RegistryConfig{
			Codecs:   builtinCodecs(),
			Sources:  append([]SourceDriver{&TestPatternDriver{}}, platformSourceDrivers()...),
			Displays: []DisplayDriver{NullDisplayDriver{}},
		}
		r, err := NewRegistry(cfg)
		if err != nil {
			panic(fmt.Sprintf("vidstream: built-in registry: %v", err))
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

// builtinCodecs returns the codecs whose plugins are available.
func builtinCodecs() []*Codec {
	var codecs []*Codec
	if nativeH264Encoder != nil || nativeH264Decoder != nil {
		codecs = append(codecs, NewH264Codec(nativeH264Encoder, nativeH264Decoder))
	}
	return codecs
}

// Set by platform files when the native plugins load.
var (
	nativeH264Encoder   EncoderFactory
	nativeH264Decoder   DecoderFactory
	platformSourceHooks []func() SourceDriver
)

func platformSourceDrivers() []SourceDriver {
	var drivers []SourceDriver
	for _, hook := range platformSourceHooks {
		if d := hook(); d != nil {
			drivers = append(drivers, d)
		}
	}
	return drivers
}
