package implementation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/xaionaro-go/avsession/types"
)

// Properties is the request an implementation is selected by.
type Properties struct {
	Implementation     types.ImplementationType
	ImplementationName string
	MinAPIVersion      types.APIVersion

	DecoderCodecs []types.CodecID
	EncoderCodecs []types.CodecID
	RequireVPP    bool

	HardwareDeviceType types.HardwareDeviceType
	HardwareDeviceName types.HardwareDeviceName

	// Preference orders the matching implementations by their type; types
	// not listed go last. Defaults to DefaultPreference.
	Preference []types.ImplementationType
}

var DefaultPreference = []types.ImplementationType{
	types.ImplementationTypeHardware,
	types.ImplementationTypeSoftware,
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrConfiguration, fmt.Sprintf(format, args...))
}

// Validate checks the properties for unknown values and conflicts.
func (p Properties) Validate() error {
	if !p.Implementation.IsValid() {
		return configErrorf("unknown implementation type %s", p.Implementation)
	}
	if strings.TrimSpace(p.ImplementationName) != p.ImplementationName {
		return configErrorf("implementation name %q has leading or trailing spaces", p.ImplementationName)
	}
	for _, codecID := range slices.Concat(p.DecoderCodecs, p.EncoderCodecs) {
		if !codecID.IsValid() {
			return configErrorf("unknown codec %s", codecID)
		}
	}
	if p.HardwareDeviceType < types.HardwareDeviceTypeNone || strings.HasPrefix(p.HardwareDeviceType.String(), "unknown_") {
		return configErrorf("unknown hardware device type %s", p.HardwareDeviceType)
	}
	if p.Implementation == types.ImplementationTypeSoftware {
		if p.HardwareDeviceType.IsHardware() {
			return configErrorf("software implementation is requested together with hardware device type %s", p.HardwareDeviceType)
		}
		if p.HardwareDeviceName != "" {
			return configErrorf("software implementation is requested together with hardware device %q", p.HardwareDeviceName)
		}
	}
	if p.HardwareDeviceName != "" && !p.HardwareDeviceType.IsHardware() {
		return configErrorf("hardware device %q is given without a hardware device type", p.HardwareDeviceName)
	}
	seen := map[types.ImplementationType]struct{}{}
	for _, t := range p.Preference {
		if t != types.ImplementationTypeSoftware && t != types.ImplementationTypeHardware {
			return configErrorf("invalid implementation type %s in the preference list", t)
		}
		if _, ok := seen[t]; ok {
			return configErrorf("implementation type %s is listed twice in the preference list", t)
		}
		seen[t] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy.
func (p Properties) Clone() Properties {
	p.DecoderCodecs = slices.Clone(p.DecoderCodecs)
	p.EncoderCodecs = slices.Clone(p.EncoderCodecs)
	p.Preference = slices.Clone(p.Preference)
	return p
}

func (p Properties) preference() []types.ImplementationType {
	if len(p.Preference) == 0 {
		return DefaultPreference
	}
	return p.Preference
}

func (p Properties) rank(t types.ImplementationType) int {
	pref := p.preference()
	if idx := slices.Index(pref, t); idx >= 0 {
		return idx
	}
	return len(pref)
}

// match returns nil if the implementation satisfies the properties, or
// the reason why it does not.
func (p Properties) match(d Description) error {
	if p.Implementation != types.ImplementationTypeAny && d.Type != p.Implementation {
		return fmt.Errorf("type %s != %s", d.Type, p.Implementation)
	}
	if p.ImplementationName != "" && d.Name != p.ImplementationName {
		return fmt.Errorf("name %q != %q", d.Name, p.ImplementationName)
	}
	if !d.APIVersion.AtLeast(p.MinAPIVersion) {
		return fmt.Errorf("API version %s < %s", d.APIVersion, p.MinAPIVersion)
	}
	for _, codecID := range p.DecoderCodecs {
		if _, ok := d.Decoder(codecID); !ok {
			return fmt.Errorf("no %s decoder", codecID)
		}
	}
	for _, codecID := range p.EncoderCodecs {
		if _, ok := d.Encoder(codecID); !ok {
			return fmt.Errorf("no %s encoder", codecID)
		}
	}
	if p.RequireVPP && d.VPP == nil {
		return fmt.Errorf("no VPP")
	}
	if p.HardwareDeviceType.IsHardware() && !d.SupportsDevice(p.HardwareDeviceType) {
		return fmt.Errorf("device type %s is not supported", p.HardwareDeviceType)
	}
	return nil
}
