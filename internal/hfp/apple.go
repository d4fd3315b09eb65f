package hfp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bluealsa/bluealsa-go/internal/registry"
)

// AppleXAPLFeatures is the feature bitmask the AG advertises back in its
// +XAPL response (battery reporting and docked-state reporting are the
// only bits this implementation needs; spec.md §4.5's Apple extension is
// otherwise a pass-through).
const AppleXAPLFeatures = 0x02 | 0x08 // bit1: battery, bit3: docked indicator

// ParseXAPL parses a "+XAPL=<vendor>-<product>-<swversion>,<features>" SET
// argument body into a registry.AppleExtension (battery/docked fields are
// filled in separately from +IPHONEACCEV).
func ParseXAPL(args string) (registry.AppleExtension, error) {
	parts := strings.SplitN(args, ",", 2)
	if len(parts) != 2 {
		return registry.AppleExtension{}, fmt.Errorf("hfp: malformed +XAPL args %q", args)
	}
	idParts := strings.SplitN(parts[0], "-", 3)
	if len(idParts) != 3 {
		return registry.AppleExtension{}, fmt.Errorf("hfp: malformed +XAPL vendor-product-sw %q", parts[0])
	}
	vendor, err := strconv.ParseUint(idParts[0], 16, 16)
	if err != nil {
		return registry.AppleExtension{}, fmt.Errorf("hfp: malformed +XAPL vendor %q", idParts[0])
	}
	product, err := strconv.ParseUint(idParts[1], 16, 16)
	if err != nil {
		return registry.AppleExtension{}, fmt.Errorf("hfp: malformed +XAPL product %q", idParts[1])
	}
	features, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
	if err != nil {
		return registry.AppleExtension{}, fmt.Errorf("hfp: malformed +XAPL features %q", parts[1])
	}
	return registry.AppleExtension{
		Vendor:          uint16(vendor),
		Product:         uint16(product),
		SoftwareVersion: idParts[2],
		FeatureBits:     uint32(features),
	}, nil
}

// FormatXAPLResponse formats the AG's "+XAPL=<features>,<version>" reply.
func FormatXAPLResponse() string {
	return FormatResult("+XAPL", fmt.Sprintf("%d,7", AppleXAPLFeatures))
}

// ParseIPHONEACCEV parses a "+IPHONEACCEV=<count>,<key1>,<val1>,..." SET
// argument body. Key 1 is battery level on a 0-9 scale, key 2 is docked
// state (spec.md §4.5: "Apple +XAPL/+IPHONEACCEV carry battery on a 0-9
// scale and dock state").
func ParseIPHONEACCEV(args string) (batteryHostPct int, docked bool, err error) {
	fields := strings.Split(args, ",")
	if len(fields) < 1 {
		return 0, false, fmt.Errorf("hfp: malformed +IPHONEACCEV args %q", args)
	}
	n, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil || n < 0 || len(fields) != 1+2*n {
		return 0, false, fmt.Errorf("hfp: malformed +IPHONEACCEV count %q", args)
	}
	haveBattery := false
	for i := 0; i < n; i++ {
		key, kerr := strconv.Atoi(strings.TrimSpace(fields[1+2*i]))
		val, verr := strconv.Atoi(strings.TrimSpace(fields[2+2*i]))
		if kerr != nil || verr != nil {
			return 0, false, fmt.Errorf("hfp: malformed +IPHONEACCEV pair %q", args)
		}
		switch key {
		case 1: // battery, 0-9 scale
			batteryHostPct = appleBatteryToHostPct(val)
			haveBattery = true
		case 2: // dock state, 0 undocked / 1 docked
			docked = val != 0
		}
	}
	if !haveBattery {
		return 0, docked, fmt.Errorf("hfp: +IPHONEACCEV missing battery key")
	}
	return batteryHostPct, docked, nil
}

// appleBatteryToHostPct expands Apple's 0-9 battery scale to a 0-100 host
// percentage (9 means full).
func appleBatteryToHostPct(v int) int {
	if v < 0 {
		v = 0
	}
	if v > 9 {
		v = 9
	}
	return (v * 100) / 9
}
