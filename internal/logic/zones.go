package logic

import (
	"errors"
	"fmt"
	"strings"
)

// zoneNames is the zone registry. The index of a zone drives its climate
// offset, so reordering changes every zone's simulated profile.
var zoneNames = [...]string{
	"Babylon 1",
	"Babylon 2",
	"Mine",
	"Tent 1",
	"Tent 2",
	"Bear Mountain",
}

// ErrInvalidZone is returned for zone identifiers missing from the registry.
var ErrInvalidZone = errors.New("invalid zone")

// InvalidZoneError names the rejected zone and the valid set.
type InvalidZoneError struct {
	Zone  string
	Valid []string
}

func (e *InvalidZoneError) Error() string {
	return fmt.Sprintf("invalid zone %q: must be one of [%s]", e.Zone, strings.Join(e.Valid, ", "))
}

// Is makes errors.Is(err, ErrInvalidZone) match.
func (e *InvalidZoneError) Is(target error) bool {
	return target == ErrInvalidZone
}

// Zones returns the registry in order. The returned slice is a copy.
func Zones() []string {
	out := make([]string, len(zoneNames))
	copy(out, zoneNames[:])
	return out
}

// NumZones returns the number of registered zones.
func NumZones() int {
	return len(zoneNames)
}

// ZoneIndex returns the stable index of zone in the registry.
func ZoneIndex(zone string) (int, bool) {
	for i, z := range zoneNames {
		if z == zone {
			return i, true
		}
	}
	return -1, false
}

// ValidateZone returns an *InvalidZoneError unless zone is registered.
func ValidateZone(zone string) error {
	if _, ok := ZoneIndex(zone); !ok {
		return &InvalidZoneError{Zone: zone, Valid: Zones()}
	}
	return nil
}
