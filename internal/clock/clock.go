// Package clock provides the hybrid-logical-clock ordering primitive and
// the wall-clock helpers the rest of the service builds on.
package clock

import "time"

// NowMsUTC returns the current wall time as signed milliseconds since the
// Unix epoch, UTC. All stored timestamps in this service use this unit.
func NowMsUTC() int64 {
	return time.Now().UTC().UnixMilli()
}

// YearMonthUTC returns the current UTC year*100+month, used to key the
// monthly outbound-byte counter. Deriving this from epoch milliseconds
// with UTC rules avoids naive days/30 arithmetic drifting across months
// with different lengths.
func YearMonthUTC(msUTC int64) int {
	t := time.UnixMilli(msUTC).UTC()
	return t.Year()*100 + int(t.Month())
}

// HLC is a hybrid-logical-clock triple: wall time, a per-device tie-break
// counter, and the originating device id. It is a total order over
// per-record versions across devices, not a timestamp in its own right.
type HLC struct {
	WallTimeMsUTC int64  `json:"wallTimeMsUtc"`
	Counter       int64  `json:"counter"`
	DeviceID      string `json:"deviceId"`
}

// Compare returns -1, 0, or 1 as a orders before, equal to, or after b,
// comparing the triple lexicographically. Device-id comparison is
// byte-lexicographic (device ids are opaque client strings, so UTF-8
// code-unit order is sufficient).
func Compare(a, b HLC) int {
	if a.WallTimeMsUTC != b.WallTimeMsUTC {
		if a.WallTimeMsUTC < b.WallTimeMsUTC {
			return -1
		}
		return 1
	}
	if a.Counter != b.Counter {
		if a.Counter < b.Counter {
			return -1
		}
		return 1
	}
	switch {
	case a.DeviceID < b.DeviceID:
		return -1
	case a.DeviceID > b.DeviceID:
		return 1
	default:
		return 0
	}
}

// IsNewer reports whether a is strictly newer than b - the server's only
// role with respect to HLC ordering.
func IsNewer(a, b HLC) bool {
	return Compare(a, b) > 0
}

// ServerDeviceID is the device id stamped on server-authored tombstones
// produced during attachment compaction.
const ServerDeviceID = "server"

// ServerAuthored builds the HLC for a server-authored tombstone: counter
// zero, device "server", and a wall time guaranteed to be strictly newer
// than the row it supersedes.
func ServerAuthored(existingWallMsUTC int64) HLC {
	wall := existingWallMsUTC
	now := NowMsUTC()
	if now > wall {
		wall = now
	}
	return HLC{WallTimeMsUTC: wall + 1, Counter: 0, DeviceID: ServerDeviceID}
}
