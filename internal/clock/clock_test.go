package clock

import "testing"

func TestCompareOrdersByWallTimeFirst(t *testing.T) {
	a := HLC{WallTimeMsUTC: 100, Counter: 5, DeviceID: "z"}
	b := HLC{WallTimeMsUTC: 200, Counter: 0, DeviceID: "a"}
	if Compare(a, b) != -1 {
		t.Fatalf("Compare(a, b) = %d, want -1", Compare(a, b))
	}
	if Compare(b, a) != 1 {
		t.Fatalf("Compare(b, a) = %d, want 1", Compare(b, a))
	}
}

func TestCompareFallsBackToCounter(t *testing.T) {
	a := HLC{WallTimeMsUTC: 100, Counter: 1, DeviceID: "z"}
	b := HLC{WallTimeMsUTC: 100, Counter: 2, DeviceID: "a"}
	if Compare(a, b) != -1 {
		t.Fatalf("Compare(a, b) = %d, want -1", Compare(a, b))
	}
}

func TestCompareFallsBackToDeviceID(t *testing.T) {
	a := HLC{WallTimeMsUTC: 100, Counter: 1, DeviceID: "device-a"}
	b := HLC{WallTimeMsUTC: 100, Counter: 1, DeviceID: "device-b"}
	if Compare(a, b) != -1 {
		t.Fatalf("Compare(a, b) = %d, want -1", Compare(a, b))
	}
	if Compare(a, a) != 0 {
		t.Fatalf("Compare(a, a) = %d, want 0", Compare(a, a))
	}
}

func TestIsNewerStrict(t *testing.T) {
	same := HLC{WallTimeMsUTC: 100, Counter: 1, DeviceID: "x"}
	if IsNewer(same, same) {
		t.Fatal("IsNewer(same, same) = true, want false: equal HLCs are never strictly newer")
	}

	newer := HLC{WallTimeMsUTC: 101, Counter: 0, DeviceID: "x"}
	if !IsNewer(newer, same) {
		t.Fatal("IsNewer(newer, same) = false, want true")
	}
	if IsNewer(same, newer) {
		t.Fatal("IsNewer(same, newer) = true, want false")
	}
}

func TestServerAuthoredIsStrictlyNewerThanExisting(t *testing.T) {
	existing := HLC{WallTimeMsUTC: NowMsUTC() + 1_000_000, Counter: 9, DeviceID: "device-a"}
	tomb := ServerAuthored(existing.WallTimeMsUTC)

	if !IsNewer(tomb, existing) {
		t.Fatalf("server-authored tombstone %+v is not newer than existing %+v", tomb, existing)
	}
	if tomb.DeviceID != ServerDeviceID {
		t.Fatalf("tomb.DeviceID = %q, want %q", tomb.DeviceID, ServerDeviceID)
	}
}

func TestServerAuthoredUsesWallClockWhenAhead(t *testing.T) {
	past := NowMsUTC() - 1_000_000
	tomb := ServerAuthored(past)
	if tomb.WallTimeMsUTC <= NowMsUTC() {
		t.Fatalf("expected server-authored wall time to track the current clock when existing is stale")
	}
}

func TestYearMonthUTC(t *testing.T) {
	if got := YearMonthUTC(0); got != 197001 {
		t.Fatalf("YearMonthUTC(0) = %d, want 197001", got)
	}
}

func TestYearMonthUTCAdvancesAcrossMonthBoundary(t *testing.T) {
	jan31 := YearMonthUTC(2678399000) // 1970-01-31T23:59:59Z
	feb1 := YearMonthUTC(2678400000)  // 1970-02-01T00:00:00Z
	if jan31 != 197001 || feb1 != 197002 {
		t.Fatalf("got jan31=%d feb1=%d, want 197001/197002", jan31, feb1)
	}
}
