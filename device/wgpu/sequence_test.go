package wgpu

import "testing"

func TestSplitWorkgroups(t *testing.T) {
	cases := []struct {
		name  string
		count uint32
	}{
		{"zero", 0},
		{"one", 1},
		{"at the limit", maxWorkgroupsPerDimension},
		{"just over the limit", maxWorkgroupsPerDimension + 1},
		{"n=2^27 elementwise grid", 1 << 27 / 1024},
		{"n=2^30 butterfly grid", 1 << 29 / 1024},
		{"n=2^30 elementwise grid", 1 << 30 / 1024},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x, y := splitWorkgroups(tc.count)
			if x == 0 || y == 0 {
				t.Fatalf("splitWorkgroups(%d) = (%d, %d): dimensions must be nonzero", tc.count, x, y)
			}
			if x > maxWorkgroupsPerDimension || y > maxWorkgroupsPerDimension {
				t.Fatalf("splitWorkgroups(%d) = (%d, %d): exceeds per-dimension limit %d",
					tc.count, x, y, maxWorkgroupsPerDimension)
			}
			total := uint64(x) * uint64(y)
			if tc.count > 0 && total < uint64(tc.count) {
				t.Fatalf("splitWorkgroups(%d) = (%d, %d): covers only %d workgroups",
					tc.count, x, y, total)
			}
			// Overshoot is bounded by one extra row of X; the kernels
			// bounds-check, but runaway padding would waste dispatch.
			if tc.count > 0 && total >= uint64(tc.count)+uint64(x) {
				t.Errorf("splitWorkgroups(%d) = (%d, %d): overshoot %d exceeds one row",
					tc.count, x, y, total-uint64(tc.count))
			}
		})
	}

	if x, y := splitWorkgroups(100); x != 100 || y != 1 {
		t.Errorf("splitWorkgroups(100) = (%d, %d), want (100, 1)", x, y)
	}
}
