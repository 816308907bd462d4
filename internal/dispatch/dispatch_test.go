package dispatch

import (
	"errors"
	"math/rand/v2"
	"testing"
)

func TestLocalGroupSize(t *testing.T) {
	tests := []struct {
		name                 string
		subgroup, max, total uint32
		want                 uint32
	}{
		{"fits at subgroup width", 32, 65535, 16384, 32},
		{"original example", 32, 65535, 16384 * 2 * 16 * 2, 32},
		{"exactly at limit", 32, 512, 16384, 64},
		{"needs multiplier 4", 32, 100, 10000, 128},
		{"width one", 1, 4, 16, 8},
		{"wide subgroup", 64, 65535, 1 << 30, 64 * 512},
		{"tiny total", 32, 65535, 1, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LocalGroupSize(tt.subgroup, tt.max, tt.total)
			if err != nil {
				t.Fatalf("LocalGroupSize() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("LocalGroupSize(%d, %d, %d) = %d, want %d", tt.subgroup, tt.max, tt.total, got, tt.want)
			}
		})
	}
}

func TestLocalGroupSizeErrors(t *testing.T) {
	if _, err := LocalGroupSize(0, 10, 10); !errors.Is(err, ErrZeroSubgroup) {
		t.Errorf("zero subgroup: error = %v", err)
	}
	if _, err := LocalGroupSize(32, 0, 10); !errors.Is(err, ErrZeroWorkgroupCount) {
		t.Errorf("zero max count: error = %v", err)
	}
}

// TestLocalGroupSizeProperty checks that the result is a positive multiple of
// the subgroup width and that ceil(total/local) fits the group count limit.
func TestLocalGroupSizeProperty(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for range 5000 {
		subgroup := uint32(1) << r.IntN(8)
		if r.IntN(4) == 0 {
			subgroup = uint32(r.IntN(100) + 1)
		}
		limit := uint32(r.IntN(70000) + 1)
		total := r.Uint32()
		if r.IntN(2) == 0 {
			total = uint32(r.IntN(1 << 20))
		}

		local, err := LocalGroupSize(subgroup, limit, total)
		if errors.Is(err, ErrWorkgroupTooLarge) {
			continue
		}
		if err != nil {
			t.Fatalf("LocalGroupSize(%d, %d, %d) error: %v", subgroup, limit, total, err)
		}
		if local == 0 || local%subgroup != 0 {
			t.Fatalf("LocalGroupSize(%d, %d, %d) = %d, not a positive multiple of %d",
				subgroup, limit, total, local, subgroup)
		}
		groups := (uint64(total) + uint64(local) - 1) / uint64(local)
		if groups > uint64(limit) {
			t.Fatalf("LocalGroupSize(%d, %d, %d) = %d needs %d groups > %d",
				subgroup, limit, total, local, groups, limit)
		}
	}
}

func TestNewPlan(t *testing.T) {
	lim := Limits{SubgroupSize: 32, MaxWorkgroupCountX: 65535, MaxWorkgroupSizeX: 1024, MaxWorkgroupInvocations: 1024}

	p, err := NewPlan(lim, 16384, false)
	if err != nil {
		t.Fatalf("NewPlan() error: %v", err)
	}
	if p.LocalSize != 32 || p.Groups != 512 || p.Elements != 16384 || p.Padded() {
		t.Errorf("NewPlan(16384) = %+v, want 32 x 512", p)
	}
}

func TestNewPlanUneven(t *testing.T) {
	lim := Limits{SubgroupSize: 32, MaxWorkgroupCountX: 65535}

	if _, err := NewPlan(lim, 1000, false); !errors.Is(err, ErrUnevenDispatch) {
		t.Fatalf("NewPlan(1000, no pad) error = %v, want ErrUnevenDispatch", err)
	}

	p, err := NewPlan(lim, 1000, true)
	if err != nil {
		t.Fatalf("NewPlan(1000, pad) error: %v", err)
	}
	if p.Elements != 1024 || p.Groups != 32 || !p.Padded() {
		t.Errorf("NewPlan(1000, pad) = %+v, want 1024 elements in 32 groups", p)
	}
	if uint64(p.Groups)*uint64(p.LocalSize) < uint64(p.Requested) {
		t.Errorf("plan %v under-covers %d elements", p, p.Requested)
	}
}

func TestNewPlanLimits(t *testing.T) {
	tests := []struct {
		name string
		lim  Limits
		n    uint32
		want error
	}{
		{"empty", Limits{SubgroupSize: 32, MaxWorkgroupCountX: 10}, 0, ErrNoElements},
		{"size x", Limits{SubgroupSize: 32, MaxWorkgroupCountX: 2, MaxWorkgroupSizeX: 64}, 1024, ErrWorkgroupTooLarge},
		{"invocations", Limits{SubgroupSize: 32, MaxWorkgroupCountX: 2, MaxWorkgroupInvocations: 128}, 1024, ErrWorkgroupTooLarge},
		{"zero subgroup", Limits{MaxWorkgroupCountX: 2}, 1024, ErrZeroSubgroup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPlan(tt.lim, tt.n, false); !errors.Is(err, tt.want) {
				t.Errorf("NewPlan() error = %v, want %v", err, tt.want)
			}
		})
	}
}
