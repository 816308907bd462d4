package gpucopy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptions(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		check func(t *testing.T, o options)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, o options) {
				assert.Equal(t, uint32(DefaultElementCount), o.elements)
				assert.Equal(t, DefaultSubmissions, o.submissions)
				assert.Equal(t, "generated", o.source.String())
				assert.Zero(t, o.quickCheck)
				assert.False(t, o.pad)
				assert.Nil(t, o.seed)
			},
		},
		{
			name: "submissions clamp to one",
			opts: []Option{WithSubmissions(0)},
			check: func(t *testing.T, o options) {
				assert.Equal(t, 1, o.submissions)
			},
		},
		{
			name: "nil kernel source ignored",
			opts: []Option{WithKernelSource(nil)},
			check: func(t *testing.T, o options) {
				assert.Equal(t, "generated", o.source.String())
			},
		},
		{
			name: "fixed seed",
			opts: []Option{WithSeed(3)},
			check: func(t *testing.T, o options) {
				assert.Equal(t, uint64(3), o.seedValue())
			},
		},
		{
			name: "flags",
			opts: []Option{
				WithElementCount(1000), WithPadding(true), WithQuickCheck(100),
				WithDeviceLocal(true), WithEntryPoint("copy"), WithDump("out.spv"),
			},
			check: func(t *testing.T, o options) {
				assert.Equal(t, uint32(1000), o.elements)
				assert.True(t, o.pad)
				assert.Equal(t, 100, o.quickCheck)
				assert.True(t, o.deviceLocal)
				assert.Equal(t, "copy", o.entryPoint)
				assert.Equal(t, "out.spv", o.dump)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := defaultOptions()
			for _, opt := range tt.opts {
				opt(&o)
			}
			tt.check(t, o)
		})
	}
}
