//go:build nogpu

package main

import (
	"errors"

	"github.com/gogpu/gpucopy/driver"
)

func openVulkan(uint32) (driver.Instance, error) {
	return nil, errors.New("vulkan backend not built (nogpu)")
}
