//go:build !nogpu

package main

import (
	"github.com/gogpu/gpucopy/driver"
	"github.com/gogpu/gpucopy/driver/halvk"
)

func openVulkan(subgroup uint32) (driver.Instance, error) {
	return halvk.New(halvk.Options{SubgroupSize: subgroup})
}
