package gcp

import (
	"strconv"
	"strings"
)

// shape is the billable size of a machine type.
type shape struct {
	family string
	vcpus  float64
	memGB  float64
	custom bool
}

// sharedCore machine types bill a fraction of their vCPUs.
var sharedCore = map[string]shape{
	"e2-micro":  {family: "e2", vcpus: 0.25, memGB: 1},
	"e2-small":  {family: "e2", vcpus: 0.5, memGB: 2},
	"e2-medium": {family: "e2", vcpus: 1, memGB: 4},
}

// memPerCPU is GB of memory per vCPU for predefined classes. Families not
// listed use the "" row.
var memPerCPU = map[string]map[string]float64{
	"standard": {"n1": 3.75, "": 4},
	"highmem":  {"n1": 6.5, "": 8},
	"highcpu":  {"n1": 0.9, "c3": 2, "c3d": 2, "": 1},
}

// machineShape decodes predefined ("n2-standard-4") and custom
// ("n2-custom-4-16384", "custom-2-7680") machine type names.
func machineShape(machineType string) (shape, bool) {
	if s, ok := sharedCore[machineType]; ok {
		return s, true
	}
	parts := strings.Split(machineType, "-")
	for i, p := range parts {
		if p != "custom" || i+2 >= len(parts) {
			continue
		}
		cpus, err1 := strconv.Atoi(parts[i+1])
		mb, err2 := strconv.Atoi(parts[i+2])
		if err1 != nil || err2 != nil {
			return shape{}, false
		}
		family := "n1"
		if i > 0 {
			family = parts[0]
		}
		return shape{family: family, vcpus: float64(cpus), memGB: float64(mb) / 1024, custom: true}, true
	}
	if len(parts) != 3 {
		return shape{}, false
	}
	family, class := parts[0], parts[1]
	cpus, err := strconv.Atoi(parts[2])
	if err != nil || cpus <= 0 {
		return shape{}, false
	}
	ratios, ok := memPerCPU[class]
	if !ok {
		return shape{}, false
	}
	ratio, ok := ratios[family]
	if !ok {
		ratio = ratios[""]
	}
	return shape{family: family, vcpus: float64(cpus), memGB: float64(cpus) * ratio}, true
}

// lastSegment returns the resource name at the end of a GCP resource URL.
func lastSegment(url string) string {
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}
