package optimizer

import (
	"regexp"
	"strconv"
	"strings"
)

var sizeLadder = []string{
	"nano", "micro", "small", "medium", "large", "xlarge",
	"2xlarge", "4xlarge", "8xlarge", "12xlarge", "16xlarge", "24xlarge",
}

var (
	azureSize = regexp.MustCompile(`^(Standard_[A-Za-z]+)(\d+)(.*)$`)
	gcpSize   = regexp.MustCompile(`^([a-z0-9]+-[a-z]+-)(\d+)$`)
)

// StepDown returns the next smaller SKU in the same family.
func StepDown(sku string) (string, bool) { return step(sku, -1) }

// StepUp returns the next larger SKU in the same family.
func StepUp(sku string) (string, bool) { return step(sku, 1) }

func step(sku string, dir int) (string, bool) {
	if i := strings.LastIndex(sku, "."); i > 0 {
		size := sku[i+1:]
		for j, s := range sizeLadder {
			if s != size {
				continue
			}
			k := j + dir
			if k < 0 || k >= len(sizeLadder) {
				return "", false
			}
			return sku[:i+1] + sizeLadder[k], true
		}
		return "", false
	}
	// Azure and GCP encode vCPUs as a number; a step halves or doubles it.
	for _, re := range []*regexp.Regexp{azureSize, gcpSize} {
		m := re.FindStringSubmatch(sku)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return "", false
		}
		if dir < 0 {
			if n < 2 || n%2 != 0 {
				return "", false
			}
			n /= 2
		} else {
			n *= 2
		}
		suffix := ""
		if len(m) > 3 {
			suffix = m[3]
		}
		return m[1] + strconv.Itoa(n) + suffix, true
	}
	return "", false
}
