package radsync

import (
	"fmt"

	"github.com/codelaboratoryltd/radbill/pkg/billing"
)

// ComposeRateLimit builds the group-level rate-limit attribute value from a
// package. The base form is "up/down" in kilobits; when burst limits are
// configured the burst-limit, burst-threshold and burst-time triplets plus
// the queue priority are appended:
//
//	10240k/20480k 20480k/40960k 8192k/16384k 30/30 4
//
// Rates of zero produce "0k/0k", which NAS implementations treat as unlimited.
func ComposeRateLimit(pkg *billing.Package) string {
	base := fmt.Sprintf("%dk/%dk", pkg.RateUpKbps, pkg.RateDownKbps)
	if pkg.BurstUpKbps == 0 && pkg.BurstDownKbps == 0 {
		return base
	}
	return fmt.Sprintf("%s %dk/%dk %dk/%dk %d/%d %d",
		base,
		pkg.BurstUpKbps, pkg.BurstDownKbps,
		pkg.BurstThresholdUpKbps, pkg.BurstThresholdDownKbps,
		pkg.BurstSeconds, pkg.BurstSeconds,
		pkg.Priority)
}
