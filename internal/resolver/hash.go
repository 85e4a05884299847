package resolver

import (
	"github.com/cespare/xxhash/v2"

	"github.com/emiliopalmerini/splitd/internal/domain"
)

// Salts keep the traffic gate and the variant pick independent of each other.
const (
	saltTraffic = "traffic"
	saltVariant = "variant"
)

// bucketResolution is the number of slots per percentage point.
const bucketResolution = 100

// Bucket maps (experimentID, visitorID, salt) to a stable value in [0, 100)
// with 0.01 resolution.
func Bucket(experimentID, visitorID, salt string) float64 {
	h := xxhash.New()
	_, _ = h.WriteString(experimentID)
	_, _ = h.WriteString(":")
	_, _ = h.WriteString(visitorID)
	_, _ = h.WriteString(":")
	_, _ = h.WriteString(salt)
	slot := h.Sum64() % (100 * bucketResolution)
	return float64(slot) / bucketResolution
}

// InTraffic reports whether the visitor falls inside the experiment's
// traffic allocation. Allocation 0 admits nobody, 100 admits everybody.
func InTraffic(exp *domain.Experiment, visitorID string) bool {
	return Bucket(exp.ID, visitorID, saltTraffic) < exp.TrafficAllocation
}

// SelectVariant walks variants in key order accumulating their shares and
// returns the first whose cumulative boundary exceeds value. If rounding
// leaves value past the last boundary, the last variant is returned.
func SelectVariant(exp *domain.Experiment, value float64) *domain.Variant {
	variants := exp.SortedVariants()
	if len(variants) == 0 {
		return nil
	}
	var cumulative float64
	for i := range variants {
		cumulative += variants[i].TrafficPercentage
		if value < cumulative {
			return &variants[i]
		}
	}
	return &variants[len(variants)-1]
}
