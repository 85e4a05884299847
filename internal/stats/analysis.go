package stats

import (
	"math"

	"github.com/emiliopalmerini/splitd/internal/domain"
)

const (
	DefaultMinSampleSize       = 100
	DefaultConfidenceThreshold = 0.95
)

// Status marks whether a comparison could be computed.
type Status string

const (
	StatusOK               Status = "ok"
	StatusInsufficientData Status = "insufficient_data"
)

// Options controls when a treatment is declared significant.
type Options struct {
	// MinSampleSize is the number of exposures both arms must exceed.
	MinSampleSize int64
	// ConfidenceThreshold is the minimum 1 - p for significance.
	ConfidenceThreshold float64
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		MinSampleSize:       DefaultMinSampleSize,
		ConfidenceThreshold: DefaultConfidenceThreshold,
	}
}

func (o Options) withDefaults() Options {
	if o.MinSampleSize < 0 {
		o.MinSampleSize = 0
	}
	if o.ConfidenceThreshold <= 0 || o.ConfidenceThreshold >= 1 {
		o.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	return o
}

// Interval is a confidence interval for the absolute difference of rates.
type Interval struct {
	Lower float64
	Upper float64
	Level float64
}

// VariantResult is one row of a report.
type VariantResult struct {
	VariantID      string
	IsControl      bool
	Exposures      int64
	Conversions    int64
	ConversionRate float64

	// Lift is relative to the control rate. LiftDefined is false when the
	// control converts nobody and the ratio has no meaning.
	Lift        float64
	LiftDefined bool

	ZScore      float64
	PValue      float64
	Confidence  float64
	Significant bool
	Difference  Interval
	Status      Status
}

// Report is the outcome of Analyze.
type Report struct {
	ControlID string
	Status    Status
	Variants  []VariantResult
	// WinnerID is the significant treatment with the best positive lift, if any.
	WinnerID string
	Options  Options
}

// Analyze compares every variant in counts against the control. The control
// row is included in the result with IsControl set. Variants keep the order
// they were given in. The report is StatusOK once any row has data, so a
// control-only experiment with exposures still reports its rate.
func Analyze(controlID string, counts []domain.VariantCounts, opts Options) Report {
	opts = opts.withDefaults()
	report := Report{
		ControlID: controlID,
		Status:    StatusInsufficientData,
		Options:   opts,
	}

	var control *domain.VariantCounts
	for i := range counts {
		if counts[i].VariantID == controlID {
			control = &counts[i]
			break
		}
	}

	var bestRate float64
	for _, c := range counts {
		if c.VariantID == controlID {
			result := controlResult(c)
			if result.Status == StatusOK {
				report.Status = StatusOK
			}
			report.Variants = append(report.Variants, result)
			continue
		}
		if control == nil {
			report.Variants = append(report.Variants, insufficient(c))
			continue
		}

		result := Compare(*control, c, opts)
		if result.Status == StatusOK {
			report.Status = StatusOK
		}
		if result.Significant && result.LiftDefined && result.Lift > 0 {
			if report.WinnerID == "" || result.ConversionRate > bestRate {
				report.WinnerID = result.VariantID
				bestRate = result.ConversionRate
			}
		}
		report.Variants = append(report.Variants, result)
	}

	return report
}

// Compare runs the pooled two-proportion z-test of treatment against control.
// Zero exposures on either arm yields StatusInsufficientData with every
// statistic left at zero.
func Compare(control, treatment domain.VariantCounts, opts Options) VariantResult {
	opts = opts.withDefaults()
	if control.Exposures <= 0 || treatment.Exposures <= 0 {
		return insufficient(treatment)
	}

	nc, cc := arm(control)
	nt, ct := arm(treatment)
	rc := cc / nc
	rt := ct / nt

	result := VariantResult{
		VariantID:      treatment.VariantID,
		Exposures:      treatment.Exposures,
		Conversions:    treatment.Conversions,
		ConversionRate: rt,
		Status:         StatusOK,
	}

	if rc > 0 {
		result.Lift = (rt - rc) / rc
		result.LiftDefined = true
	}

	pooled := (cc + ct) / (nc + nt)
	se := math.Sqrt(pooled * (1 - pooled) * (1/nc + 1/nt))
	if se > 0 {
		result.ZScore = (rt - rc) / se
		result.PValue = TwoTailedPValue(result.ZScore)
	} else {
		// Both arms at 0% or both at 100%: no observable difference.
		result.PValue = 1
	}
	result.Confidence = 1 - result.PValue

	result.Difference = differenceInterval(rc, nc, rt, nt, opts.ConfidenceThreshold)
	result.Significant = control.Exposures > opts.MinSampleSize &&
		treatment.Exposures > opts.MinSampleSize &&
		result.Confidence >= opts.ConfidenceThreshold

	return result
}

// NormalCDF is the standard normal cumulative distribution function.
func NormalCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// TwoTailedPValue returns P(|Z| >= |z|) for a standard normal Z.
func TwoTailedPValue(z float64) float64 {
	p := math.Erfc(math.Abs(z) / math.Sqrt2)
	if p > 1 {
		return 1
	}
	return p
}

// ZCritical returns the two-sided critical value for a confidence level,
// 1.96 for 0.95.
func ZCritical(level float64) float64 {
	return math.Sqrt2 * math.Erfinv(level)
}

// arm converts counts to floats. Conversions are capped at exposures so a
// visitor who converted without a recorded exposure cannot push a rate past 1.
func arm(c domain.VariantCounts) (n, conv float64) {
	conversions := c.Conversions
	if conversions > c.Exposures {
		conversions = c.Exposures
	}
	if conversions < 0 {
		conversions = 0
	}
	return float64(c.Exposures), float64(conversions)
}

func differenceInterval(rc, nc, rt, nt, level float64) Interval {
	diff := rt - rc
	se := math.Sqrt(rc*(1-rc)/nc + rt*(1-rt)/nt)
	margin := ZCritical(level) * se
	return Interval{Lower: diff - margin, Upper: diff + margin, Level: level}
}

func controlResult(c domain.VariantCounts) VariantResult {
	result := VariantResult{
		VariantID:   c.VariantID,
		IsControl:   true,
		Exposures:   c.Exposures,
		Conversions: c.Conversions,
		Status:      StatusInsufficientData,
	}
	if c.Exposures > 0 {
		n, conv := arm(c)
		result.ConversionRate = conv / n
		result.Status = StatusOK
	}
	return result
}

func insufficient(c domain.VariantCounts) VariantResult {
	result := VariantResult{
		VariantID:   c.VariantID,
		Exposures:   c.Exposures,
		Conversions: c.Conversions,
		Status:      StatusInsufficientData,
	}
	if c.Exposures > 0 {
		n, conv := arm(c)
		result.ConversionRate = conv / n
	}
	return result
}
