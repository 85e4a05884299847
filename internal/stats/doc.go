// Package stats turns per-variant exposure and conversion counts into a
// lift and confidence report.
//
// Each treatment is compared to the control with a two-proportion z-test
// using the pooled conversion rate:
//
//	pooled = (c_control + c_treatment) / (n_control + n_treatment)
//	se     = sqrt(pooled * (1 - pooled) * (1/n_control + 1/n_treatment))
//	z      = (rate_treatment - rate_control) / se
//	p      = 2 * (1 - Φ(|z|))
//
// Confidence is 1 - p. A treatment is significant only when both arms have
// more exposures than the configured minimum sample size and confidence
// reaches the configured threshold.
//
// Everything in this package is a pure function of its inputs and is safe
// for concurrent use.
package stats
