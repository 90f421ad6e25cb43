// Package posterior computes the Bayesian posterior over stress
// mechanisms from 3-channel morphology folds (spec §4.4). It never
// applies a nuisance penalty to probabilities — the inflated covariance
// already absorbs nuisance variance at the likelihood level, and
// confidence penalization is pkg/calibrator's job, not this package's.
package posterior

import "math"

// Mechanism is one of the closed set of stress mechanisms the core can
// identify.
type Mechanism string

const (
	MechanismERStress      Mechanism = "ER_STRESS"
	MechanismMitochondrial Mechanism = "MITOCHONDRIAL"
	MechanismMicrotubule   Mechanism = "MICROTUBULE"
	MechanismOxidative     Mechanism = "OXIDATIVE"
	MechanismProteasome    Mechanism = "PROTEASOME"
	MechanismDNADamage     Mechanism = "DNA_DAMAGE"
)

// AllMechanisms is the closed, ordered enumeration used wherever a stable
// iteration order matters (normalization, entropy, serialization).
var AllMechanisms = []Mechanism{
	MechanismERStress,
	MechanismMitochondrial,
	MechanismMicrotubule,
	MechanismOxidative,
	MechanismProteasome,
	MechanismDNADamage,
}

// Signature is one mechanism's learned morphological fingerprint: mean
// in {log actin, log mito, log ER} space, covariance, and prior.
type Signature struct {
	Mean  Vec3
	Cov   Mat3
	Prior float64
}

// Signatures bundles the full, immutable catalog of mechanism
// signatures, loaded once alongside the other catalogs.
type Signatures map[Mechanism]Signature

// DefaultSignatures returns a reasonable, internally-consistent set of
// signatures spread around the unit sphere in log-fold space, used when
// no catalog-supplied signatures are configured. Real deployments are
// expected to override this via catalog data; these are deliberately
// simple so tests are reproducible without external fixtures.
func DefaultSignatures() Signatures {
	unitCov := Mat3{{0.05, 0, 0}, {0, 0.05, 0}, {0, 0, 0.05}}
	return Signatures{
		MechanismERStress:      {Mean: Vec3{0.8, 0.1, 0.1}, Cov: unitCov, Prior: 1.0 / 6},
		MechanismMitochondrial: {Mean: Vec3{0.1, 0.8, 0.1}, Cov: unitCov, Prior: 1.0 / 6},
		MechanismMicrotubule:   {Mean: Vec3{0.1, 0.1, 0.8}, Cov: unitCov, Prior: 1.0 / 6},
		MechanismOxidative:     {Mean: Vec3{0.6, 0.6, 0.0}, Cov: unitCov, Prior: 1.0 / 6},
		MechanismProteasome:    {Mean: Vec3{0.0, 0.6, 0.6}, Cov: unitCov, Prior: 1.0 / 6},
		MechanismDNADamage:     {Mean: Vec3{0.6, 0.0, 0.6}, Cov: unitCov, Prior: 1.0 / 6},
	}
}

// NuisanceModel carries the additive shifts and variance components
// spec §3.1 describes. NuisanceFraction is derived, not stored.
type NuisanceModel struct {
	ContextShift  Vec3
	PipelineShift Vec3

	ArtifactVar      float64
	HeterogeneityVar float64
	ContextVar       float64
	PipelineVar      float64

	SignalVar float64
}

// NuisanceFraction returns nuisance_var_total / (nuisance_var_total +
// signal_var), the share of observation variance attributable to
// non-biological factors (spec §3.1, §4.4).
func (n NuisanceModel) NuisanceFraction() float64 {
	total := n.ArtifactVar + n.HeterogeneityVar + n.ContextVar + n.PipelineVar
	denom := total + n.SignalVar
	if denom <= 0 {
		return 0
	}
	return total / denom
}

// inflation returns the diagonal covariance inflation contributed by the
// nuisance model's variance terms.
func (n NuisanceModel) inflation() Mat3 {
	total := n.ArtifactVar + n.HeterogeneityVar + n.ContextVar + n.PipelineVar
	return Diag3(Vec3{total, total, total})
}

// MechanismPosterior is the computed belief over mechanisms (spec
// §3.1).
type MechanismPosterior struct {
	Probabilities map[Mechanism]float64
	TopMechanism  Mechanism
	TopProbability float64
	Margin        float64
	Entropy       float64
}

// logGaussianDensity returns log N(x; mean, cov) up to (and including)
// the normalizing constant, via the matrix inverse/determinant helpers
// in linalg.go.
func logGaussianDensity(x, mean Vec3, cov Mat3) (float64, bool) {
	inv, ok := cov.Inverse()
	if !ok {
		return math.Inf(-1), false
	}
	det := cov.Det()
	if det <= 0 {
		return math.Inf(-1), false
	}
	d := x.Sub(mean)
	quad := d.Dot(inv.MulVec(d))
	const k = 3.0
	logNorm := -0.5 * (k*math.Log(2*math.Pi) + math.Log(det))
	return logNorm - 0.5*quad, true
}

// Compute implements spec §4.4: evaluate each mechanism's likelihood at
// the observed 3-D feature vector against its mean shifted by
// context+pipeline nuisance and its covariance inflated by nuisance
// variance, then normalize against the prior. No nuisance penalty is
// applied to the resulting probabilities.
func Compute(observed Vec3, nuisance NuisanceModel, sig Signatures) MechanismPosterior {
	shift := nuisance.ContextShift.Add(nuisance.PipelineShift)
	inflation := nuisance.inflation()

	logLikelihoods := make(map[Mechanism]float64, len(sig))
	maxLog := math.Inf(-1)
	for _, m := range AllMechanisms {
		s, ok := sig[m]
		if !ok {
			continue
		}
		mean := s.Mean.Add(shift)
		cov := s.Cov.Add(inflation)
		ll, valid := logGaussianDensity(observed, mean, cov)
		if !valid {
			ll = math.Inf(-1)
		}
		prior := s.Prior
		if prior <= 0 {
			prior = 1e-9
		}
		logPosteriorUnnorm := ll + math.Log(prior)
		logLikelihoods[m] = logPosteriorUnnorm
		if logPosteriorUnnorm > maxLog {
			maxLog = logPosteriorUnnorm
		}
	}

	sumExp := 0.0
	for _, ll := range logLikelihoods {
		sumExp += math.Exp(ll - maxLog)
	}

	probs := make(map[Mechanism]float64, len(logLikelihoods))
	for m, ll := range logLikelihoods {
		if sumExp <= 0 {
			probs[m] = 0
			continue
		}
		probs[m] = math.Exp(ll-maxLog) / sumExp
	}

	return summarize(probs)
}

// summarize derives top_mechanism, top_probability, margin, and entropy
// from a normalized probability map, iterating AllMechanisms for a
// stable tie-break order.
func summarize(probs map[Mechanism]float64) MechanismPosterior {
	var top, second Mechanism
	topP, secondP := -1.0, -1.0
	entropy := 0.0

	for _, m := range AllMechanisms {
		p := probs[m]
		if p > topP {
			second, secondP = top, topP
			top, topP = m, p
		} else if p > secondP {
			second, secondP = m, p
		}
		if p > 0 {
			entropy -= p * math.Log(p)
		}
	}
	_ = second

	margin := topP - secondP
	if secondP < 0 {
		margin = topP
	}

	return MechanismPosterior{
		Probabilities:  probs,
		TopMechanism:   top,
		TopProbability: topP,
		Margin:         margin,
		Entropy:        entropy,
	}
}
