// Package simulate generates synthetic repeated-measures datasets with
// correlated subject-level random effects. Each subject gets one draw from a
// bivariate normal (intercept offset, slope offset); observations then follow
// a linear trend over sessions plus independent residual noise.
package simulate

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"mixedfit/internal/dataset"
)

// Config holds every input of the generator. It is the complete external
// interface: no other state influences the output.
type Config struct {
	Subjects    int     `yaml:"subjects"`
	Sessions    int     `yaml:"sessions"`
	Baseline    float64 `yaml:"baseline"`
	Slope       float64 `yaml:"slope"`
	InterceptSD float64 `yaml:"intercept_sd"`
	SlopeSD     float64 `yaml:"slope_sd"`
	Correlation float64 `yaml:"correlation"`
	ResidualSD  float64 `yaml:"residual_sd"`
	Seed        uint64  `yaml:"seed"`
}

// Validate rejects configurations before any sampling happens.
func (c Config) Validate() error {
	if c.Subjects <= 0 {
		return &ConfigError{Field: "subjects", Reason: "must be positive"}
	}
	if c.Sessions <= 0 {
		return &ConfigError{Field: "sessions", Reason: "must be positive"}
	}
	if c.InterceptSD < 0 {
		return &ConfigError{Field: "intercept_sd", Reason: "must be non-negative"}
	}
	if c.SlopeSD < 0 {
		return &ConfigError{Field: "slope_sd", Reason: "must be non-negative"}
	}
	if c.ResidualSD < 0 {
		return &ConfigError{Field: "residual_sd", Reason: "must be non-negative"}
	}
	if c.Correlation < -1 || c.Correlation > 1 || math.IsNaN(c.Correlation) {
		return &ConfigError{Field: "correlation", Reason: "must lie in [-1, 1]"}
	}
	return nil
}

// Generator produces datasets from a validated configuration. The random
// source is owned by the generator and re-seeded on every Dataset call, so a
// generator is reusable and every call yields the identical dataset.
type Generator struct {
	cfg Config

	// Lower Cholesky factor of the random-effect covariance,
	// row-major [l11 0; l21 l22].
	l11, l21, l22 float64
}

// New validates cfg and factorizes the random-effect covariance. A covariance
// that is not positive semi-definite is a configuration error; nothing is
// sampled on failure.
func New(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Generator{cfg: cfg}

	cov := cfg.InterceptSD * cfg.SlopeSD * cfg.Correlation
	if cfg.InterceptSD > 0 && cfg.SlopeSD > 0 && math.Abs(cfg.Correlation) < 1 {
		sigma := mat.NewSymDense(2, []float64{
			cfg.InterceptSD * cfg.InterceptSD, cov,
			cov, cfg.SlopeSD * cfg.SlopeSD,
		})
		var chol mat.Cholesky
		if !chol.Factorize(sigma) {
			return nil, &ConfigError{
				Field:  "correlation",
				Reason: "random-effect covariance is not positive definite",
			}
		}
		l := mat.NewTriDense(2, mat.Lower, nil)
		chol.LTo(l)
		g.l11 = l.At(0, 0)
		g.l21 = l.At(1, 0)
		g.l22 = l.At(1, 1)
		return g, nil
	}

	// Degenerate but valid covariance (a zero SD or |rho| == 1). mat.Cholesky
	// requires strict positive definiteness, so use the closed 2x2 factor.
	g.l11 = cfg.InterceptSD
	g.l21 = cfg.SlopeSD * cfg.Correlation
	g.l22 = cfg.SlopeSD * math.Sqrt(math.Max(0, 1-cfg.Correlation*cfg.Correlation))
	return g, nil
}

// Config returns the generator's configuration.
func (g *Generator) Config() Config { return g.cfg }

// Dataset draws the full observation set: one bivariate random-effect draw
// per subject, then one residual per observation. Output order is
// subject-major, session-minor, and is byte-identical across calls for the
// same configuration.
func (g *Generator) Dataset() *dataset.Dataset {
	src := rand.NewSource(g.cfg.Seed)
	stdNorm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	ds := &dataset.Dataset{
		Subjects:     make([]dataset.Subject, 0, g.cfg.Subjects),
		Observations: make([]dataset.Observation, 0, g.cfg.Subjects*g.cfg.Sessions),
		NumSessions:  g.cfg.Sessions,
	}

	for id := 1; id <= g.cfg.Subjects; id++ {
		z1 := stdNorm.Rand()
		z2 := stdNorm.Rand()
		subj := dataset.Subject{
			ID:        id,
			Intercept: g.l11 * z1,
			Slope:     g.l21*z1 + g.l22*z2,
		}
		ds.Subjects = append(ds.Subjects, subj)

		for session := 0; session < g.cfg.Sessions; session++ {
			noise := stdNorm.Rand() * g.cfg.ResidualSD
			value := g.cfg.Baseline + subj.Intercept +
				(g.cfg.Slope+subj.Slope)*float64(session) + noise
			ds.Observations = append(ds.Observations, dataset.Observation{
				SubjectID: id,
				Session:   session,
				Value:     value,
			})
		}
	}

	return ds
}
