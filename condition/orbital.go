package condition

import (
	"fmt"

	"github.com/meridianhq/satops-trainer/types"
)

// MeanPlanetaryRadiusKm is the mean Earth radius used to convert orbital
// elements into altitudes above the surface.
const MeanPlanetaryRadiusKm = 6371.0

// Range bounds a physical quantity. Either side may be omitted.
type Range struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// OrbitalManeuverConfig checks the achieved orbit. Apoapsis and periapsis are
// derived from the semi-major axis and eccentricity in telemetry:
// apoapsis = a(1+e) - R, periapsis = a(1-e) - R. Each declared bound becomes
// one independent check and all declared checks must pass.
type OrbitalManeuverConfig struct {
	ApoapsisKm      *Range   `json:"apoapsisKm,omitempty"`
	PeriapsisKm     *Range   `json:"periapsisKm,omitempty"`
	AltitudeKm      *Range   `json:"altitudeKm,omitempty"`
	MaxEccentricity *float64 `json:"maxEccentricity,omitempty"`
	MinFuelKg       *float64 `json:"minFuelKg,omitempty"`
}

type orbitalManeuver struct{}

func (orbitalManeuver) Kind() types.ConditionKind { return types.ConditionOrbitalManeuver }
func (orbitalManeuver) config() any               { return &OrbitalManeuverConfig{} }

func (e orbitalManeuver) Evaluate(raw map[string]any, state *types.SessionState) (Outcome, error) {
	var cfg OrbitalManeuverConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return Outcome{}, err
	}
	if cfg.ApoapsisKm == nil && cfg.PeriapsisKm == nil && cfg.AltitudeKm == nil &&
		cfg.MaxEccentricity == nil && cfg.MinFuelKg == nil {
		return Outcome{}, fmt.Errorf("orbital_maneuver declares no bounds")
	}

	checks := make([]types.Check, 0, 5)

	if cfg.ApoapsisKm != nil || cfg.PeriapsisKm != nil || cfg.MaxEccentricity != nil {
		a, aOK := state.Telemetry.Number("orbit.semiMajorAxis_km")
		ecc, eccOK := state.Telemetry.Number("orbit.eccentricity")
		if !aOK || !eccOK {
			checks = append(checks, types.Check{
				Name:    "orbital_elements",
				Passed:  false,
				Target:  "orbit.semiMajorAxis_km, orbit.eccentricity",
				Message: "orbital elements are not present in the current snapshot",
			})
		} else {
			if cfg.ApoapsisKm != nil {
				apoapsis := a*(1+ecc) - MeanPlanetaryRadiusKm
				checks = append(checks, rangeCheck("apoapsis_km", apoapsis, *cfg.ApoapsisKm))
			}
			if cfg.PeriapsisKm != nil {
				periapsis := a*(1-ecc) - MeanPlanetaryRadiusKm
				checks = append(checks, rangeCheck("periapsis_km", periapsis, *cfg.PeriapsisKm))
			}
			if cfg.MaxEccentricity != nil {
				check := types.Check{
					Name:   "eccentricity",
					Passed: ecc <= *cfg.MaxEccentricity,
					Actual: fmt.Sprintf("%.4f", ecc),
					Target: fmt.Sprintf("<= %.4f", *cfg.MaxEccentricity),
				}
				if !check.Passed {
					check.Message = fmt.Sprintf("eccentricity %s exceeds %s", check.Actual, check.Target)
				}
				checks = append(checks, check)
			}
		}
	}

	if cfg.AltitudeKm != nil {
		altitude, ok := state.Telemetry.Number("orbit.altitude_km")
		if !ok {
			checks = append(checks, types.Check{
				Name:    "altitude_km",
				Passed:  false,
				Target:  "orbit.altitude_km",
				Message: "telemetry path \"orbit.altitude_km\" is not present in the current snapshot",
			})
		} else {
			checks = append(checks, rangeCheck("altitude_km", altitude, *cfg.AltitudeKm))
		}
	}

	if cfg.MinFuelKg != nil {
		fuel, ok := state.Telemetry.Number("propulsion.fuelRemaining_kg")
		check := types.Check{
			Name:   "fuel_remaining_kg",
			Target: fmt.Sprintf(">= %s", formatQuantity(*cfg.MinFuelKg)),
		}
		if !ok {
			check.Actual = "absent"
			check.Message = "telemetry path \"propulsion.fuelRemaining_kg\" is not present in the current snapshot"
		} else {
			check.Passed = fuel >= *cfg.MinFuelKg
			check.Actual = formatQuantity(fuel)
			if !check.Passed {
				check.Message = fmt.Sprintf("fuel remaining %s kg is below %s kg", check.Actual, formatQuantity(*cfg.MinFuelKg))
			}
		}
		checks = append(checks, check)
	}

	return Outcome{Passed: allPass(checks), Checks: checks}, nil
}

func rangeCheck(name string, value float64, bounds Range) types.Check {
	check := types.Check{
		Name:   name,
		Passed: true,
		Actual: formatQuantity(value),
		Target: formatRange(bounds),
	}
	if bounds.Min != nil && value < *bounds.Min {
		check.Passed = false
	}
	if bounds.Max != nil && value > *bounds.Max {
		check.Passed = false
	}
	if !check.Passed {
		check.Message = fmt.Sprintf("%s is %s km, want %s", name, check.Actual, check.Target)
	}
	return check
}

func formatRange(bounds Range) string {
	switch {
	case bounds.Min != nil && bounds.Max != nil:
		return fmt.Sprintf("[%s, %s]", formatQuantity(*bounds.Min), formatQuantity(*bounds.Max))
	case bounds.Min != nil:
		return fmt.Sprintf(">= %s", formatQuantity(*bounds.Min))
	case bounds.Max != nil:
		return fmt.Sprintf("<= %s", formatQuantity(*bounds.Max))
	default:
		return "unbounded"
	}
}
