package domain

// Weather factor names, matching the weather CSV headers.
const (
	FactorT             = "T"
	FactorTMaxAve       = "T. max ave."
	FactorTMinAve       = "T. min ave."
	FactorTMaxAbs       = "T. max abs."
	FactorTMinAbs       = "T. min abs."
	FactorPrecipitation = "Prec.(mm)"
	FactorDays1mm       = "Days(1mm)"
	FactorDays01mm      = "Days(0.1mm)"
	FactorDaysSnow      = "Days(snow)"
	FactorDaysStorm     = "Days(storm)"
	FactorDaysFog       = "Days(fog)"
	FactorDaysFrost     = "Days(frost)"
)

// Socio-economic factor names, matching the JSON document keys.
const (
	FactorPopulationDensity     = "population_density"
	FactorMeanRegisteredCapital = "mean_registered_capital"
	FactorEnterpriseCount       = "enterprise_count"
)

// WeatherFactors lists weather factors in column order.
var WeatherFactors = []string{
	FactorT,
	FactorTMaxAve,
	FactorTMinAve,
	FactorTMaxAbs,
	FactorTMinAbs,
	FactorPrecipitation,
	FactorDays1mm,
	FactorDays01mm,
	FactorDaysSnow,
	FactorDaysStorm,
	FactorDaysFog,
	FactorDaysFrost,
}

// SocioFactors lists socio-economic factors in column order.
var SocioFactors = []string{
	FactorPopulationDensity,
	FactorMeanRegisteredCapital,
	FactorEnterpriseCount,
}

// isIntegerFactor reports whether a weather column holds a day count.
func isIntegerFactor(name string) bool {
	switch name {
	case FactorDays1mm, FactorDays01mm, FactorDaysSnow, FactorDaysStorm, FactorDaysFog, FactorDaysFrost:
		return true
	default:
		return false
	}
}

// Values returns the weather factors of r in WeatherFactors order.
func (r WeatherRecord) Values() []float64 {
	return []float64{
		r.T,
		r.TMaxAve,
		r.TMinAve,
		r.TMaxAbs,
		r.TMinAbs,
		r.Precipitation,
		float64(r.Days1mm),
		float64(r.Days01mm),
		float64(r.DaysSnow),
		float64(r.DaysStorm),
		float64(r.DaysFog),
		float64(r.DaysFrost),
	}
}

// Samples returns the socio-economic indicators of r in SocioFactors order.
func (r SocioRecord) Samples() [][]float64 {
	return [][]float64{r.PopulationDensity, r.MeanRegisteredCapital, r.EnterpriseCount}
}
