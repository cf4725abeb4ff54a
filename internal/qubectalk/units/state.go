package units

// StateGetter is the pure-read interface the converter consults for
// "current total" figures when eliminating a ratio denominator. All
// methods report the current-year total for the scope the converter is
// operating against (an application/substance pair, resolved by the
// caller before the conversion begins).
type StateGetter interface {
	GetVolume() Quantity              // current volume (kg), used for kg/mt denominators
	GetPopulation() Quantity          // current equipment population (units)
	GetGhgConsumption() Quantity      // current consumption (tCO2e)
	GetEnergyConsumption() Quantity   // current energy consumption (kwh)
	GetSubstanceConsumption() Quantity // ghg intensity, tCO2e per kg/mt
	GetEnergyIntensity() Quantity     // kwh per kg/mt
	GetAmortizedUnitVolume() Quantity // volume per unit (initial charge)
	GetAmortizedUnitConsumption() Quantity // tCO2e per unit
	GetYearsElapsed() Quantity        // always 1 year per step
	GetPopulationChange() Quantity    // new equipment this year (units)
}

// OverridingState wraps a base StateGetter, letting a caller substitute
// one or more totals for the duration of a single conversion without
// touching engine state. Unset fields (nil) delegate to Base. Overrides
// are per-call scoped: construct one, use it, discard it.
type OverridingState struct {
	Base StateGetter

	Volume                   *Quantity
	Population               *Quantity
	GhgConsumption            *Quantity
	EnergyConsumption         *Quantity
	SubstanceConsumption      *Quantity
	EnergyIntensity           *Quantity
	AmortizedUnitVolume       *Quantity
	AmortizedUnitConsumption  *Quantity
	YearsElapsed              *Quantity
	PopulationChange          *Quantity
}

func (o *OverridingState) GetVolume() Quantity {
	if o.Volume != nil {
		return *o.Volume
	}
	return o.Base.GetVolume()
}

func (o *OverridingState) GetPopulation() Quantity {
	if o.Population != nil {
		return *o.Population
	}
	return o.Base.GetPopulation()
}

func (o *OverridingState) GetGhgConsumption() Quantity {
	if o.GhgConsumption != nil {
		return *o.GhgConsumption
	}
	return o.Base.GetGhgConsumption()
}

func (o *OverridingState) GetEnergyConsumption() Quantity {
	if o.EnergyConsumption != nil {
		return *o.EnergyConsumption
	}
	return o.Base.GetEnergyConsumption()
}

func (o *OverridingState) GetSubstanceConsumption() Quantity {
	if o.SubstanceConsumption != nil {
		return *o.SubstanceConsumption
	}
	return o.Base.GetSubstanceConsumption()
}

func (o *OverridingState) GetEnergyIntensity() Quantity {
	if o.EnergyIntensity != nil {
		return *o.EnergyIntensity
	}
	return o.Base.GetEnergyIntensity()
}

func (o *OverridingState) GetAmortizedUnitVolume() Quantity {
	if o.AmortizedUnitVolume != nil {
		return *o.AmortizedUnitVolume
	}
	return o.Base.GetAmortizedUnitVolume()
}

func (o *OverridingState) GetAmortizedUnitConsumption() Quantity {
	if o.AmortizedUnitConsumption != nil {
		return *o.AmortizedUnitConsumption
	}
	return o.Base.GetAmortizedUnitConsumption()
}

func (o *OverridingState) GetYearsElapsed() Quantity {
	if o.YearsElapsed != nil {
		return *o.YearsElapsed
	}
	return o.Base.GetYearsElapsed()
}

func (o *OverridingState) GetPopulationChange() Quantity {
	if o.PopulationChange != nil {
		return *o.PopulationChange
	}
	return o.Base.GetPopulationChange()
}
