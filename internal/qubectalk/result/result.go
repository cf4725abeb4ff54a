// Package result implements the snapshot-to-row serializer from spec
// section 4.I: for each (application, substance) active in a trial, one
// row per year carrying stream values, derived consumption figures, and
// the units each value is expressed in.
package result

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/example/qubectalk/internal/qubectalk/engine"
)

// Row is one output record, matching the CSV column list in spec section 6.
type Row struct {
	Application string
	Substance   string
	Year        int
	ScenarioName string
	TrialNumber int

	Manufacture      float64
	ManufactureUnits string
	Import           float64
	ImportUnits      string
	Recycle          float64
	RecycleUnits     string

	DomesticConsumption      float64
	DomesticConsumptionUnits string
	ImportConsumption        float64
	ImportConsumptionUnits   string
	RecycleConsumption       float64
	RecycleConsumptionUnits  string

	Population      float64
	PopulationUnits string
	PopulationNew   float64
	PopulationNewUnits string

	RechargeEmissions      float64
	RechargeEmissionsUnits string
	EolEmissions           float64
	EolEmissionsUnits      string

	EnergyConsumption      float64
	EnergyConsumptionUnits string
}

// Snapshot builds one Row per (application, substance) active in eng for
// the engine's current year, before IncrementYear is called.
func Snapshot(eng *engine.Engine, scenarioName string, trialNumber int) []Row {
	scopes := eng.ActiveScopes()
	rows := make([]Row, 0, len(scopes))
	for _, sc := range scopes {
		man := eng.StreamValue(sc.Application, sc.Substance, "manufacture")
		imp := eng.StreamValue(sc.Application, sc.Substance, "import")
		rec := eng.StreamValue(sc.Application, sc.Substance, "recycle")
		recharge := eng.StreamValue(sc.Application, sc.Substance, "rechargeEmissions")
		eol := eng.StreamValue(sc.Application, sc.Substance, "eolEmissions")
		pop := eng.StreamValue(sc.Application, sc.Substance, "equipment")
		popNew := eng.StreamValue(sc.Application, sc.Substance, "newEquipment")
		energy := eng.StreamValue(sc.Application, sc.Substance, "energy")

		domestic, _ := eng.ConsumptionForVolume(sc.Application, sc.Substance, man.Value)
		imported, _ := eng.ConsumptionForVolume(sc.Application, sc.Substance, imp.Value)
		recycled, _ := eng.ConsumptionForVolume(sc.Application, sc.Substance, rec.Value)

		rechargeNet := recharge.Value - recycled.Value
		if rechargeNet < 0 {
			rechargeNet = 0
		}

		rows = append(rows, Row{
			Application:  sc.Application,
			Substance:    sc.Substance,
			Year:         eng.CurrentYear,
			ScenarioName: scenarioName,
			TrialNumber:  trialNumber,

			Manufacture:      man.Value,
			ManufactureUnits: "kg",
			Import:           imp.Value,
			ImportUnits:      "kg",
			Recycle:          rec.Value,
			RecycleUnits:     "kg",

			DomesticConsumption:      domestic.Value,
			DomesticConsumptionUnits: "tCO2e",
			ImportConsumption:        imported.Value,
			ImportConsumptionUnits:   "tCO2e",
			RecycleConsumption:       recycled.Value,
			RecycleConsumptionUnits:  "tCO2e",

			Population:         pop.Value,
			PopulationUnits:    "units",
			PopulationNew:      popNew.Value,
			PopulationNewUnits: "units",

			RechargeEmissions:      rechargeNet,
			RechargeEmissionsUnits: "tCO2e",
			EolEmissions:           eol.Value,
			EolEmissionsUnits:      "tCO2e",

			EnergyConsumption:      energy.Value,
			EnergyConsumptionUnits: "kwh",
		})
	}
	return rows
}

var header = []string{
	"application", "substance", "year", "scenarioName", "trialNumber",
	"manufacture", "manufactureUnits", "import", "importUnits", "recycle", "recycleUnits",
	"domesticConsumption", "domesticConsumptionUnits",
	"importConsumption", "importConsumptionUnits",
	"recycleConsumption", "recycleConsumptionUnits",
	"population", "populationUnits", "populationNew", "populationNewUnits",
	"rechargeEmissions", "rechargeEmissionsUnits",
	"eolEmissions", "eolEmissionsUnits",
	"energyConsumption", "energyConsumptionUnits",
}

// WriteCSV renders rows per the column list in spec section 6.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.Application, r.Substance, strconv.Itoa(r.Year), r.ScenarioName, strconv.Itoa(r.TrialNumber),
			formatFloat(r.Manufacture), r.ManufactureUnits,
			formatFloat(r.Import), r.ImportUnits,
			formatFloat(r.Recycle), r.RecycleUnits,
			formatFloat(r.DomesticConsumption), r.DomesticConsumptionUnits,
			formatFloat(r.ImportConsumption), r.ImportConsumptionUnits,
			formatFloat(r.RecycleConsumption), r.RecycleConsumptionUnits,
			formatFloat(r.Population), r.PopulationUnits,
			formatFloat(r.PopulationNew), r.PopulationNewUnits,
			formatFloat(r.RechargeEmissions), r.RechargeEmissionsUnits,
			formatFloat(r.EolEmissions), r.EolEmissionsUnits,
			formatFloat(r.EnergyConsumption), r.EnergyConsumptionUnits,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
