// Package ingest downloads and parses the Charity Commission bulk data
// extract and assembles it into charity records.
//
// Data source: https://register-of-charities.charitycommission.gov.uk
// Licence:     Open Government Licence v3.0
package ingest

// DefaultBlobBase is the Charity Commission public extract host.
const DefaultBlobBase = "https://ccewuksprdoneregsadata1.blob.core.windows.net/data/txt"

// Dataset names. Each maps to one publicextract ZIP.
const (
	DatasetRegister        = "charity"
	DatasetReturnHistory   = "charity_annual_return_history"
	DatasetReturnPartA     = "charity_annual_return_parta"
	DatasetClassification  = "charity_classification"
	DatasetAreaOfOperation = "charity_area_of_operation"
)

// AllDatasets lists every extract the refresh pipeline needs, in load order.
var AllDatasets = []string{
	DatasetRegister,
	DatasetReturnHistory,
	DatasetReturnPartA,
	DatasetClassification,
	DatasetAreaOfOperation,
}
