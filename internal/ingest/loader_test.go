package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExtract(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name+".txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRegister_FiltersAndParses(t *testing.T) {
	// Given: A register extract with registered, removed and non-London rows
	// When: LoadRegister runs with the London region filter
	// Then: Only active London charities survive, with money coerced

	dir := t.TempDir()
	path := writeExtract(t, dir, DatasetRegister,
		"registered_charity_number\tcharity_name\tcharity_registration_status\tcharity_contact_postcode\tlatest_income\tlatest_expenditure\tcharity_activities\n"+
			"200001\tEast End Foodbank\tRegistered\te1 6an\t£45,000\t48000\tFood distribution\n"+
			"200002\tClosed Trust\tRemoved\tSW1A 1AA\t10000\t9000\t\n"+
			"200003\tManchester Aid\tRegistered\tM1 1AE\t90000\t80000\t\n"+
			"200004\t\tRegistered\tN1 9GU\t100\t100\t\n")

	loader := NewLoader(RegionLondon, zerolog.Nop())

	charities, err := loader.LoadRegister(path)

	require.NoError(t, err)
	require.Len(t, charities, 1)

	c := charities["200001"]
	require.NotNil(t, c)
	assert.Equal(t, "East End Foodbank", c.Name)
	assert.Equal(t, "E1 6AN", c.Postcode)
	assert.Equal(t, 45000.0, c.Income)
	assert.Equal(t, 48000.0, c.Spending)
}

func TestLoadAll_AssemblesHistory(t *testing.T) {
	// Given: Register, history, Part A, classification and area extracts
	// When: LoadAll runs
	// Then: Returns are sorted oldest first, Part A reserves reach the
	// matching history year, and classifications land in the right buckets

	dir := t.TempDir()
	writeExtract(t, dir, DatasetRegister,
		"registered_charity_number\tcharity_name\tcharity_registration_status\tcharity_contact_postcode\tlatest_income\tlatest_expenditure\n"+
			"200001\tEast End Foodbank\tRegistered\tE1 6AN\t45000\t48000\n")
	writeExtract(t, dir, DatasetReturnHistory,
		"registered_charity_number\tfin_period_end_date\ttotal_gross_income\ttotal_gross_expenditure\tar_cycle_reference\n"+
			"200001\t2023-03-31\t45000\t48000\tAR23\n"+
			"200001\t2022-03-31\t60000\t55000\tAR22\n"+
			"999999\t2023-03-31\t1\t1\tAR23\n")
	writeExtract(t, dir, DatasetReturnPartA,
		"registered_charity_number\tfin_period_end_date\ttotal_gross_income\ttotal_gross_expenditure\treserves\tcount_employees\tcount_volunteers\n"+
			"200001\t2022-03-31\t60000\t55000\t20000\t2\t10\n"+
			"200001\t2023-03-31\t45000\t48000\t4000\t3\t12\n")
	writeExtract(t, dir, DatasetClassification,
		"registered_charity_number\tclassification_type\tclassification_code\tclassification_description\n"+
			"200001\tWhat\t105\t\n"+
			"200001\tWho\t201\tChildren/Young People\n"+
			"200001\tHow\t306\tProvides Services\n")
	writeExtract(t, dir, DatasetAreaOfOperation,
		"registered_charity_number\tgeographic_area_description\n"+
			"200001\tTower Hamlets\n")

	paths := map[string]string{
		DatasetRegister:        filepath.Join(dir, DatasetRegister+".txt"),
		DatasetReturnHistory:   filepath.Join(dir, DatasetReturnHistory+".txt"),
		DatasetReturnPartA:     filepath.Join(dir, DatasetReturnPartA+".txt"),
		DatasetClassification:  filepath.Join(dir, DatasetClassification+".txt"),
		DatasetAreaOfOperation: filepath.Join(dir, DatasetAreaOfOperation+".txt"),
	}

	charities, err := NewLoader("", zerolog.Nop()).LoadAll(paths)

	require.NoError(t, err)
	require.Len(t, charities, 1)
	c := charities["200001"]

	require.Len(t, c.Returns, 2)
	assert.Equal(t, 2022, c.Returns[0].Year, "history sorted oldest first")
	assert.Equal(t, 2023, c.Returns[1].Year)

	require.NotNil(t, c.Returns[1].Reserves, "latest Part A reserves attached to its history year")
	assert.Equal(t, 4000.0, *c.Returns[1].Reserves)
	assert.Nil(t, c.Returns[0].Reserves, "only the latest Part A is merged")

	require.NotNil(t, c.Reserves)
	assert.Equal(t, 4000.0, *c.Reserves)
	assert.Equal(t, 3, c.Employees)
	assert.Equal(t, 12, c.Volunteers)

	assert.Equal(t, []string{"Relief of Poverty"}, c.Categories, "code 105 back-filled from the lookup")
	assert.Equal(t, []string{"Children/Young People"}, c.Beneficiaries)
	assert.Equal(t, []string{"Provides Services"}, c.Methods)
	assert.Equal(t, []string{"Tower Hamlets"}, c.Areas)
}

func TestLoadPartA_ZeroMoneyDoesNotOverride(t *testing.T) {
	// Given: A Part A row with blank income and spending
	// When: LoadPartA merges it
	// Then: The register headline figures survive

	dir := t.TempDir()
	registerPath := writeExtract(t, dir, DatasetRegister,
		"registered_charity_number\tcharity_name\tcharity_registration_status\tcharity_contact_postcode\tlatest_income\tlatest_expenditure\n"+
			"200001\tFund\tRegistered\tE1 6AN\t45000\t48000\n")
	partaPath := writeExtract(t, dir, DatasetReturnPartA,
		"registered_charity_number\tfin_period_end_date\ttotal_gross_income\ttotal_gross_expenditure\treserves\tcount_employees\tcount_volunteers\n"+
			"200001\t2023-03-31\t\t\t1000\t0\t5\n")

	loader := NewLoader("", zerolog.Nop())
	charities, err := loader.LoadRegister(registerPath)
	require.NoError(t, err)
	require.NoError(t, loader.LoadPartA(partaPath, charities))

	c := charities["200001"]
	assert.Equal(t, 45000.0, c.Income)
	assert.Equal(t, 48000.0, c.Spending)
	require.NotNil(t, c.Reserves)
	assert.Equal(t, 1000.0, *c.Reserves)
}
