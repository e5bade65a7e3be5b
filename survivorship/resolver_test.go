package survivorship

import (
	"math/rand"
	"testing"
	"time"

	"github.com/LilVoxy/coursework_warehouse/models"
	"github.com/LilVoxy/coursework_warehouse/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var customerRules = models.SurvivorshipConfig{
	"customer": {
		DefaultOrder: []string{"crm", "erp"},
		PerAttribute: map[string][]string{
			"country": {"erp", "crm"},
		},
	},
}

func cleanRec(source string, rowID int64, extractedAt time.Time, attrs map[string]interface{}) models.CleanRecord {
	return models.CleanRecord{
		Entity:      "customer",
		Source:      source,
		RowID:       rowID,
		BusinessKey: "101",
		ExtractedAt: extractedAt,
		Attributes:  attrs,
	}
}

func TestResolveMergesAcrossSources(t *testing.T) {
	resolver := NewResolver(customerRules, utils.NewETLLogger(false))

	ts := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	records := []models.CleanRecord{
		cleanRec("crm", 1, ts, map[string]interface{}{
			"customer_name": "Jane Doe",
			"city":          "NYC",
			"country":       nil,
		}),
		cleanRec("erp", 7, ts, map[string]interface{}{
			"customer_name": "J. Doe",
			"country":       "US",
		}),
	}

	golden, err := resolver.Resolve("customer", "101", records)
	require.NoError(t, err)

	// CRM выигрывает имя по умолчанию, ERP — страну по правилу атрибута;
	// город берется из CRM как единственного непустого источника
	assert.Equal(t, "Jane Doe", golden.Attributes["customer_name"])
	assert.Equal(t, "NYC", golden.Attributes["city"])
	assert.Equal(t, "US", golden.Attributes["country"])

	assert.Equal(t, "crm", golden.Provenance["customer_name"])
	assert.Equal(t, "crm", golden.Provenance["city"])
	assert.Equal(t, "erp", golden.Provenance["country"])
}

func TestResolveFallsThroughEmptyPrioritySource(t *testing.T) {
	resolver := NewResolver(customerRules, utils.NewETLLogger(false))

	ts := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	records := []models.CleanRecord{
		cleanRec("crm", 1, ts, map[string]interface{}{
			"customer_name": nil,
		}),
		cleanRec("erp", 2, ts, map[string]interface{}{
			"customer_name": "J. Doe",
		}),
	}

	golden, err := resolver.Resolve("customer", "101", records)
	require.NoError(t, err)

	assert.Equal(t, "J. Doe", golden.Attributes["customer_name"])
	assert.Equal(t, "erp", golden.Provenance["customer_name"])
}

func TestResolveLatestExtractionWinsWithinSource(t *testing.T) {
	resolver := NewResolver(customerRules, utils.NewETLLogger(false))

	older := time.Date(2024, 1, 4, 8, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC)
	records := []models.CleanRecord{
		cleanRec("crm", 1, older, map[string]interface{}{"city": "Boston"}),
		cleanRec("crm", 2, newer, map[string]interface{}{"city": "NYC"}),
	}

	golden, err := resolver.Resolve("customer", "101", records)
	require.NoError(t, err)

	assert.Equal(t, "NYC", golden.Attributes["city"])
}

func TestResolveAllNilLeavesAttributeEmpty(t *testing.T) {
	resolver := NewResolver(customerRules, utils.NewETLLogger(false))

	ts := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	records := []models.CleanRecord{
		cleanRec("crm", 1, ts, map[string]interface{}{"city": nil}),
		cleanRec("erp", 2, ts, map[string]interface{}{"city": nil}),
	}

	golden, err := resolver.Resolve("customer", "101", records)
	require.NoError(t, err)

	assert.Nil(t, golden.Attributes["city"])
	_, ok := golden.Provenance["city"]
	assert.False(t, ok)
}

func TestResolveDeterministicUnderPermutation(t *testing.T) {
	resolver := NewResolver(customerRules, utils.NewETLLogger(false))

	base := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	records := []models.CleanRecord{
		cleanRec("crm", 1, base, map[string]interface{}{"customer_name": "A", "city": "NYC"}),
		cleanRec("crm", 2, base.Add(time.Hour), map[string]interface{}{"customer_name": "B"}),
		cleanRec("erp", 3, base, map[string]interface{}{"customer_name": "C", "country": "US"}),
		cleanRec("mdm", 4, base, map[string]interface{}{"country": "DE"}),
	}

	reference, err := resolver.Resolve("customer", "101", records)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 25; i++ {
		shuffled := make([]models.CleanRecord, len(records))
		copy(shuffled, records)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		golden, err := resolver.Resolve("customer", "101", shuffled)
		require.NoError(t, err)
		assert.Equal(t, reference.Attributes, golden.Attributes)
		assert.Equal(t, reference.Provenance, golden.Provenance)
	}
}

func TestResolveUnknownSourceAfterPriorityList(t *testing.T) {
	resolver := NewResolver(customerRules, utils.NewETLLogger(false))

	ts := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	records := []models.CleanRecord{
		cleanRec("mdm", 1, ts, map[string]interface{}{"city": "Berlin"}),
		cleanRec("erp", 2, ts, map[string]interface{}{"city": "Munich"}),
	}

	golden, err := resolver.Resolve("customer", "101", records)
	require.NoError(t, err)

	// Источник вне списка приоритетов уступает перечисленным
	assert.Equal(t, "Munich", golden.Attributes["city"])
	assert.Equal(t, "erp", golden.Provenance["city"])
}

func TestResolveEmptyInputFails(t *testing.T) {
	resolver := NewResolver(customerRules, utils.NewETLLogger(false))

	_, err := resolver.Resolve("customer", "101", nil)
	assert.Error(t, err)
}

func TestGroupByKey(t *testing.T) {
	ts := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	records := []models.CleanRecord{
		{BusinessKey: "101", Source: "crm", ExtractedAt: ts},
		{BusinessKey: "102", Source: "crm", ExtractedAt: ts},
		{BusinessKey: "101", Source: "erp", ExtractedAt: ts},
	}

	groups := GroupByKey(records)
	require.Len(t, groups, 2)
	assert.Len(t, groups["101"], 2)
	assert.Len(t, groups["102"], 1)
}
