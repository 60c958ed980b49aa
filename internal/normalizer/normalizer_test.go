package normalizer

import (
	"testing"
	"time"

	"schemawatch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDeriveAttributeID(t *testing.T) {
	testCases := []struct {
		name     string
		explicit string
		display  string
		expected string
	}{
		{"explicit wins", "item_weight", "Item Weight (kg)", "item_weight"},
		{"derived from name", "", "Item Weight", "item_weight"},
		{"punctuation collapses", "", "Item  Weight -- (kg)", "item_weight_kg"},
		{"already clean", "", "brand", "brand"},
		{"mixed case explicit", "ItemWeight", "", "itemweight"},
		{"leading and trailing junk", "", "  __Size__  ", "size"},
		{"digits preserved", "", "ISBN-13", "isbn_13"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, DeriveAttributeID(tc.explicit, tc.display))
		})
	}
}

func TestNormalizeTypeVocabulary(t *testing.T) {
	n := New(zaptest.NewLogger(t))

	testCases := []struct {
		rawType  string
		expected types.DataType
		lowConf  bool
	}{
		{"string", types.DataTypeString, false},
		{"VARCHAR(255)", types.DataTypeString, false},
		{"int", types.DataTypeInteger, false},
		{"Number", types.DataTypeInteger, false},
		{"bool", types.DataTypeBoolean, false},
		{"yes-no", types.DataTypeBoolean, false},
		{"picklist", types.DataTypeEnum, false},
		{"DateTime", types.DataTypeDate, false},
		{"blob", types.DataTypeString, true},
		{"", types.DataTypeString, true},
	}

	for _, tc := range testCases {
		t.Run(tc.rawType, func(t *testing.T) {
			snapshot, err := n.Normalize(&types.RawSchema{
				SourceID:   "marketplace-a",
				CapturedAt: time.Now(),
				Fields: []types.RawField{
					{Name: "color", RawType: tc.rawType},
				},
			})
			require.NoError(t, err)

			def := snapshot.Attributes["color"]
			require.NotNil(t, def)
			assert.Equal(t, tc.expected, def.DataType)
			assert.Equal(t, tc.lowConf, def.LowConfidence)
		})
	}
}

func TestNormalizeValueListForcesEnum(t *testing.T) {
	n := New(zaptest.NewLogger(t))

	snapshot, err := n.Normalize(&types.RawSchema{
		SourceID:   "marketplace-a",
		CapturedAt: time.Now(),
		Fields: []types.RawField{
			{Name: "size", RawType: "string", AllowedValues: []string{"M", "S", "M", " L ", ""}},
			{Name: "condition", RawType: "picklist"},
		},
	})
	require.NoError(t, err)

	size := snapshot.Attributes["size"]
	require.NotNil(t, size)
	assert.Equal(t, types.DataTypeEnum, size.DataType)
	assert.Equal(t, []string{"L", "M", "S"}, size.AllowedValues)

	// Enum without values stays enum with no list
	condition := snapshot.Attributes["condition"]
	require.NotNil(t, condition)
	assert.Equal(t, types.DataTypeEnum, condition.DataType)
	assert.Empty(t, condition.AllowedValues)
}

func TestNormalizeDuplicateIDsKeepFirst(t *testing.T) {
	n := New(zaptest.NewLogger(t))

	snapshot, err := n.Normalize(&types.RawSchema{
		SourceID:   "marketplace-a",
		CapturedAt: time.Now(),
		Fields: []types.RawField{
			{Name: "Item Weight", RawType: "int"},
			{Name: "item_weight", RawType: "string"},
		},
	})
	require.NoError(t, err)

	require.Len(t, snapshot.Attributes, 1)
	assert.Equal(t, types.DataTypeInteger, snapshot.Attributes["item_weight"].DataType)
	assert.Equal(t, []string{"item_weight"}, snapshot.Conflicts)
}

func TestNormalizeEffectiveDates(t *testing.T) {
	n := New(zaptest.NewLogger(t))

	snapshot, err := n.Normalize(&types.RawSchema{
		SourceID:   "marketplace-a",
		CapturedAt: time.Now(),
		Fields: []types.RawField{
			{Name: "a", RawType: "string", EffectiveFrom: "2026-09-01"},
			{Name: "b", RawType: "string", EffectiveFrom: "2026/09/01"},
			{Name: "c", RawType: "string", EffectiveFrom: "2026-09-01T10:00:00Z"},
			{Name: "d", RawType: "string", EffectiveFrom: "next tuesday"},
		},
	})
	require.NoError(t, err)

	expected := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	require.NotNil(t, snapshot.Attributes["a"].EffectiveFrom)
	assert.Equal(t, expected, *snapshot.Attributes["a"].EffectiveFrom)
	require.NotNil(t, snapshot.Attributes["b"].EffectiveFrom)
	assert.Equal(t, expected, *snapshot.Attributes["b"].EffectiveFrom)
	require.NotNil(t, snapshot.Attributes["c"].EffectiveFrom)

	// Unparseable date is kept low-confidence rather than dropped
	assert.Nil(t, snapshot.Attributes["d"].EffectiveFrom)
	assert.True(t, snapshot.Attributes["d"].LowConfidence)
}

func TestNormalizeRejectsMalformedInput(t *testing.T) {
	n := New(zaptest.NewLogger(t))

	testCases := []struct {
		name string
		raw  *types.RawSchema
	}{
		{"nil payload", nil},
		{"missing source", &types.RawSchema{CapturedAt: time.Now(), Fields: []types.RawField{{Name: "a"}}}},
		{"empty fields", &types.RawSchema{SourceID: "marketplace-a", CapturedAt: time.Now()}},
		{"blank field name", &types.RawSchema{
			SourceID:   "marketplace-a",
			CapturedAt: time.Now(),
			Fields:     []types.RawField{{Name: "   "}},
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := n.Normalize(tc.raw)
			require.Error(t, err)
			var normErr *types.NormalizationError
			assert.ErrorAs(t, err, &normErr)
		})
	}
}
