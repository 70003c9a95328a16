package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityType(t *testing.T) {
	for _, valid := range AllEntityTypes() {
		got, err := ParseEntityType(string(valid))
		require.NoError(t, err)
		assert.Equal(t, valid, got)
	}

	for _, bad := range []string{"", "widget", "SYSTEM", "metric "} {
		_, err := ParseEntityType(bad)
		assert.ErrorIs(t, err, ErrInvalidEntityType, "input %q", bad)
	}
}

func TestSchemaClasses(t *testing.T) {
	for _, strict := range []EntityType{TypeMetric, TypeKPI, TypeReport, TypeRisk} {
		assert.Equal(t, ClassNameStrict, strict.SchemaFor().Class, string(strict))
	}
	assert.Equal(t, ClassNameTolerant, TypeSystem.SchemaFor().Class)
	assert.Equal(t, ClassNameTolerant, TypeTool.SchemaFor().Class)
}

func TestSnapshotRoundTrip(t *testing.T) {
	entities := []*Entity{
		{ID: "e1", Type: TypeSystem, Name: "Excel", SourceIDs: []string{"doc-1"}, SourceCount: 1},
		{ID: "e2", Type: TypeSystem, Name: "excel", SourceIDs: []string{"doc-2"}, SourceCount: 1,
			Attributes: map[string]string{"refresh": "daily"}},
	}
	data, err := SnapshotEntities(entities)
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, entities[0].Name, decoded[0].Name)
	assert.Equal(t, entities[1].Attributes, decoded[1].Attributes)
}
