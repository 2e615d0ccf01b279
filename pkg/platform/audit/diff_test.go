package audit

//go:generate mockgen -source=models.go -destination=mocks/mocks.go -package=mocks Store,AccessStore,Sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRecord struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Phone     string            `json:"phone"`
	Tags      []string          `json:"tags"`
	Meta      map[string]string `json:"meta"`
	UpdatedBy string            `json:"updated_by"`
	UpdatedAt string            `json:"updated_at"`
}

func TestDiff_OnlyChangedFields(t *testing.T) {
	before, err := Snapshot(sampleRecord{
		ID: "r1", Name: "A", Phone: "555", Tags: []string{"x"},
		Meta: map[string]string{"k": "v"}, UpdatedBy: "u1", UpdatedAt: "t1",
	})
	require.NoError(t, err)
	after, err := Snapshot(sampleRecord{
		ID: "r1", Name: "B", Phone: "555", Tags: []string{"x"},
		Meta: map[string]string{"k": "v"}, UpdatedBy: "u2", UpdatedAt: "t2",
	})
	require.NoError(t, err)

	changes := Diff(before, after)

	assert.Equal(t, map[string]FieldChange{"name": {Old: "A", New: "B"}}, changes)
}

func TestDiff_NestedValuesComparedWhole(t *testing.T) {
	before := map[string]any{"meta": map[string]any{"a": 1.0, "b": 2.0}}
	after := map[string]any{"meta": map[string]any{"a": 1.0, "b": 3.0}}

	changes := Diff(before, after)

	require.Contains(t, changes, "meta")
	assert.Equal(t, before["meta"], changes["meta"].Old)
}

func TestDiff_KeysMissingFromEitherSideIgnored(t *testing.T) {
	changes := Diff(map[string]any{"only_before": 1.0}, map[string]any{"only_after": 2.0})
	assert.Empty(t, changes)
}

func TestSnapshot_Nil(t *testing.T) {
	snap, err := Snapshot(nil)
	require.NoError(t, err)
	assert.Nil(t, snap)

	var rec *sampleRecord
	snap, err = Snapshot(rec)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestClassify(t *testing.T) {
	tests := map[string]Sensitivity{
		"subject_profile":       SensitivityCritical,
		"PatientNote":           SensitivityCritical,
		"subject_consent":       SensitivityCritical,
		"condition":             SensitivityHigh,
		"appointment":           SensitivityHigh,
		"medication":            SensitivityHigh,
		"alert":                 SensitivityHigh,
		"practitioner_profile":  SensitivityMedium,
		"administrator_profile": SensitivityMedium,
		"user":                  SensitivityMedium,
		"clinic_settings":       SensitivityLow,
		"retention_sweep":       SensitivityLow,
	}
	for entityType, want := range tests {
		assert.Equal(t, want, Classify(entityType), entityType)
	}
}

func TestSensitivity_AtLeast(t *testing.T) {
	assert.Equal(t, SensitivityHigh, SensitivityLow.AtLeast(SensitivityHigh))
	assert.Equal(t, SensitivityCritical, SensitivityCritical.AtLeast(SensitivityHigh))
}

func TestFilter_Matches(t *testing.T) {
	e := Entry{EntityType: "condition", EntityID: "c1", Action: ActionUpdate}
	assert.True(t, Filter{}.Matches(e))
	assert.True(t, Filter{EntityType: "condition", Action: ActionUpdate}.Matches(e))
	assert.False(t, Filter{EntityID: "c2"}.Matches(e))
	assert.False(t, Filter{Action: ActionDelete}.Matches(e))
}
