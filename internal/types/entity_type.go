package types

import "fmt"

// EntityType is the closed set of record types the engine accepts.
// Anything outside this set is rejected at ingress, before any storage
// access, so raw type strings never reach a query.
type EntityType string

const (
	TypePainPoint   EntityType = "pain_point"
	TypeProcess     EntityType = "process"
	TypeProcessStep EntityType = "process_step"
	TypeSystem      EntityType = "system"
	TypeTool        EntityType = "tool"
	TypeIntegration EntityType = "integration"
	TypeDataSource  EntityType = "data_source"
	TypeDocument    EntityType = "document"
	TypeReport      EntityType = "report"
	TypeMetric      EntityType = "metric"
	TypeKPI         EntityType = "kpi"
	TypeRole        EntityType = "role"
	TypeDepartment  EntityType = "department"
	TypeTeam        EntityType = "team"
	TypeStakeholder EntityType = "stakeholder"
	TypeGoal        EntityType = "goal"
	TypeRisk        EntityType = "risk"
)

// ThresholdClass selects which similarity thresholds apply to a type.
// Names of systems and tools come in many spellings ("Excel", "MS Excel"),
// while metric and KPI names must match almost exactly to avoid conflating
// distinct measures.
type ThresholdClass string

const (
	ClassNameTolerant ThresholdClass = "name_tolerant"
	ClassNameStrict   ThresholdClass = "name_strict"
)

// Schema describes what the engine expects of a given entity type:
// the attribute keys sources commonly report, and the threshold class.
// Unknown attribute keys are still merged; the list exists for validation
// and reporting, not rejection.
type Schema struct {
	Class         ThresholdClass
	AttributeKeys []string
}

var schemas = map[EntityType]Schema{
	TypePainPoint:   {ClassNameTolerant, []string{"severity", "frequency", "affected_process", "workaround"}},
	TypeProcess:     {ClassNameTolerant, []string{"frequency", "owner", "duration", "trigger"}},
	TypeProcessStep: {ClassNameTolerant, []string{"order", "actor", "system", "duration"}},
	TypeSystem:      {ClassNameTolerant, []string{"vendor", "version", "owner", "criticality"}},
	TypeTool:        {ClassNameTolerant, []string{"vendor", "license", "usage"}},
	TypeIntegration: {ClassNameTolerant, []string{"source_system", "target_system", "direction", "frequency"}},
	TypeDataSource:  {ClassNameTolerant, []string{"format", "owner", "refresh_frequency"}},
	TypeDocument:    {ClassNameTolerant, []string{"format", "owner", "location"}},
	TypeReport:      {ClassNameStrict, []string{"frequency", "audience", "source_system"}},
	TypeMetric:      {ClassNameStrict, []string{"unit", "target", "frequency", "owner"}},
	TypeKPI:         {ClassNameStrict, []string{"unit", "target", "frequency", "owner"}},
	TypeRole:        {ClassNameTolerant, []string{"department", "responsibilities"}},
	TypeDepartment:  {ClassNameTolerant, []string{"head", "headcount"}},
	TypeTeam:        {ClassNameTolerant, []string{"lead", "department", "headcount"}},
	TypeStakeholder: {ClassNameTolerant, []string{"role", "department", "influence"}},
	TypeGoal:        {ClassNameTolerant, []string{"target_date", "owner", "status"}},
	TypeRisk:        {ClassNameStrict, []string{"likelihood", "impact", "mitigation"}},
}

// AllEntityTypes returns the validated set in a stable order.
func AllEntityTypes() []EntityType {
	return []EntityType{
		TypePainPoint, TypeProcess, TypeProcessStep, TypeSystem, TypeTool,
		TypeIntegration, TypeDataSource, TypeDocument, TypeReport, TypeMetric,
		TypeKPI, TypeRole, TypeDepartment, TypeTeam, TypeStakeholder,
		TypeGoal, TypeRisk,
	}
}

// ParseEntityType validates a raw type string against the closed set.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if _, ok := schemas[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntityType, s)
	}
	return t, nil
}

// SchemaFor returns the schema descriptor for a validated type.
func (t EntityType) SchemaFor() Schema {
	return schemas[t]
}

// Valid reports whether t is in the closed set.
func (t EntityType) Valid() bool {
	_, ok := schemas[t]
	return ok
}
