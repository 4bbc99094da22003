package common

import "time"

// EntityType is the closed taxonomy of node types in the policy graph.
type EntityType string

const (
	EntityTypeDocument     EntityType = "document"
	EntityTypeLegislation  EntityType = "legislation"
	EntityTypeRegulation   EntityType = "regulation"
	EntityTypePolicy       EntityType = "policy"
	EntityTypeAgency       EntityType = "agency"
	EntityTypePerson       EntityType = "person"
	EntityTypeOrganization EntityType = "organization"
	EntityTypeJurisdiction EntityType = "jurisdiction"
	EntityTypeTopic        EntityType = "topic"
	EntityTypeCourtCase    EntityType = "court_case"
)

// ValidEntityType reports whether t is part of the taxonomy.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityTypeDocument, EntityTypeLegislation, EntityTypeRegulation,
		EntityTypePolicy, EntityTypeAgency, EntityTypePerson,
		EntityTypeOrganization, EntityTypeJurisdiction, EntityTypeTopic,
		EntityTypeCourtCase:
		return true
	}
	return false
}

// Hierarchy places an entity inside a parent/child structure, e.g. a
// regulation under the statute that authorizes it, or a municipal
// jurisdiction under its state.
type Hierarchy struct {
	Level    int    `json:"level"`
	ParentID string `json:"parent_id,omitempty"`
}

// Entity represents a node in the policy graph. An entity can be a statute,
// an agency, a person, or any other concept from the closed taxonomy.
//
// Entities are never hard-deleted: deletion marks the entity as tombstoned
// so stored relationships keep valid endpoints and history stays intact.
type Entity struct {
	ID          string         `json:"id"`
	Type        EntityType     `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	URI         string         `json:"uri,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Hierarchy   *Hierarchy     `json:"hierarchy,omitempty"`
	Tombstoned  bool           `json:"tombstoned,omitempty"`
}

// Relation represents a directed, typed edge between two entities.
//
// Explicit relations (Inferred=false) always win over inferred ones when
// both exist for the same (source, type, target) triple.
type Relation struct {
	ID         string         `json:"id,omitempty"`
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Type       string         `json:"type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Inferred   bool           `json:"inferred"`
	ValidFrom  *time.Time     `json:"valid_from,omitempty"`
	ValidTo    *time.Time     `json:"valid_to,omitempty"`
}

// Key returns the identity triple used for conflict and duplicate checks.
func (r Relation) Key() string {
	return r.SourceID + "\x00" + r.Type + "\x00" + r.TargetID
}

// GraphSnapshot is a bounded export of the graph used by clustering and
// the reduced snapshot backend.
type GraphSnapshot struct {
	Nodes []Entity   `json:"nodes"`
	Edges []Relation `json:"edges"`
}

// GraphStats summarizes graph size.
type GraphStats struct {
	NodeCount int `json:"node_count"`
	EdgeCount int `json:"edge_count"`
}

// TraversalNode is the per-call bookkeeping record of a graph walk. It is
// never persisted; parent references exist for path reconstruction.
type TraversalNode struct {
	ID     string `json:"id"`
	Depth  int    `json:"depth"`
	Parent string `json:"parent,omitempty"`
}

// ClusterNode is one cluster of a meta-graph run. EntityIDs are
// deduplicated and an entity belongs to at most one cluster per run.
type ClusterNode struct {
	ID          string         `json:"id"`
	Label       string         `json:"label"`
	ClusterType string         `json:"cluster_type"`
	Level       int            `json:"level"`
	NodeCount   int            `json:"node_count"`
	EntityIDs   []string       `json:"entity_ids"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Document is the unit handed over by the ingestion collaborators: raw
// content plus the entities and relations already extracted from it.
type Document struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	URI       string         `json:"uri,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Entities  []Entity       `json:"entities,omitempty"`
	Relations []Relation     `json:"relations,omitempty"`
}

// ChangeError records a failure for one document inside a batch. Batch
// processing continues past individual failures.
type ChangeError struct {
	DocumentID string `json:"document_id"`
	Message    string `json:"message"`
}

// EntityChange pairs the previous and the observed entity state for an
// update so conflict handling can compare field by field.
type EntityChange struct {
	Before *Entity `json:"before,omitempty"`
	After  Entity  `json:"after"`
}

// ChangeSet is the itemized diff between newly observed documents and the
// stored graph. It is immutable once produced by change detection.
type ChangeSet struct {
	ID                 string         `json:"id"`
	NewDocuments       []Document     `json:"new_documents"`
	UpdatedDocuments   []Document     `json:"updated_documents"`
	DeletedDocumentIDs []string       `json:"deleted_document_ids"`
	NewEntities        []Entity       `json:"new_entities"`
	UpdatedEntities    []EntityChange `json:"updated_entities"`
	DeletedEntityIDs   []string       `json:"deleted_entity_ids"`
	NewRelations       []Relation     `json:"new_relations"`
	UpdatedRelations   []Relation     `json:"updated_relations"`
	DeletedRelationIDs []string       `json:"deleted_relation_ids"`
	DocumentsProcessed int            `json:"documents_processed"`
	ProcessingTimeMs   int64          `json:"processing_time_ms"`
	Errors             []ChangeError  `json:"errors"`
}

// Empty reports whether the change set carries no changes at all.
func (c *ChangeSet) Empty() bool {
	return len(c.NewDocuments) == 0 && len(c.UpdatedDocuments) == 0 &&
		len(c.DeletedDocumentIDs) == 0 && len(c.NewEntities) == 0 &&
		len(c.UpdatedEntities) == 0 && len(c.DeletedEntityIDs) == 0 &&
		len(c.NewRelations) == 0 && len(c.UpdatedRelations) == 0 &&
		len(c.DeletedRelationIDs) == 0
}

// EntityVersion is one historical state of an entity. Version numbers are
// strictly increasing per entity and validity windows never overlap.
type EntityVersion struct {
	EntityID  string     `json:"entity_id"`
	Version   int        `json:"version"`
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
	State     Entity     `json:"state"`
}

// ActiveAt reports whether the version's validity window covers t.
func (v EntityVersion) ActiveAt(t time.Time) bool {
	if t.Before(v.ValidFrom) {
		return false
	}
	return v.ValidTo == nil || t.Before(*v.ValidTo)
}

// InferenceResult is the outcome of one forward-chaining run.
type InferenceResult struct {
	Relations             []Relation    `json:"relations"`
	RelationshipsInferred int           `json:"relationships_inferred"`
	PropertiesInferred    int           `json:"properties_inferred"`
	ExecutionTime         time.Duration `json:"execution_time"`
}

// Fact is one (source, relation, target) triple produced by fact-first
// retrieval, with the hop distance from the query entry point.
type Fact struct {
	Source   Entity   `json:"source"`
	Relation Relation `json:"relation"`
	Target   Entity   `json:"target"`
	Hops     int      `json:"hops"`
}

// VectorChunk is an externally scored text chunk. The embedding search
// that produces it is opaque to this service; only the score is consumed.
type VectorChunk struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}
