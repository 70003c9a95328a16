package store

const (
	upsertEntityQuery = `
		MERGE (n:Entity {id: $id})
		SET n.entity_type = $entity_type,
			n.name = $name,
			n.name_norm = $name_norm,
			n.description = $description,
			n.attributes = $attributes,
			n.source_count = $source_count,
			n.source_ids = $source_ids,
			n.confidence = $confidence,
			n.is_consolidated = $is_consolidated,
			n.merged_into = $merged_into,
			n.semantic_verified = $semantic_verified,
			n.embedding = $embedding,
			n.created_at = $created_at,
			n.updated_at = $updated_at
		RETURN n.id AS id
	`

	getEntityQuery = `
		MATCH (n:Entity {id: $id})
		RETURN n
	`

	listByTypeQuery = `
		MATCH (n:Entity {entity_type: $entity_type})
		WHERE n.merged_into = ""
		RETURN n
		ORDER BY n.created_at
	`

	queryByTypeAndPrefixQuery = `
		MATCH (n:Entity {entity_type: $entity_type})
		WHERE n.merged_into = "" AND n.name_norm STARTS WITH $prefix
		RETURN n
		ORDER BY n.created_at
	`

	insertContradictionQuery = `
		MATCH (e:Entity {id: $entity_id})
		CREATE (c:Contradiction {
			id: $id,
			entity_id: $entity_id,
			attribute: $attribute,
			values: $values,
			value_similarity: $value_similarity,
			status: $status,
			resolution: $resolution,
			created_at: $created_at
		})
		CREATE (e)-[:HAS_CONTRADICTION]->(c)
		RETURN c.id AS id
	`

	listContradictionsQuery = `
		MATCH (:Entity {id: $entity_id})-[:HAS_CONTRADICTION]->(c:Contradiction)
		RETURN c
		ORDER BY c.created_at
	`

	insertAuditQuery = `
		CREATE (a:AuditRecord {
			id: $id,
			entity_type: $entity_type,
			primary_entity_id: $primary_entity_id,
			merged_entity_ids: $merged_entity_ids,
			before_snapshot: $before_snapshot,
			degraded: $degraded,
			created_at: $created_at,
			rolled_back_at: null,
			rollback_reason: ""
		})
		RETURN a.id AS id
	`

	getAuditQuery = `
		MATCH (a:AuditRecord {id: $id})
		RETURN a
	`

	listAuditQuery = `
		MATCH (a:AuditRecord)
		WHERE ($entity_type = "" OR a.entity_type = $entity_type)
		  AND ($since = 0 OR a.created_at >= $since)
		RETURN a
		ORDER BY a.created_at
	`

	markAuditRolledBackQuery = `
		MATCH (a:AuditRecord {id: $id})
		SET a.rolled_back_at = $rolled_back_at,
			a.rollback_reason = $rollback_reason
		RETURN a.id AS id
	`

	insertReviewFlagQuery = `
		CREATE (f:ReviewFlag {
			id: $id,
			entity_id: $entity_id,
			candidate: $candidate,
			record: $record,
			created_at: $created_at
		})
		RETURN f.id AS id
	`

	listReviewFlagsQuery = `
		MATCH (f:ReviewFlag)
		RETURN f
		ORDER BY f.created_at
	`

	getCachedVectorQuery = `
		MATCH (v:EmbeddingCache {hash: $hash})
		RETURN v.vector AS vector
	`

	putCachedVectorQuery = `
		MERGE (v:EmbeddingCache {hash: $hash})
		SET v.vector = $vector
		RETURN v.hash AS hash
	`
)
