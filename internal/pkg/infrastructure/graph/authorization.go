package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/diwise/graph-broker/pkg/ngsild/jsonld"
)

var (
	RightCanRead  string = jsonld.RightCanRead
	RightCanWrite string = jsonld.RightCanWrite
	RightCanAdmin string = jsonld.RightCanAdmin

	AllRights []string = []string{RightCanRead, RightCanWrite, RightCanAdmin}

	IsMemberOf           string = jsonld.IsMemberOf
	RolesProperty        string = jsonld.RolesProperty
	SIDProperty          string = jsonld.SIDProperty
	AccessPolicyProperty string = jsonld.AccessPolicyProperty
)

// a subject is either a user, matched on its id, or a client whose service
// account id is stored in the sid property
const subjectFilter string = `(subject.id = $userId OR (subject)-[:HAS_VALUE]->(:Attribute:Property {name: $sid, value: $userId}))`

// FilterEntitiesUserHasOneOfGivenRights returns the subset of entityIDs on
// which the user holds one of the rights, directly or through the groups it
// is a member of
func (s *Store) FilterEntitiesUserHasOneOfGivenRights(ctx context.Context, userID string, entityIDs, rights []string) ([]string, error) {
	return s.entitiesWithRights(ctx, userID, entityIDs, rights, false)
}

// GetEntitiesUserHasOneOfGivenRights returns every entity on which the user
// holds one of the rights
func (s *Store) GetEntitiesUserHasOneOfGivenRights(ctx context.Context, userID string, rights []string) ([]string, error) {
	return s.entitiesWithRights(ctx, userID, nil, rights, true)
}

func (s *Store) entitiesWithRights(ctx context.Context, userID string, entityIDs, rights []string, all bool) ([]string, error) {
	query := fmt.Sprintf(`
		MATCH (subject:Entity)
		WHERE %[1]s
		MATCH (subject)-[:HAS_OBJECT]->(rightNode:Attribute:Relationship)-->(entity:Entity)
		WHERE ($all OR entity.id IN $entityIds) AND any(l IN labels(rightNode) WHERE l IN $rights)
		RETURN entity.id AS id
		UNION
		MATCH (subject:Entity)
		WHERE %[1]s
		MATCH (subject)-[:HAS_OBJECT]->(:Attribute:Relationship)-[:%[2]s]->(:Entity)
		      -[:HAS_OBJECT]->(groupRight:Attribute:Relationship)-->(entity:Entity)
		WHERE ($all OR entity.id IN $entityIds) AND any(l IN labels(groupRight) WHERE l IN $rights)
		RETURN entity.id AS id`, subjectFilter, escape(IsMemberOf))

	params := map[string]any{
		"userId":    userID,
		"sid":       SIDProperty,
		"all":       all,
		"entityIds": nonNil(entityIDs),
		"rights":    nonNil(rights),
	}

	result, err := s.runner.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to filter entities on rights of %s: %w", userID, err)
	}

	return distinctIDs(result), nil
}

func (s *Store) FilterEntitiesWithSpecificAccessPolicy(ctx context.Context, entityIDs, policies []string) ([]string, error) {
	return s.entitiesWithAccessPolicy(ctx, entityIDs, policies, false)
}

func (s *Store) GetEntitiesWithSpecificAccessPolicy(ctx context.Context, policies []string) ([]string, error) {
	return s.entitiesWithAccessPolicy(ctx, nil, policies, true)
}

func (s *Store) entitiesWithAccessPolicy(ctx context.Context, entityIDs, policies []string, all bool) ([]string, error) {
	query := `
		MATCH (entity:Entity)-[:HAS_VALUE]->(p:Attribute:Property {name: $sap})
		WHERE ($all OR entity.id IN $entityIds) AND p.value IN $policies
		RETURN entity.id AS id`

	params := map[string]any{
		"sap":       AccessPolicyProperty,
		"all":       all,
		"entityIds": nonNil(entityIDs),
		"policies":  nonNil(policies),
	}

	result, err := s.runner.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to filter entities on access policy: %w", err)
	}

	return distinctIDs(result), nil
}

// GetUserRoles returns the roles of a user, or client, merged with the roles of
// the groups it is a member of
func (s *Store) GetUserRoles(ctx context.Context, userID string) ([]string, error) {
	query := fmt.Sprintf(`
		MATCH (subject:Entity)
		WHERE %s
		OPTIONAL MATCH (subject)-[:HAS_VALUE]->(p:Attribute:Property {name: $roles})
		OPTIONAL MATCH (subject)-[:HAS_OBJECT]->(:Attribute:Relationship)-[:%s]->(:Entity)
		               -[:HAS_VALUE]->(pgroup:Attribute:Property {name: $roles})
		RETURN collect(p.value) AS roles, collect(pgroup.value) AS groupRoles`, subjectFilter, escape(IsMemberOf))

	params := map[string]any{
		"userId": userID,
		"sid":    SIDProperty,
		"roles":  RolesProperty,
	}

	result, err := s.runner.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get roles of %s: %w", userID, err)
	}

	roles := []string{}
	seen := map[string]bool{}

	add := func(v any) {
		if role, ok := v.(string); ok && !seen[role] {
			seen[role] = true
			roles = append(roles, role)
		}
	}

	for _, r := range result.Records {
		for _, key := range []string{"roles", "groupRoles"} {
			values, _ := r.Get(key)
			for _, v := range asSlice(values) {
				if l, ok := v.([]any); ok {
					for _, vv := range l {
						add(vv)
					}
				} else {
					add(v)
				}
			}
		}
	}

	return roles, nil
}

// CreateAdminLinks gives the user, or the client with that service account id,
// the admin right on each of the entities. The ids of the created relationship
// nodes are returned.
func (s *Store) CreateAdminLinks(ctx context.Context, userID string, entityIDs []string) ([]string, error) {
	query := fmt.Sprintf(`
		CALL {
			MATCH (subject:Entity:%s)
			WHERE subject.id = $userId
			RETURN subject
			UNION
			MATCH (subject:Entity:%s)
			WHERE (subject)-[:HAS_VALUE]->(:Attribute:Property {name: $sid, value: $userId})
			RETURN subject
		}
		WITH subject
		UNWIND $links AS link
		MATCH (target:Entity {id: link.targetId})
		CREATE (subject)-[:HAS_OBJECT]->(r:Attribute:Relationship:%s)-[:%s]->(target)
		SET r = link.props
		RETURN r.id AS id`, escape(jsonld.UserType), escape(jsonld.ClientType), escape(RightCanAdmin), escape(RightCanAdmin))

	now := s.now()

	links := make([]map[string]any, 0, len(entityIDs))
	for _, entityID := range entityIDs {
		links = append(links, map[string]any{
			"targetId": entityID,
			"props": map[string]any{
				"id":        "urn:ngsi-ld:Relationship:" + uuid.NewString(),
				"name":      RightCanAdmin,
				"objectId":  entityID,
				"createdAt": now,
			},
		})
	}

	params := map[string]any{
		"userId": userID,
		"sid":    SIDProperty,
		"links":  links,
	}

	result, err := s.runner.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin links for %s: %w", userID, err)
	}

	return distinctIDs(result), nil
}

// RemoveUserRightsOnEntity deletes every right the subject holds on the target
// and returns the number of deleted relationship nodes
func (s *Store) RemoveUserRightsOnEntity(ctx context.Context, subjectID, targetID string) (int, error) {
	query := `
		MATCH (subject:Entity {id: $subjectId})-[:HAS_OBJECT]->(relNode:Attribute:Relationship)-->(target:Entity {id: $targetId})
		WHERE any(l IN labels(relNode) WHERE l IN $rights)
		DETACH DELETE relNode`

	params := map[string]any{
		"subjectId": subjectID,
		"targetId":  targetID,
		"rights":    AllRights,
	}

	result, err := s.runner.Run(ctx, query, params)
	if err != nil {
		return 0, fmt.Errorf("failed to remove rights of %s on %s: %w", subjectID, targetID, err)
	}

	return result.NodesDeleted, nil
}

func distinctIDs(result *Result) []string {
	ids := []string{}
	seen := map[string]bool{}

	for _, r := range result.Records {
		if id, ok := getString(r, "id"); ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	return ids
}
