package temporal

import "strings"

// AccessRightFilter returns an extra SQL condition restricting the entities a
// caller may see, or an empty string when no restriction applies
type AccessRightFilter func() string

// BuildEntitiesQueryFilter joins the non empty conditions on ids, types,
// attribute names and access rights with AND. The result is empty when there
// is nothing to filter on.
func BuildEntitiesQueryFilter(ids, types, attrs []string, accessRightFilter AccessRightFilter) string {
	clauses := []string{}

	if len(ids) > 0 {
		clauses = append(clauses, "entity_id IN ("+quoteAll(ids)+")")
	}

	if len(types) > 0 {
		clauses = append(clauses, "type IN ("+quoteAll(types)+")")
	}

	if len(attrs) > 0 {
		clauses = append(clauses, "attribute_name IN ("+quoteAll(attrs)+")")
	}

	if accessRightFilter != nil {
		if filter := accessRightFilter(); filter != "" {
			clauses = append(clauses, filter)
		}
	}

	return strings.Join(clauses, " AND ")
}

// EntityIDFilter builds an access right condition allowing only the given
// entities. An empty list allows nothing.
func EntityIDFilter(entityIDs []string) AccessRightFilter {
	return func() string {
		if len(entityIDs) == 0 {
			return "entity_id IN (NULL)"
		}
		return "entity_id IN (" + quoteAll(entityIDs) + ")"
	}
}

func quoteAll(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, quote(v))
	}
	return strings.Join(quoted, ",")
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
