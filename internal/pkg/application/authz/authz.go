package authz

import (
	"context"
	"slices"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/graph-broker/pkg/ngsild/jsonld"
)

var tracer = otel.Tracer("graph-broker/authz")

const (
	AdminRole   string = "stellio-admin"
	CreatorRole string = "stellio-creator"
)

type AccessPolicy string

const (
	AuthRead  AccessPolicy = "AUTH_READ"
	AuthWrite AccessPolicy = "AUTH_WRITE"
)

var (
	readRights   = []string{jsonld.RightCanRead, jsonld.RightCanWrite, jsonld.RightCanAdmin}
	updateRights = []string{jsonld.RightCanWrite, jsonld.RightCanAdmin}
	adminRights  = []string{jsonld.RightCanAdmin}

	readPolicies   = []string{string(AuthRead), string(AuthWrite)}
	updatePolicies = []string{string(AuthWrite)}
)

// Repository is the set of graph queries that rights and roles are resolved from
type Repository interface {
	FilterEntitiesUserHasOneOfGivenRights(ctx context.Context, userID string, entityIDs, rights []string) ([]string, error)
	GetEntitiesUserHasOneOfGivenRights(ctx context.Context, userID string, rights []string) ([]string, error)
	FilterEntitiesWithSpecificAccessPolicy(ctx context.Context, entityIDs, policies []string) ([]string, error)
	GetEntitiesWithSpecificAccessPolicy(ctx context.Context, policies []string) ([]string, error)
	GetUserRoles(ctx context.Context, userID string) ([]string, error)
	CreateAdminLinks(ctx context.Context, userID string, entityIDs []string) ([]string, error)
	RemoveUserRightsOnEntity(ctx context.Context, subjectID, targetID string) (int, error)
}

type Service struct {
	repo    Repository
	enabled bool
}

// New returns a service that resolves access through the repository. When
// enabled is false every check passes and no links are created.
func New(repo Repository, enabled bool) *Service {
	return &Service{repo: repo, enabled: enabled}
}

func (s *Service) Enabled() bool {
	return s.enabled
}

func (s *Service) UserIsAdmin(ctx context.Context, userID string) (bool, error) {
	return s.userHasOneOfRoles(ctx, userID, AdminRole)
}

func (s *Service) UserCanCreateEntities(ctx context.Context, userID string) (bool, error) {
	return s.userHasOneOfRoles(ctx, userID, AdminRole, CreatorRole)
}

func (s *Service) UserCanReadEntity(ctx context.Context, userID, entityID string) (bool, error) {
	return s.userCan(ctx, "read", userID, entityID, readRights, readPolicies)
}

func (s *Service) UserCanUpdateEntity(ctx context.Context, userID, entityID string) (bool, error) {
	return s.userCan(ctx, "update", userID, entityID, updateRights, updatePolicies)
}

func (s *Service) UserCanAdminEntity(ctx context.Context, userID, entityID string) (bool, error) {
	return s.userCan(ctx, "admin", userID, entityID, adminRights, nil)
}

// FilterReadableEntities returns the entities in entityIDs that the user may
// read, keeping their order
func (s *Service) FilterReadableEntities(ctx context.Context, userID string, entityIDs []string) (_ []string, err error) {
	if !s.enabled || len(entityIDs) == 0 {
		return entityIDs, nil
	}

	ctx, span := tracer.Start(ctx, "filter-readable", trace.WithAttributes(attribute.Int("entity-count", len(entityIDs))))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	admin, err := s.UserIsAdmin(ctx, userID)
	if err != nil || admin {
		return entityIDs, err
	}

	readable, err := s.readableSet(ctx, userID, entityIDs)
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(entityIDs))
	for _, id := range entityIDs {
		if readable[id] {
			result = append(result, id)
		}
	}

	return result, nil
}

// ReadableEntities lists every entity the user may read. Unrestricted is true
// when the user may read everything, in which case ids is nil.
func (s *Service) ReadableEntities(ctx context.Context, userID string) (ids []string, unrestricted bool, err error) {
	if !s.enabled {
		return nil, true, nil
	}

	admin, err := s.UserIsAdmin(ctx, userID)
	if err != nil || admin {
		return nil, admin, err
	}

	withRights, err := s.repo.GetEntitiesUserHasOneOfGivenRights(ctx, userID, readRights)
	if err != nil {
		return nil, false, err
	}

	withPolicy, err := s.repo.GetEntitiesWithSpecificAccessPolicy(ctx, readPolicies)
	if err != nil {
		return nil, false, err
	}

	ids = withRights
	for _, id := range withPolicy {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	return ids, false, nil
}

// CreateAdminLinks gives the user the admin right on newly created entities
func (s *Service) CreateAdminLinks(ctx context.Context, userID string, entityIDs []string) error {
	if !s.enabled || userID == "" || len(entityIDs) == 0 {
		return nil
	}

	links, err := s.repo.CreateAdminLinks(ctx, userID, entityIDs)
	if err != nil {
		return err
	}

	logging.GetFromContext(ctx).Debug("admin links created", "subject", userID, "links", len(links))

	return nil
}

func (s *Service) RemoveUserRightsOnEntity(ctx context.Context, subjectID, targetID string) (int, error) {
	if !s.enabled {
		return 0, nil
	}
	return s.repo.RemoveUserRightsOnEntity(ctx, subjectID, targetID)
}

func (s *Service) userHasOneOfRoles(ctx context.Context, userID string, roles ...string) (bool, error) {
	if !s.enabled {
		return true, nil
	}

	userRoles, err := s.repo.GetUserRoles(ctx, userID)
	if err != nil {
		return false, err
	}

	for _, role := range roles {
		if slices.Contains(userRoles, role) {
			return true, nil
		}
	}

	return false, nil
}

func (s *Service) userCan(ctx context.Context, action, userID, entityID string, rights, policies []string) (_ bool, err error) {
	if !s.enabled {
		return true, nil
	}

	ctx, span := tracer.Start(ctx, "user-can-"+action, trace.WithAttributes(attribute.String("entity-id", entityID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	admin, err := s.UserIsAdmin(ctx, userID)
	if err != nil || admin {
		return admin, err
	}

	ids, err := s.repo.FilterEntitiesUserHasOneOfGivenRights(ctx, userID, []string{entityID}, rights)
	if err != nil {
		return false, err
	}

	if len(ids) > 0 {
		return true, nil
	}

	if len(policies) == 0 {
		return false, nil
	}

	ids, err = s.repo.FilterEntitiesWithSpecificAccessPolicy(ctx, []string{entityID}, policies)
	if err != nil {
		return false, err
	}

	allowed := len(ids) > 0
	if !allowed {
		logging.GetFromContext(ctx).Debug("access denied", "action", action, "subject", userID, "entity_id", entityID)
	}

	return allowed, nil
}

func (s *Service) readableSet(ctx context.Context, userID string, entityIDs []string) (map[string]bool, error) {
	withRights, err := s.repo.FilterEntitiesUserHasOneOfGivenRights(ctx, userID, entityIDs, readRights)
	if err != nil {
		return nil, err
	}

	withPolicy, err := s.repo.FilterEntitiesWithSpecificAccessPolicy(ctx, entityIDs, readPolicies)
	if err != nil {
		return nil, err
	}

	readable := map[string]bool{}
	for _, id := range append(withRights, withPolicy...) {
		readable[id] = true
	}

	return readable, nil
}
