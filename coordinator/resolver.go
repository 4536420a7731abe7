package coordinator

import (
	"context"
	"fmt"
)

// relationship is one pending foreign-key style link. Exactly one of
// target (direct reference) or the external-identifier triple is set.
type relationship struct {
	owner      Record
	ownerField string

	target Record

	targetType      string
	externalIDField string
	externalIDValue any

	resolved bool
}

func (rel *relationship) describeTarget() string {
	if rel.target != nil {
		return fmt.Sprintf("record of type %q", rel.target.EntityType())
	}
	return fmt.Sprintf("%s=%v on type %q", rel.externalIDField, rel.externalIDValue, rel.targetType)
}

// resolver tracks pending links and rewrites the owner's link field
// once the target's real identity is known. Direct links resolve
// interleaved with batch execution; external-identifier links resolve
// through one batched lookup per (type, field) pair per commit.
type resolver struct {
	pending []*relationship
}

func newResolver() *resolver {
	return &resolver{}
}

func (rv *resolver) link(owner Record, ownerField string, target Record) error {
	if owner == nil || target == nil {
		return newConfigurationError("link requires non-nil owner and target records")
	}
	if ownerField == "" {
		return newConfigurationError("link requires an owner link field")
	}
	rv.pending = append(rv.pending, &relationship{
		owner:      owner,
		ownerField: ownerField,
		target:     target,
	})
	return nil
}

func (rv *resolver) linkByExternalID(owner Record, ownerField, targetType, externalIDField string, externalIDValue any) error {
	if owner == nil {
		return newConfigurationError("link requires a non-nil owner record")
	}
	if ownerField == "" || targetType == "" || externalIDField == "" {
		return newConfigurationError("external-id link requires owner field, target type and external id field")
	}
	if externalIDValue == nil {
		return newConfigurationError("external-id link requires a non-nil external id value")
	}
	rv.pending = append(rv.pending, &relationship{
		owner:           owner,
		ownerField:      ownerField,
		targetType:      targetType,
		externalIDField: externalIDField,
		externalIDValue: externalIDValue,
	})
	return nil
}

type lookupPair struct {
	entityType string
	field      string
}

// resolveExternal resolves every external-identifier link with one
// batched lookup per distinct (target type, external id field) pair.
// A value with no match fails the whole resolution phase; there is no
// best-effort mode.
func (rv *resolver) resolveExternal(ctx context.Context, lookup LookupService) error {
	groups := make(map[lookupPair][]*relationship)
	var order []lookupPair
	for _, rel := range rv.pending {
		if rel.resolved || rel.target != nil {
			continue
		}
		key := lookupPair{entityType: rel.targetType, field: rel.externalIDField}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rel)
	}
	if len(order) == 0 {
		return nil
	}
	if lookup == nil {
		return newConfigurationError("external-id links are staged but no lookup service is configured")
	}

	for _, key := range order {
		rels := groups[key]
		values := make([]any, 0, len(rels))
		seen := make(map[any]struct{}, len(rels))
		for _, rel := range rels {
			if _, dup := seen[rel.externalIDValue]; dup {
				continue
			}
			seen[rel.externalIDValue] = struct{}{}
			values = append(values, rel.externalIDValue)
		}

		found, err := lookup.FindByExternalID(ctx, key.entityType, key.field, values)
		if err != nil {
			return &RelationshipError{
				TargetType:      key.entityType,
				ExternalIDField: key.field,
				Message: fmt.Sprintf("external-id lookup on %s.%s failed: %v",
					key.entityType, key.field, err),
			}
		}
		for _, rel := range rels {
			id, ok := found[rel.externalIDValue]
			if !ok || id == "" {
				return &RelationshipError{
					OwnerType:       rel.owner.EntityType(),
					OwnerField:      rel.ownerField,
					TargetType:      key.entityType,
					ExternalIDField: key.field,
					ExternalIDValue: rel.externalIDValue,
					Message: fmt.Sprintf("no %s record with %s=%v",
						key.entityType, key.field, rel.externalIDValue),
				}
			}
			rel.owner.SetField(rel.ownerField, id)
			rel.resolved = true
		}
	}
	return nil
}

// resolveAssigned rewrites direct links whose target already carries an
// identity, regardless of type. Covers targets that existed before the
// commit started.
func (rv *resolver) resolveAssigned() {
	for _, rel := range rv.pending {
		if rel.resolved || rel.target == nil {
			continue
		}
		if id := rel.target.ID(); id != "" {
			rel.owner.SetField(rel.ownerField, id)
			rel.resolved = true
		}
	}
}

// resolveTargets rewrites direct links targeting the given entity type,
// invoked after that type's insert batch has assigned identities.
func (rv *resolver) resolveTargets(entityType string) {
	for _, rel := range rv.pending {
		if rel.resolved || rel.target == nil || rel.target.EntityType() != entityType {
			continue
		}
		if id := rel.target.ID(); id != "" {
			rel.owner.SetField(rel.ownerField, id)
			rel.resolved = true
		}
	}
}

// unresolvedOwnedBy returns the first pending link owned by one of the
// given records, or nil. A non-nil result means the owner's batch must
// not execute.
func (rv *resolver) unresolvedOwnedBy(owners map[Record]struct{}) *relationship {
	for _, rel := range rv.pending {
		if rel.resolved {
			continue
		}
		if _, ok := owners[rel.owner]; ok {
			return rel
		}
	}
	return nil
}
