package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"warehouse-sync-service/internal/repository"
	"warehouse-sync-service/pkg/models"

	"gorm.io/datatypes"
)

// Resolution is the outcome of resolving one conflict. When RequiresManual
// is set no payload was chosen and an operator has to decide.
type Resolution struct {
	Payload        map[string]interface{}
	Strategy       models.ResolutionStrategy
	RequiresManual bool
	Reason         string
}

// tableMerger merges the payloads of a concurrent_update conflict for one
// specific table. local/remote carry the two sides; the timestamps order
// shared differing fields.
type tableMerger func(local, remote map[string]interface{}, localTs, remoteTs int64) map[string]interface{}

// ConflictResolver computes resolved payloads via a strategy registry:
// table name → merge capability, plus an operator-editable default
// strategy per table (seeded in table_policies). Adding an entity type
// means registering a merger, not editing a dispatch switch.
type ConflictResolver struct {
	mergers  map[string]tableMerger
	defaults map[string]models.ResolutionStrategy
	window   time.Duration
}

func NewConflictResolver(windowSeconds int) *ConflictResolver {
	r := &ConflictResolver{
		mergers:  make(map[string]tableMerger),
		defaults: make(map[string]models.ResolutionStrategy),
		window:   time.Duration(windowSeconds) * time.Second,
	}

	r.mergers[models.TableEquipment] = mergeEquipment
	r.mergers[models.TableLocations] = mergeGeneric
	r.mergers[models.TableShipments] = mergeShipments
	// categories and users intentionally have no merger: their policies are
	// last_wins and manual respectively; generic merge still applies if an
	// operator asks for it explicitly.

	return r
}

// LoadPolicies pulls the per-table default strategies from storage.
// Missing tables fall back to last_wins.
func (r *ConflictResolver) LoadPolicies(ctx context.Context, policies repository.PolicyRepository) error {
	rows, err := policies.List(ctx)
	if err != nil {
		return err
	}
	for _, p := range rows {
		r.defaults[p.Table] = p.DefaultStrategy
	}
	log.Printf("✅ [RESOLVER] Loaded %d table policies", len(rows))
	return nil
}

// DefaultStrategy returns the configured auto-resolution strategy for a
// table, defaulting to last_wins.
func (r *ConflictResolver) DefaultStrategy(table string) models.ResolutionStrategy {
	if s, ok := r.defaults[table]; ok {
		return s
	}
	return models.ResolutionLastWins
}

// SetPolicy updates the in-memory default after an admin policy edit.
func (r *ConflictResolver) SetPolicy(table string, strategy models.ResolutionStrategy) {
	r.defaults[table] = strategy
}

// Resolve computes the resolved payload for a conflict under the given
// strategy. manualData is consulted only for ResolutionManual. Ambiguity
// (equal timestamps, delete-involving merge) yields RequiresManual instead
// of a silently chosen side.
func (r *ConflictResolver) Resolve(c *models.Conflict, strategy models.ResolutionStrategy, manualData map[string]interface{}) (*Resolution, error) {
	local := decodePayload(c.LocalPayload)
	remote := decodePayload(c.RemotePayload)

	switch strategy {
	case models.ResolutionLastWins:
		if c.LocalTimestamp == c.RemoteTimestamp {
			return &Resolution{
				Strategy:       models.ResolutionLastWins,
				RequiresManual: true,
				Reason:         "equal origin timestamps",
			}, nil
		}
		if isDeleteInvolving(c.Kind) {
			return &Resolution{
				Strategy:       models.ResolutionLastWins,
				RequiresManual: true,
				Reason:         "conflict involves a delete",
			}, nil
		}
		payload := remote
		if c.LocalTimestamp > c.RemoteTimestamp {
			payload = local
		}
		return &Resolution{Payload: payload, Strategy: models.ResolutionLastWins}, nil

	case models.ResolutionLocalWins:
		return &Resolution{Payload: local, Strategy: models.ResolutionLocalWins}, nil

	case models.ResolutionRemoteWins:
		return &Resolution{Payload: remote, Strategy: models.ResolutionRemoteWins}, nil

	case models.ResolutionMerged:
		if isDeleteInvolving(c.Kind) {
			return &Resolution{
				Strategy:       models.ResolutionMerged,
				RequiresManual: true,
				Reason:         "merge is undefined when one side deleted the record",
			}, nil
		}
		merger, ok := r.mergers[c.Table]
		if !ok {
			merger = mergeGeneric
		}
		merged := merger(local, remote, c.LocalTimestamp, c.RemoteTimestamp)
		return &Resolution{Payload: merged, Strategy: models.ResolutionMerged}, nil

	case models.ResolutionManual:
		if manualData == nil {
			return nil, &ResolutionError{Reason: "manual resolution requires resolved_data"}
		}
		return &Resolution{Payload: manualData, Strategy: models.ResolutionManual}, nil

	default:
		return nil, &ValidationError{Field: "resolution", Reason: "unknown strategy " + string(strategy)}
	}
}

// Recommend produces the advisory suggestion for tooling and operators.
// It is never auto-applied.
func (r *ConflictResolver) Recommend(c *models.Conflict) models.Recommendation {
	if isDeleteInvolving(c.Kind) {
		return models.Recommendation{
			Strategy:   models.ResolutionManual,
			Confidence: 1.0,
			Reason:     "one side deleted the record; only an operator can decide",
		}
	}

	gap := c.LocalTimestamp - c.RemoteTimestamp
	if gap < 0 {
		gap = -gap
	}
	if time.Duration(gap)*time.Millisecond > r.window {
		return models.Recommendation{
			Strategy:   models.ResolutionLastWins,
			Confidence: 0.9,
			Reason:     "sides are far apart in time; the later write is almost certainly the intended state",
		}
	}

	local := decodePayload(c.LocalPayload)
	remote := decodePayload(c.RemotePayload)
	if len(local) > 0 {
		conflicting := 0
		for k, lv := range local {
			if rv, ok := remote[k]; ok && !jsonEqual(lv, rv) {
				conflicting++
			}
		}
		if conflicting*2 <= len(local) {
			return models.Recommendation{
				Strategy:   models.ResolutionMerged,
				Confidence: 0.8,
				Reason:     "half or fewer of the fields actually collide; a field-level merge loses nothing",
			}
		}
	}

	return models.Recommendation{
		Strategy:   models.ResolutionManual,
		Confidence: 0.6,
		Reason:     "the sides disagree on most fields",
	}
}

func isDeleteInvolving(kind models.ConflictKind) bool {
	return kind == models.ConflictDeleteUpdate || kind == models.ConflictUpdateDelete
}

// mergeGeneric is the per-field union: fields on one side only are kept;
// shared fields with differing values take the later-timestamp side.
func mergeGeneric(local, remote map[string]interface{}, localTs, remoteTs int64) map[string]interface{} {
	earlier, later := local, remote
	if localTs > remoteTs {
		earlier, later = remote, local
	}

	merged := make(map[string]interface{}, len(earlier)+len(later))
	for k, v := range earlier {
		merged[k] = v
	}
	for k, v := range later {
		merged[k] = v
	}
	return merged
}

// mergeEquipment: status and location follow the later timestamp (the
// generic rule); the specification object favors whichever side populated
// more keys, so a richer spec sheet is never clobbered by a sparse one.
func mergeEquipment(local, remote map[string]interface{}, localTs, remoteTs int64) map[string]interface{} {
	merged := mergeGeneric(local, remote, localTs, remoteTs)

	localSpec := asObject(local["specification"])
	remoteSpec := asObject(remote["specification"])
	if localSpec != nil || remoteSpec != nil {
		if len(localSpec) >= len(remoteSpec) {
			merged["specification"] = localSpec
		} else {
			merged["specification"] = remoteSpec
		}
	}
	return merged
}

// mergeShipments: status and delivered_at follow the later timestamp (the
// generic rule); equipment id lists are unioned, never overwritten.
func mergeShipments(local, remote map[string]interface{}, localTs, remoteTs int64) map[string]interface{} {
	merged := mergeGeneric(local, remote, localTs, remoteTs)

	localIDs := asStringList(local["equipment_ids"])
	remoteIDs := asStringList(remote["equipment_ids"])
	if localIDs != nil || remoteIDs != nil {
		merged["equipment_ids"] = unionStrings(localIDs, remoteIDs)
	}
	return merged
}

func decodePayload(raw datatypes.JSON) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func asObject(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func asStringList(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// unionStrings preserves first-seen order: all of a, then the members of b
// not already present.
func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func jsonEqual(a, b interface{}) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}
