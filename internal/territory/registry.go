package territory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/thisyearnofear/runrealm-sub003/internal/run"
	"github.com/thisyearnofear/runrealm-sub003/internal/shared/geo"
	"github.com/thisyearnofear/runrealm-sub003/internal/store"
	"github.com/thisyearnofear/runrealm-sub003/internal/stream"

	"github.com/google/uuid"
)

var ErrNoClaimBackend = errors.New("claim backend not configured")

const (
	claimedKey = "territories:claimed"
	intentsKey = "territories:intents"
)

// ClaimBackend is the external wallet/contract boundary. IsGeohashClaimed
// errors are treated as "assume available"; ClaimTerritory returns a
// transaction id or fails.
type ClaimBackend interface {
	ChainID() int64
	IsGeohashClaimed(ctx context.Context, geohash string) (bool, error)
	ClaimTerritory(ctx context.Context, t Territory) (string, error)
}

// RegistryConfig carries the registry tunables.
type RegistryConfig struct {
	HomeChainID         int64
	ProximityThresholdM float64
	IntentTTL           time.Duration
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		HomeChainID:         480,
		ProximityThresholdM: 100,
		IntentTTL:           24 * time.Hour,
	}
}

// Registry is the single source of truth for claimed territories and
// territory intents. Only the registry writes territory and intent status.
type Registry struct {
	cfg     RegistryConfig
	deriver *Deriver
	backend ClaimBackend
	kv      store.Store
	hub     *stream.Hub
	now     func() time.Time

	mu            sync.Mutex
	claimed       map[string]*Territory // by geohash
	pending       map[string]*Territory // cross-chain claims awaiting confirmation
	intents       map[string]*Intent
	crossChainLog []CrossChainEntry
}

func NewRegistry(cfg RegistryConfig, deriver *Deriver, backend ClaimBackend, kv store.Store, hub *stream.Hub) *Registry {
	r := &Registry{
		cfg:     cfg,
		deriver: deriver,
		backend: backend,
		kv:      kv,
		hub:     hub,
		now:     time.Now,
		claimed: map[string]*Territory{},
		pending: map[string]*Territory{},
		intents: map[string]*Intent{},
	}
	r.restore()
	return r
}

// CreateIntent reserves a shape before it is run. Metadata comes from the
// deriver's metadata step over a synthetic zero-length session.
func (r *Registry) CreateIntent(ctx context.Context, userID string, bounds Bounds, plannedRoute []run.Point, estDistanceM float64, estDurationMs int64) Intent {
	meta := r.deriver.IntentMetadata(ctx, bounds)

	r.mu.Lock()
	defer r.mu.Unlock()

	nowMs := r.now().UnixMilli()
	intent := &Intent{
		ID:            uuid.NewString(),
		UserID:        userID,
		Bounds:        bounds,
		PlannedRoute:  append([]run.Point(nil), plannedRoute...),
		EstDistanceM:  estDistanceM,
		EstDurationMs: estDurationMs,
		Metadata:      meta,
		Status:        IntentActive,
		CreatedAtMs:   nowMs,
		ExpiresAtMs:   nowMs + r.cfg.IntentTTL.Milliseconds(),
	}
	r.intents[intent.ID] = intent
	r.saveIntents(ctx)
	return *intent
}

// ActiveIntents lazily expires overdue intents and returns the remaining
// active ones, earliest first.
func (r *Registry) ActiveIntents(ctx context.Context) []Intent {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := r.activeIntentsLocked(ctx)
	out := make([]Intent, 0, len(active))
	for _, intent := range active {
		out = append(out, *intent)
	}
	return out
}

// CancelIntent marks an intent cancelled. Returns false when the intent does
// not exist or is already settled; a second cancel is a no-op.
func (r *Registry) CancelIntent(ctx context.Context, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	intent, ok := r.intents[id]
	if !ok || intent.Status != IntentActive {
		return false
	}
	intent.Status = IntentCancelled
	r.saveIntents(ctx)
	return true
}

// FulfillIntent matches a completed session against active intents. The
// earliest-created intent whose bounds overlap the run's bounds wins; it is
// marked completed and a territory derived from the session is claimed with
// the intent linked.
func (r *Registry) FulfillIntent(ctx context.Context, userID string, session run.Session) (Territory, bool, error) {
	bounds := BoundsOf(session.Points)

	r.mu.Lock()
	var matched *Intent
	for _, intent := range r.activeIntentsLocked(ctx) {
		if bounds.Overlaps(intent.Bounds) {
			matched = intent
			break
		}
	}
	if matched != nil {
		matched.Status = IntentCompleted
		r.saveIntents(ctx)
	}
	r.mu.Unlock()

	if matched == nil {
		return Territory{}, false, nil
	}

	territory, err := r.RequestClaim(ctx, userID, session, r.cfg.HomeChainID, matched.ID)
	if err != nil {
		return Territory{}, true, err
	}
	return territory, true, nil
}

// RequestClaim derives a territory from the session and hands it to the
// claim backend. On failure the territory never enters the claimed set and
// the reason is surfaced unmodified. Claims from a non-home chain stay
// claimable pending asynchronous confirmation.
func (r *Registry) RequestClaim(ctx context.Context, userID string, session run.Session, chainID int64, intentID string) (Territory, error) {
	r.mu.Lock()
	claimedList := make([]Territory, 0, len(r.claimed))
	for _, t := range r.claimed {
		claimedList = append(claimedList, *t)
	}
	r.mu.Unlock()
	sort.Slice(claimedList, func(i, j int) bool { return claimedList[i].ClaimedAtMs < claimedList[j].ClaimedAtMs })

	candidate, err := r.deriver.Derive(ctx, session, claimedList)
	if err != nil {
		r.emitClaimFailed(userID, candidate, err)
		return Territory{}, err
	}
	candidate.Owner = userID
	candidate.ChainID = chainID
	candidate.IntentID = intentID

	if r.backend == nil {
		err := ErrNoClaimBackend
		r.emitClaimFailed(userID, candidate, err)
		return Territory{}, err
	}

	// Backend not ready counts as available. Weak guarantee, by policy.
	taken, err := r.backend.IsGeohashClaimed(ctx, candidate.Geohash)
	if err != nil {
		log.Printf("availability check for %s failed, assuming available: %v", candidate.Geohash, err)
	} else if taken {
		err := &AlreadyClaimedError{Geohash: candidate.Geohash}
		r.emitClaimFailed(userID, candidate, err)
		return Territory{}, err
	}

	if chainID != r.cfg.HomeChainID {
		return r.requestCrossChain(ctx, userID, candidate)
	}

	txID, err := r.backend.ClaimTerritory(ctx, candidate)
	if err != nil {
		r.emitClaimFailed(userID, candidate, err)
		return Territory{}, err
	}

	r.mu.Lock()
	candidate.Status = StatusClaimed
	candidate.ClaimedAtMs = r.now().UnixMilli()
	candidate.TxID = txID
	stored := candidate
	r.claimed[candidate.Geohash] = &stored
	r.saveClaimed(ctx)
	r.mu.Unlock()

	r.emit(userID, "territory_claimed", map[string]any{"territory": candidate, "tx_id": txID})
	return candidate, nil
}

func (r *Registry) requestCrossChain(ctx context.Context, userID string, candidate Territory) (Territory, error) {
	r.mu.Lock()
	candidate.IsCrossChain = true
	candidate.Status = StatusClaimable
	stored := candidate
	r.pending[candidate.Geohash] = &stored
	r.crossChainLog = append(r.crossChainLog, CrossChainEntry{
		Geohash:     candidate.Geohash,
		ChainID:     candidate.ChainID,
		Event:       "claim_requested",
		TimestampMs: r.now().UnixMilli(),
	})
	r.mu.Unlock()

	r.emit(userID, "territory_claim_requested", map[string]any{"territory": candidate})
	return candidate, nil
}

// ConfirmCrossChain settles a pending cross-chain claim identified by
// geohash. Unknown geohashes are ignored.
func (r *Registry) ConfirmCrossChain(ctx context.Context, geohash, txID string) bool {
	r.mu.Lock()
	pending, ok := r.pending[geohash]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.pending, geohash)
	pending.Status = StatusClaimed
	pending.ClaimedAtMs = r.now().UnixMilli()
	pending.TxID = txID
	r.claimed[geohash] = pending
	r.crossChainLog = append(r.crossChainLog, CrossChainEntry{
		Geohash:     geohash,
		ChainID:     pending.ChainID,
		Event:       "claim_confirmed",
		TimestampMs: r.now().UnixMilli(),
	})
	r.saveClaimed(ctx)
	confirmed := *pending
	r.mu.Unlock()

	r.emit(confirmed.Owner, "territory_claimed", map[string]any{"territory": confirmed, "tx_id": txID})
	return true
}

// FailCrossChain reverts a pending cross-chain claim to claimable.
func (r *Registry) FailCrossChain(_ context.Context, geohash, reason string) bool {
	r.mu.Lock()
	pending, ok := r.pending[geohash]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.pending, geohash)
	pending.Status = StatusClaimable
	r.crossChainLog = append(r.crossChainLog, CrossChainEntry{
		Geohash:     geohash,
		ChainID:     pending.ChainID,
		Event:       "claim_failed",
		TimestampMs: r.now().UnixMilli(),
	})
	failed := *pending
	r.mu.Unlock()

	r.emit(failed.Owner, "territory_claim_failed", map[string]any{"territory": failed, "error": reason})
	return true
}

// Claimed lists claimed territories, oldest claim first.
func (r *Registry) Claimed() []Territory {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Territory, 0, len(r.claimed))
	for _, t := range r.claimed {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimedAtMs < out[j].ClaimedAtMs })
	return out
}

// CrossChainLog returns a copy of the cross-chain history.
func (r *Registry) CrossChainLog() []CrossChainEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CrossChainEntry(nil), r.crossChainLog...)
}

// UpdateProximity returns every claimed territory within the proximity
// threshold of the current location, closest first, with distance and
// compass direction to its center. Recomputed on every call.
func (r *Registry) UpdateProximity(userID string, lat, lng float64) []Proximity {
	r.mu.Lock()
	nearby := make([]Proximity, 0)
	for _, t := range r.claimed {
		d := geo.DistanceMeters(lat, lng, t.Bounds.CenterLat, t.Bounds.CenterLng)
		if d > r.cfg.ProximityThresholdM {
			continue
		}
		nearby = append(nearby, Proximity{
			TerritoryID: t.ID,
			Geohash:     t.Geohash,
			Name:        t.Metadata.Name,
			DistanceM:   d,
			Direction:   geo.Compass(geo.Bearing(lat, lng, t.Bounds.CenterLat, t.Bounds.CenterLng)),
		})
	}
	r.mu.Unlock()

	sort.Slice(nearby, func(i, j int) bool { return nearby[i].DistanceM < nearby[j].DistanceM })
	r.emit(userID, "territory_nearby_updated", map[string]any{"territories": nearby})
	return nearby
}

// activeIntentsLocked expires overdue intents in place and returns the
// active remainder sorted by creation time. Caller holds the lock.
func (r *Registry) activeIntentsLocked(ctx context.Context) []*Intent {
	nowMs := r.now().UnixMilli()
	expiredAny := false
	active := make([]*Intent, 0, len(r.intents))
	for _, intent := range r.intents {
		if intent.Status != IntentActive {
			continue
		}
		if nowMs >= intent.ExpiresAtMs {
			intent.Status = IntentExpired
			expiredAny = true
			continue
		}
		active = append(active, intent)
	}
	if expiredAny {
		r.saveIntents(ctx)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAtMs < active[j].CreatedAtMs })
	return active
}

// emitClaimFailed reports a failed claim. Derive failures carry no candidate
// (Derive returns a zero Territory), so the territory field is only attached
// once one exists.
func (r *Registry) emitClaimFailed(userID string, candidate Territory, err error) {
	payload := map[string]any{"error": err.Error()}
	if candidate.ID != "" {
		payload["territory"] = candidate
	}
	r.emit(userID, "territory_claim_failed", payload)
}

func (r *Registry) emit(channel, event string, payload map[string]any) {
	if r.hub == nil {
		return
	}
	msg, err := json.Marshal(map[string]any{"event": event, "data": payload})
	if err != nil {
		return
	}
	r.hub.Broadcast(channel, msg)
}

// saveClaimed and saveIntents snapshot registry state to the key-value
// store. Failures are logged and skipped. Callers hold the lock.
func (r *Registry) saveClaimed(ctx context.Context) {
	if r.kv == nil {
		return
	}
	list := make([]Territory, 0, len(r.claimed))
	for _, t := range r.claimed {
		list = append(list, *t)
	}
	payload, err := json.Marshal(list)
	if err != nil {
		return
	}
	if err := r.kv.Set(ctx, claimedKey, string(payload)); err != nil {
		log.Printf("save claimed territories: %v", err)
	}
}

func (r *Registry) saveIntents(ctx context.Context) {
	if r.kv == nil {
		return
	}
	snapshot := make(map[string]Intent, len(r.intents))
	for id, intent := range r.intents {
		snapshot[id] = *intent
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	if err := r.kv.Set(ctx, intentsKey, string(payload)); err != nil {
		log.Printf("save intents: %v", err)
	}
}

// restore loads persisted territories and intents. Corrupt or missing data
// degrades to empty state.
func (r *Registry) restore() {
	if r.kv == nil {
		return
	}
	ctx := context.Background()

	if raw, ok := r.kv.Get(ctx, claimedKey); ok {
		var list []Territory
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			log.Printf("claimed territories unreadable, starting empty: %v", err)
		} else {
			for i := range list {
				t := list[i]
				r.claimed[t.Geohash] = &t
			}
		}
	}

	if raw, ok := r.kv.Get(ctx, intentsKey); ok {
		var snapshot map[string]Intent
		if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
			log.Printf("intents unreadable, starting empty: %v", err)
		} else {
			for id := range snapshot {
				intent := snapshot[id]
				r.intents[id] = &intent
			}
		}
	}
}

// FulfillmentMessage explains a failed fulfilment for the UI.
func FulfillmentMessage(err error) string {
	var overlap *OverlapError
	var alreadyClaimed *AlreadyClaimedError
	switch {
	case errors.As(err, &overlap):
		return overlap.Error()
	case errors.As(err, &alreadyClaimed):
		return alreadyClaimed.Error()
	case errors.Is(err, ErrInvalidRunData):
		return "run does not contain enough data to derive a territory"
	default:
		return fmt.Sprintf("claim failed: %v", err)
	}
}
