package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mnemo/internal/domain"
	"mnemo/internal/observability"
	"mnemo/internal/persistence"
)

// cardEligible lists the entity types that materialize as cards.
var cardEligible = map[domain.EntityType]bool{
	domain.TypeMemoryUnit:      true,
	domain.TypeConcept:         true,
	domain.TypeDerivedArtifact: true,
	domain.TypeProactivePrompt: true,
	domain.TypeCommunity:       true,
}

// CardWorker materializes one presentation card per eligible new entity.
type CardWorker struct {
	Cards persistence.CardStore

	Now   func() time.Time
	NewID func() string
}

func (w *CardWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}

func (w *CardWorker) newID() string {
	if w.NewID != nil {
		return w.NewID()
	}
	return uuid.NewString()
}

func (w *CardWorker) Handle(ctx context.Context, payload []byte) error {
	var ev domain.EntityEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode card event: %w", err)
	}
	if ev.UserID == "" {
		return fmt.Errorf("card event missing user id")
	}
	return w.Process(ctx, ev)
}

// Process creates cards for the batch. One unsupported or failing entity
// never fails the rest of the batch.
func (w *CardWorker) Process(ctx context.Context, ev domain.EntityEvent) error {
	log := observability.LoggerWithTrace(ctx).With().
		Str("user_id", ev.UserID).
		Str("source", ev.Source).
		Logger()

	created, skipped := 0, 0
	for _, ref := range ev.Entities {
		if !cardEligible[ref.Type] {
			skipped++
			continue
		}
		ok, err := w.createCardForEntity(ctx, ev.UserID, ref)
		if err != nil {
			log.Warn().Err(err).Str("entity_id", ref.ID).Msg("card creation failed")
			continue
		}
		if ok {
			created++
		} else {
			skipped++
		}
	}
	log.Info().Int("created", created).Int("skipped", skipped).Int("total", len(ev.Entities)).Msg("card batch processed")
	return nil
}

// createCardForEntity inserts one card; the store's unique index makes
// redelivery a no-op. Returns false when the card already existed.
func (w *CardWorker) createCardForEntity(ctx context.Context, userID string, ref domain.EntityRef) (bool, error) {
	card := domain.Card{
		CardID:           w.newID(),
		UserID:           userID,
		SourceEntityID:   ref.ID,
		SourceEntityType: ref.Type,
		CardType:         strings.ToLower(string(ref.Type)),
		DisplayData:      map[string]any{},
		CreatedAt:        w.now(),
	}
	return w.Cards.Insert(ctx, card)
}
