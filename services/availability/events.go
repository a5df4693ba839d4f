package availability

import (
	"context"

	"slotkeeper/models"

	"go.uber.org/zap"
)

// changeSet collects the slots a unit of work created and removed so the
// matching events go out once it has committed.
type changeSet struct {
	created   []models.AvailabilitySlot
	deleted   map[string][]string
	providers []string
}

func newChangeSet() *changeSet {
	return &changeSet{deleted: make(map[string][]string)}
}

func (c *changeSet) create(slots ...models.AvailabilitySlot) {
	c.created = append(c.created, slots...)
}

func (c *changeSet) remove(providerID string, ids ...string) {
	if len(ids) == 0 {
		return
	}
	if _, ok := c.deleted[providerID]; !ok {
		c.providers = append(c.providers, providerID)
	}
	c.deleted[providerID] = append(c.deleted[providerID], ids...)
}

func slotPayload(slots []models.AvailabilitySlot, changes []string) models.EventPayload {
	p := models.EventPayload{SlotIDs: make([]string, len(slots)), Changes: changes}
	for i, slot := range slots {
		p.SlotIDs[i] = slot.ID
	}
	if len(slots) == 1 {
		p.Start, p.End = slots[0].StartTime, slots[0].EndTime
	}
	return p
}

// notifyErr logs a failed hook. The mutation has committed by the time hooks run.
func (s *DefaultAvailabilityService) notifyErr(hook, providerID string, err error) {
	if err == nil {
		return
	}
	s.logger().Warn("Notification hook failed",
		zap.String("hook", hook),
		zap.String("providerId", providerID),
		zap.Error(err))
}

// publish emits deleted events, then one created event per provider.
func (s *DefaultAvailabilityService) publish(ctx context.Context, c *changeSet) {
	if s.Hooks == nil {
		return
	}
	for _, providerID := range c.providers {
		ids := c.deleted[providerID]
		s.notifyErr("deleted", providerID, s.Hooks.NotifyDeleted(ctx, providerID, models.EventPayload{SlotIDs: ids}))
	}

	byProvider := make(map[string][]models.AvailabilitySlot)
	var order []string
	for _, slot := range c.created {
		if _, ok := byProvider[slot.ProviderID]; !ok {
			order = append(order, slot.ProviderID)
		}
		byProvider[slot.ProviderID] = append(byProvider[slot.ProviderID], slot)
	}
	for _, providerID := range order {
		s.notifyErr("created", providerID, s.Hooks.NotifyCreated(ctx, providerID, slotPayload(byProvider[providerID], nil)))
	}
}

func (s *DefaultAvailabilityService) publishUpdated(ctx context.Context, slot models.AvailabilitySlot, changes []string) {
	if s.Hooks == nil || len(changes) == 0 {
		return
	}
	p := slotPayload([]models.AvailabilitySlot{slot}, changes)
	s.notifyErr("updated", slot.ProviderID, s.Hooks.NotifyUpdated(ctx, slot.ProviderID, p))
}

// patchedFields names the fields a patch sets.
func patchedFields(patch models.SlotPatch) []string {
	var out []string
	if patch.StartTime != nil {
		out = append(out, "startTime")
	}
	if patch.EndTime != nil {
		out = append(out, "endTime")
	}
	if patch.Status != nil {
		out = append(out, "status")
	}
	if patch.CancellationReason != nil {
		out = append(out, "cancellationReason")
	}
	if patch.MaxBookings != nil {
		out = append(out, "maxBookings")
	}
	return out
}
