package events

// Topic constants for domain events emitted by the pre-sale service.
const (
	TopicItemCreated       = "presale_item.created"
	TopicItemUpdated       = "presale_item.updated"
	TopicItemCancelled     = "presale_item.cancelled"
	TopicUnitsAssigned     = "presale_item.units_assigned"
	TopicUnitsUnassigned   = "presale_item.units_unassigned"
	TopicPlanCreated       = "payment_plan.created"
	TopicPaymentRecorded   = "payment_plan.payment_recorded"
	TopicPlanCompleted     = "payment_plan.completed"
	TopicPlanStatusChanged = "payment_plan.status_changed"
	TopicPlanOverdue       = "payment_plan.overdue"
	TopicPlanDeleted       = "payment_plan.deleted"
	TopicEarlyBonusApplied = "payment_plan.early_bonus_applied"
)

// DefaultTopics returns every topic the service can publish.
func DefaultTopics() []string {
	return []string{
		TopicItemCreated,
		TopicItemUpdated,
		TopicItemCancelled,
		TopicUnitsAssigned,
		TopicUnitsUnassigned,
		TopicPlanCreated,
		TopicPaymentRecorded,
		TopicPlanCompleted,
		TopicPlanStatusChanged,
		TopicPlanOverdue,
		TopicPlanDeleted,
		TopicEarlyBonusApplied,
	}
}
