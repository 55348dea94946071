package audithook

// Audit actions written by the extension.
const (
	ActionRunTriggered    = "REPORT_RUN_TRIGGERED"
	ActionRunStarted      = "REPORT_RUN_STARTED"
	ActionRunSuccess      = "REPORT_RUN_SUCCESS"
	ActionRunFailed       = "REPORT_RUN_FAILED"
	ActionRunDeleted      = "REPORT_RUN_DELETED"
	ActionRunRetried      = "REPORT_RUN_RETRIED"
	ActionRunDeadLettered = "REPORT_RUN_DEAD_LETTERED"
	ActionScheduleCreated = "REPORT_SCHEDULE_CREATED"
	ActionScheduleUpdated = "REPORT_SCHEDULE_UPDATED"
	ActionScheduleDeleted = "REPORT_SCHEDULE_DELETED"
	ActionScheduleFired   = "REPORT_SCHEDULE_TRIGGERED"
	ActionTemplateCreated = "REPORT_TEMPLATE_CREATED"
	ActionTemplateUpdated = "REPORT_TEMPLATE_UPDATED"
	ActionTemplateDeleted = "REPORT_TEMPLATE_DELETED"
)

// AllActions returns every action this extension can write.
func AllActions() []string {
	return []string{
		ActionRunTriggered,
		ActionRunStarted,
		ActionRunSuccess,
		ActionRunFailed,
		ActionRunDeleted,
		ActionRunRetried,
		ActionRunDeadLettered,
		ActionScheduleCreated,
		ActionScheduleUpdated,
		ActionScheduleDeleted,
		ActionScheduleFired,
		ActionTemplateCreated,
		ActionTemplateUpdated,
		ActionTemplateDeleted,
	}
}
