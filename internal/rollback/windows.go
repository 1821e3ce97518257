package rollback

import "time"

// DefaultWindow is how long after execution an action remains rollback-able.
const DefaultWindow = 24 * time.Hour

// windows narrows the rollback window for destructive action types: the
// longer a destructive change has been live, the less safe unwinding it is.
var windows = map[string]time.Duration{
	"delete_data":    1 * time.Hour,
	"migrate_schema": 6 * time.Hour,
	"deploy_prod":    12 * time.Hour,
	"manage_access":  12 * time.Hour,
}

// WindowFor returns the rollback window for an action type.
func WindowFor(actionType string) time.Duration {
	if w, ok := windows[actionType]; ok {
		return w
	}
	return DefaultWindow
}
