package logging

import "fmt"

// LogrotateConfig returns a logrotate snippet for the file logs written by
// NewFileLogger for component
func LogrotateConfig(component string) string {
	return fmt.Sprintf(`# Logrotate configuration for wflatency %s
# Install: sudo cp this file to /etc/logrotate.d/wflatency-%s

/var/log/wflatency/%s/*.log {
    daily
    rotate 14
    compress
    delaycompress
    missingok
    notifempty

    # the probe keeps its log file open; truncate in place
    copytruncate
}
`, component, component, component)
}
