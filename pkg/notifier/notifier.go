// Package notifier provides desktop notifications for provisioning runs
package notifier

import (
	"fmt"
	"runtime"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/stagehand/stagehand/pkg/logger"
)

// RunNotifier delivers desktop notifications for provisioning runs
type RunNotifier struct {
	enabled      bool
	successSound string
	failureSound string
	logger       logger.Logger
}

// Config represents notification configuration
type Config struct {
	Enabled      bool
	SuccessSound string
	FailureSound string
}

// New creates a new run notifier
func New(config Config, log logger.Logger) *RunNotifier {
	return &RunNotifier{
		enabled:      config.Enabled,
		successSound: config.SuccessSound,
		failureSound: config.FailureSound,
		logger:       log,
	}
}

// NotifyRunStart notifies that a provisioning run has started
func (n *RunNotifier) NotifyRunStart(name string) {
	if !n.enabled {
		return
	}

	title := "🎭 Stagehand"
	message := fmt.Sprintf("Provisioning %s...", name)

	n.sendNotification(title, message, "")
}

// NotifyRunSuccess notifies that a provisioning run finished
func (n *RunNotifier) NotifyRunSuccess(name string, duration time.Duration) {
	if !n.enabled {
		return
	}

	title := "✅ Workspace Ready"
	message := fmt.Sprintf("%s finished in %s", name, formatDuration(duration))

	n.sendNotification(title, message, n.successSound)
}

// NotifyRunFailure notifies that a provisioning run failed
func (n *RunNotifier) NotifyRunFailure(name string, err error) {
	if !n.enabled {
		return
	}

	title := "❌ Provisioning Failed"
	message := fmt.Sprintf("%s: %v", name, err)

	n.sendNotification(title, message, n.failureSound)
}

// Private methods

func (n *RunNotifier) sendNotification(title, message, soundName string) {
	// Platform-specific notification
	switch runtime.GOOS {
	case "darwin":
		n.sendMacNotification(title, message, soundName)
	case "linux":
		n.sendLinuxNotification(title, message)
	case "windows":
		n.sendWindowsNotification(title, message)
	default:
		// Fallback to console
		if n.logger != nil {
			n.logger.Info(fmt.Sprintf("%s: %s", title, message))
		}
	}
}

func (n *RunNotifier) sendMacNotification(title, message, soundName string) {
	if err := beeep.Notify(title, message, ""); err != nil {
		n.debug("Failed to send notification", err)
	}

	// Play sound if specified
	if soundName != "" {
		if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
			n.debug("Failed to play sound", err)
		}
	}
}

func (n *RunNotifier) sendLinuxNotification(title, message string) {
	// Uses notify-send under the hood
	if err := beeep.Notify(title, message, ""); err != nil {
		n.debug("Failed to send notification", err)
	}
}

func (n *RunNotifier) sendWindowsNotification(title, message string) {
	if err := beeep.Notify(title, message, ""); err != nil {
		n.debug("Failed to send notification", err)
	}
}

func (n *RunNotifier) debug(message string, err error) {
	if n.logger != nil {
		n.logger.Debug(message, logger.WithField("error", err))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
