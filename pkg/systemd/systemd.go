// Package systemd reports service state to the systemd manager when the
// process runs as a Type=notify unit. Outside systemd every call is a no-op.
package systemd

import (
	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready signals that startup finished. It reports whether the notification
// was delivered (false when NOTIFY_SOCKET is unset).
func Ready() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyReady)
}

// Stopping signals that shutdown began.
func Stopping() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// Reloading brackets a configuration reload. Call Ready again once it is applied.
func Reloading() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyReloading)
}

// Status publishes a free-form status line (shown by systemctl status).
func Status(msg string) (bool, error) {
	return daemon.SdNotify(false, "STATUS="+msg)
}
