package notify_libnotify

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/davarch/buildlight/internal/domain"
)

type Notifier struct {
	soft   bool
	expire time.Duration
	// command is swapped in tests
	command string
}

func New() *Notifier     { return &Notifier{soft: false, command: "notify-send"} }
func NewSoft() *Notifier { return &Notifier{soft: true, command: "notify-send"} }

// WithExpire sets how long a notification stays on screen.
func (n *Notifier) WithExpire(d time.Duration) *Notifier {
	n.expire = d
	return n
}

func (n *Notifier) Notify(ctx context.Context, msg domain.Notification) error {
	cmd := exec.CommandContext(ctx, n.command, args(msg, n.expire)...)
	if err := cmd.Run(); err != nil {
		if n.soft {
			return nil
		}
		return err
	}
	return nil
}

func args(msg domain.Notification, expire time.Duration) []string {
	body := msg.Body
	if strings.TrimSpace(msg.URL) != "" {
		if body == "" {
			body = msg.URL
		} else {
			body = body + "\n" + msg.URL
		}
	}

	out := []string{"--app-name=buildlight"}
	if msg.Urgency != "" {
		out = append(out, "--urgency="+msg.Urgency)
	}
	if expire > 0 {
		ms := strconv.Itoa(int(expire / time.Millisecond))
		out = append(out, "--expire-time="+ms)
	}
	return append(out, msg.Title, body)
}
