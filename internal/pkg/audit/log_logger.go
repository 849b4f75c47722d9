package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

// LogLogger writes entries to the application log as key=value text.
type LogLogger struct{}

func NewLogLogger() *LogLogger {
	return &LogLogger{}
}

func (l *LogLogger) Log(ctx context.Context, entry Entry) error {
	log.Infof("[Audit] %s", Format(entry))
	return nil
}

// Format renders an entry as a single key=value line with sorted field keys.
func Format(entry Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "action=%s entity=%s:%s", entry.Action, entry.EntityType, entry.EntityID)
	if entry.UserID != 0 {
		fmt.Fprintf(&b, " user_id=%d", entry.UserID)
	}
	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Fields[k])
	}
	return b.String()
}
