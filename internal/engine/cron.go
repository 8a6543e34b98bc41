package engine

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// ParseCron validates a 5-field cron expression or an @-macro. Used to
// reject a bad status schedule at configuration time instead of at the
// first tick.
func ParseCron(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return fmt.Errorf("empty cron expression")
	}

	if strings.HasPrefix(e, "@") {
		_, err := cron.ParseStandard(e)
		return err
	}

	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser5.Parse(e)
	return err
}
