package cleaner

import (
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/glance/models"
)

// CompileSelector validates a CSS selector group up front so a typo in
// configuration fails loudly instead of silently matching nothing.
func CompileSelector(selector string) (cascadia.Selector, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeInvalidInput, "invalid CSS selector "+selector, err)
	}
	return sel, nil
}
