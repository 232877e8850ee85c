package gateway

import (
	"context"
	"strings"

	"ddx/pkg/api"
	apperrors "ddx/pkg/errors"
)

// ScriptedResults answers test orders from the results table of a case file.
// Test names match case-insensitively.
type ScriptedResults map[string]string

func (s ScriptedResults) Result(ctx context.Context, caseID string, test api.TestOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if raw, ok := s[test.Name]; ok {
		return raw, nil
	}
	for name, raw := range s {
		if strings.EqualFold(name, test.Name) {
			return raw, nil
		}
	}
	return "", apperrors.DataGap("no result recorded for %s in case %s", test.Name, caseID)
}
