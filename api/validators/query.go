package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

// IntRange bounds an integer query parameter; Default applies when absent.
type IntRange struct {
	Default, Min, Max int
}

func QueryInt(r *http.Request, key string, bounds IntRange) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return bounds.Default, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "query parameter must be numeric").
			WithDetails(map[string]any{"field": key})
	}
	if value < bounds.Min || value > bounds.Max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter out of range").
			WithDetails(map[string]any{"field": key, "min": bounds.Min, "max": bounds.Max})
	}
	return value, nil
}
