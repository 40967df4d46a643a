package ifacetier

import (
	"strings"

	"github.com/aios-systems/aios/core"
	"github.com/aios-systems/aios/envelope"
)

// validateRequest implements §4.1's validation rules: reject when both
// content and context are empty, when timeout is negative, or when
// max_retries is negative.
func validateRequest(req *envelope.Request) error {
	if strings.TrimSpace(req.Content) == "" && len(req.Context) == 0 {
		return core.NewCoreError(core.LayerInterface, core.KindValidation, "empty_request",
			"request must carry content or context", false, core.ErrValidation)
	}
	if req.Timeout < 0 {
		return core.NewCoreError(core.LayerInterface, core.KindValidation, "negative_timeout",
			"timeout must not be negative", false, core.ErrValidation)
	}
	if req.MaxRetries < 0 {
		return core.NewCoreError(core.LayerInterface, core.KindValidation, "negative_max_retries",
			"max_retries must not be negative", false, core.ErrValidation)
	}
	return nil
}
