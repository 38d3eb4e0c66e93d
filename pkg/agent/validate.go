package agent

import (
	"fmt"
	"regexp"

	"github.com/wisbric/dispatch/internal/apierr"
)

var (
	namePattern    = regexp.MustCompile(`^[a-z0-9-]+$`)
	imagePattern   = regexp.MustCompile(`^[^/]+/[^:]+:[^:]+$`)
	cpuPattern     = regexp.MustCompile(`^\d+m?$`)
	memoryPattern  = regexp.MustCompile(`^\d+(Mi|Gi)$`)
	gpuPattern     = regexp.MustCompile(`^\d+$`)
	timeoutPattern = regexp.MustCompile(`^\d+(s|m|h)$`)
)

// ValidateRegisterRequest applies the §6 constraints shared by the public
// API and C8's registration orchestrator, beyond what struct tags alone
// (required/oneof/gte/lte) already enforce via httpserver.Validate.
func ValidateRegisterRequest(req RegisterRequest) error {
	if !namePattern.MatchString(req.Name) {
		return apierr.Validation(fmt.Sprintf("name %q must match ^[a-z0-9-]+$", req.Name))
	}
	if len(req.Name) > 100 {
		return apierr.Validation("name must be at most 100 characters")
	}
	if !imagePattern.MatchString(req.Image) {
		return apierr.Validation(fmt.Sprintf("image %q must match <host>/<name>:<tag>", req.Image))
	}
	if !cpuPattern.MatchString(req.Resources.CPU) {
		return apierr.Validation(fmt.Sprintf("resources.cpu %q must match ^\\d+m?$", req.Resources.CPU))
	}
	if !memoryPattern.MatchString(req.Resources.Memory) {
		return apierr.Validation(fmt.Sprintf("resources.memory %q must match ^\\d+(Mi|Gi)$", req.Resources.Memory))
	}
	if req.Resources.GPU != "" && !gpuPattern.MatchString(req.Resources.GPU) {
		return apierr.Validation(fmt.Sprintf("resources.gpu %q must match ^\\d+$", req.Resources.GPU))
	}
	if !timeoutPattern.MatchString(req.Resources.Timeout) {
		return apierr.Validation(fmt.Sprintf("resources.timeout %q must match ^\\d+(s|m|h)$", req.Resources.Timeout))
	}
	if req.RetryPolicy.MaxAttempts < 1 || req.RetryPolicy.MaxAttempts > 10 {
		return apierr.Validation("retryPolicy.maxAttempts must be in [1, 10]")
	}
	switch req.RetryPolicy.Backoff {
	case "exponential", "linear", "constant":
	default:
		return apierr.Validation(fmt.Sprintf("retryPolicy.backoff %q must be one of exponential|linear|constant", req.RetryPolicy.Backoff))
	}
	if req.WarmPoolSize < 0 || req.WarmPoolSize > 100 {
		return apierr.Validation("warmPoolSize must be in [0, 100]")
	}
	switch req.NetworkPolicy {
	case "restricted", "standard", "unrestricted":
	default:
		return apierr.Validation(fmt.Sprintf("networkPolicy %q must be one of restricted|standard|unrestricted", req.NetworkPolicy))
	}
	return nil
}
