package aws

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	"github.com/castai/volume-autoscaler/pkg/cloudprovider/types"
)

// mapError translates EC2 API failures into the provider error taxonomy so
// callers can branch on errors.Is without importing the SDK.
func mapError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case "RequestLimitExceeded", "Throttling", "ThrottlingException":
		return fmt.Errorf("%w: %s", types.ErrThrottled, apiErr.ErrorMessage())
	case "UnauthorizedOperation", "AuthFailure", "ExpiredToken":
		return fmt.Errorf("%w: %s", types.ErrUnauthorized, apiErr.ErrorMessage())
	case "InvalidVolume.NotFound":
		return fmt.Errorf("%w: %s", types.ErrVolumeNotFound, apiErr.ErrorMessage())
	default:
		return err
	}
}

func isAPIErrorCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
