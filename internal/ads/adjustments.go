package ads

import (
	"context"
	"encoding/json"
	"fmt"
)

type uploadAdjustmentsRequest struct {
	ConversionAdjustments []json.RawMessage `json:"conversionAdjustments"`
	PartialFailure        bool              `json:"partialFailure"`
	ValidateOnly          bool              `json:"validateOnly,omitempty"`
}

type uploadAdjustmentsResponse struct {
	PartialFailureError json.RawMessage   `json:"partialFailureError,omitempty"`
	Results             []json.RawMessage `json:"results"`
}

// UploadConversionAdjustments uploads one batch of ConversionAdjustment
// objects. Rejected rows come back as a *PartialFailureError.
func (c *Client) UploadConversionAdjustments(ctx context.Context, target Target, adjustments []json.RawMessage) error {
	const op = "uploadConversionAdjustments"

	var resp uploadAdjustmentsResponse
	path := fmt.Sprintf("customers/%s:uploadConversionAdjustments", target.CustomerID)
	req := uploadAdjustmentsRequest{
		ConversionAdjustments: adjustments,
		PartialFailure:        true,
	}
	if err := c.post(ctx, op, target, path, req, &resp); err != nil {
		return err
	}
	return partialFailure(op, resp.PartialFailureError)
}
