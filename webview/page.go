package webview

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/wolfeidau/webshell/download"
)

// StartBlobRecovery implements download.Page.
func (v *View) StartBlobRecovery(ctx context.Context, requestID, blobURL string) error {
	if v.page == nil {
		return download.ErrMissingRuntimeHandle
	}
	res, err := v.eval(ctx, startRecoveryJS, requestID, blobURL)
	if err != nil {
		return err
	}
	if !res.Value.Bool() {
		v.logger.Debug("recovery started without injector", "request_id", requestID)
	}
	return nil
}

// BlobResult implements download.Page.
func (v *View) BlobResult(ctx context.Context, requestID string) (*download.BlobResult, error) {
	if v.page == nil {
		return nil, download.ErrMissingRuntimeHandle
	}
	res, err := v.eval(ctx, checkResultJS, requestID)
	if err != nil {
		return nil, err
	}
	if res.Value.Nil() {
		return nil, nil
	}
	var out download.BlobResult
	if err := json.Unmarshal([]byte(res.Value.Str()), &out); err != nil {
		return nil, fmt.Errorf("decoding blob result: %w", err)
	}
	return &out, nil
}

// ClearBlobResult implements download.Page.
func (v *View) ClearBlobResult(ctx context.Context, requestID string) error {
	if v.page == nil {
		return nil
	}
	_, err := v.eval(ctx, clearResultJS, requestID)
	return err
}

func (v *View) eval(ctx context.Context, js string, args ...interface{}) (*proto.RuntimeRemoteObject, error) {
	res, err := v.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      js,
		JSArgs:  args,
		ByValue: true,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate in page: %w", err)
	}
	return res, nil
}

var _ download.Page = (*View)(nil)
