package server

import (
	"context"
	"fmt"
	"log"

	"github.com/nedpals/davi-device-agent/actions"
	"github.com/nedpals/davi-device-agent/status"
)

// FeatureHandler maps the button requests onto actions.Features.
type FeatureHandler struct {
	features *actions.Features
	feed     *status.Feed
}

// NewFeatureHandler creates the handler. feed may be nil, in which case
// clearStatus is not offered.
func NewFeatureHandler(features *actions.Features, feed *status.Feed) *FeatureHandler {
	return &FeatureHandler{features: features, feed: feed}
}

// Register implements ServerHandler.
func (h *FeatureHandler) Register(s HandlerServer) {
	routes := map[string]HandlerFunc{
		RequestReadTag:        h.start(actions.FeatureNFC),
		RequestReadATR:        h.start(actions.FeatureSmartCard),
		RequestStartWatcher:   h.start(actions.FeatureWatcher),
		RequestStartPublisher: h.start(actions.FeaturePublisher),
		RequestStop:           h.handleStop,
	}
	if h.feed != nil {
		routes[RequestClearStatus] = h.handleClear
	}
	for messageType, fn := range routes {
		if err := s.Handle(messageType, fn); err != nil {
			log.Printf("Register %s handler: %v", messageType, err)
		}
	}
}

func (h *FeatureHandler) start(feature string) HandlerFunc {
	return func(ctx context.Context, client *Client, req Request) error {
		err := h.features.Start(ctx, feature)
		client.Send(h.featureResponse(req, feature, err))
		return err
	}
}

func (h *FeatureHandler) handleStop(ctx context.Context, client *Client, req Request) error {
	feature, ok := req.StringField("feature")
	if !ok || feature == "" {
		client.Send(errorResponse(req.ID, ErrCodeBadRequest, "payload.feature is required"))
		return fmt.Errorf("stop request without feature")
	}
	err := h.features.Stop(feature)
	if err != nil {
		client.Send(errorResponse(req.ID, ErrCodeBadRequest, err.Error()))
		return err
	}
	client.Send(h.featureResponse(req, feature, nil))
	return nil
}

func (h *FeatureHandler) handleClear(ctx context.Context, client *Client, req Request) error {
	h.feed.Clear()
	client.Send(Response{ID: req.ID, Type: req.Type + "Response", Success: true})
	return nil
}

func (h *FeatureHandler) featureResponse(req Request, feature string, err error) Response {
	resp := Response{
		ID:      req.ID,
		Type:    req.Type + "Response",
		Success: err == nil,
		Payload: map[string]any{
			"feature": feature,
			"running": h.features.Running()[feature],
		},
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}
