package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"servis/internal/domain"
	"servis/internal/errors"
)

// MQTTInvoker publishes commands/<service>/request and waits for the reply
// on commands/<service>/response/<requestId>. One subscription per call
// keeps concurrent invocations of the same service independent.
type MQTTInvoker struct {
	client mqtt.Client
}

// NewMQTTInvoker wraps an already-connected MQTT client.
func NewMQTTInvoker(client mqtt.Client) *MQTTInvoker {
	return &MQTTInvoker{client: client}
}

const mqttOpTimeout = time.Second

func (m *MQTTInvoker) Invoke(ctx context.Context, desc *domain.ServiceDescriptor, call *Call) (*Response, error) {
	if m.client == nil || !m.client.IsConnectionOpen() {
		return nil, errors.New(errors.KindTransportError, "mqtt broker unavailable")
	}

	payload, err := json.Marshal(wireRequest{
		RequestID:  call.RequestID,
		Intent:     string(call.Intent.Name),
		Parameters: call.Intent.WireParameters(),
		Context: wireContext{
			UserID:    call.UserID,
			SessionID: call.SessionID,
			Locale:    call.Locale,
		},
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "encode invocation")
	}

	replyTopic := fmt.Sprintf("commands/%s/response/%s", desc.Name, call.RequestID)
	replies := make(chan []byte, 1)
	sub := m.client.Subscribe(replyTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case replies <- msg.Payload():
		default:
		}
	})
	if !sub.WaitTimeout(mqttOpTimeout) || sub.Error() != nil {
		return nil, errors.Wrap(errors.KindTransportError, sub.Error(), "subscribe "+replyTopic)
	}
	defer m.client.Unsubscribe(replyTopic)

	requestTopic := fmt.Sprintf("commands/%s/request", desc.Name)
	pub := m.client.Publish(requestTopic, 1, false, payload)
	if !pub.WaitTimeout(mqttOpTimeout) || pub.Error() != nil {
		return nil, errors.Wrap(errors.KindTransportError, pub.Error(), "publish "+requestTopic)
	}

	select {
	case raw := <-replies:
		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, errors.Wrap(errors.KindServiceError, err, "decode reply from "+desc.Name)
		}
		return &resp, nil
	case <-ctx.Done():
		return nil, classifyTransportErr(ctx, ctx.Err(), desc.Name)
	}
}
