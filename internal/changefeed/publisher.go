package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type Publisher struct {
	transport Transport
}

func NewPublisher(t Transport) *Publisher {
	return &Publisher{transport: t}
}

// PublishEvent 投递到整表频道和每个过滤列频道；部分失败时返回合并错误
func (p *Publisher) PublishEvent(ctx context.Context, ev Event) error {
	if ev.Table == "" {
		return fmt.Errorf("changefeed: event table required")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	var errs []error
	for _, ch := range ev.Channels() {
		if err := p.transport.Publish(ctx, ch, payload); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", ch, err))
		}
	}
	return errors.Join(errs...)
}
