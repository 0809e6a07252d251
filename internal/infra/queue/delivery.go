package queue

import "errors"

var ErrClosed = errors.New("broker closed")

// 受信メッセージ。処理成功後に Ack、失敗時は Nack
type Delivery struct {
	Body []byte

	ack  func() error
	nack func(requeue bool) error
}

func NewDelivery(body []byte, ack func() error, nack func(requeue bool) error) Delivery {
	return Delivery{Body: body, ack: ack, nack: nack}
}

func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

func retryQueue(queue string) string {
	return queue + ".retry"
}
