package event

import "percolator_keeper/internal/domain"

// Topics emitted by the keeper core. Downstream dashboards subscribe by
// topic; the keeper never reads anything back.
const (
	TopicCrankSuccess = "crank.success"
	TopicCrankFailure = "crank.failure"
	TopicPriceUpdated = "price.updated"
)

// Event is anything publishable to the sink.
type Event interface {
	Topic() string
	Market() domain.Address
}

// CrankSuccessEvent fires once per successful crank submission.
type CrankSuccessEvent struct {
	MarketID  domain.Address `json:"market"`
	Signature string         `json:"signature"`
	UnixMs    int64          `json:"ts"`
}

func (e *CrankSuccessEvent) Topic() string          { return TopicCrankSuccess }
func (e *CrankSuccessEvent) Market() domain.Address { return e.MarketID }

// CrankFailureEvent fires once per failed crank attempt.
type CrankFailureEvent struct {
	MarketID domain.Address `json:"market"`
	Error    string         `json:"error"`
	UnixMs   int64          `json:"ts"`
}

func (e *CrankFailureEvent) Topic() string          { return TopicCrankFailure }
func (e *CrankFailureEvent) Market() domain.Address { return e.MarketID }

// PriceUpdatedEvent fires once per successful on-chain price push.
type PriceUpdatedEvent struct {
	MarketID domain.Address `json:"market"`
	PriceE6  int64          `json:"price_e6"`
	Source   string         `json:"source"`
	UnixMs   int64          `json:"ts"`
}

func (e *PriceUpdatedEvent) Topic() string          { return TopicPriceUpdated }
func (e *PriceUpdatedEvent) Market() domain.Address { return e.MarketID }
