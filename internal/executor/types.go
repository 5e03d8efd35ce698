// Package executor calls upstream models through the model / channel / key
// fallback state machine.
package executor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"chatline/internal/channel"
	"chatline/internal/provider"
)

var (
	// ErrNoCandidates is returned when a call names no model.
	ErrNoCandidates = errors.New("executor: no candidate models")

	// ErrNoChannel is returned when no enabled channel serves a model.
	ErrNoChannel = errors.New("executor: no channel for model")

	// ErrEmptyResponse marks a response without text, images or tool calls.
	ErrEmptyResponse = errors.New("executor: empty response")
)

// Registry is the channel registry surface the executor uses.
// *channel.Registry implements it.
type Registry interface {
	BestChannel(model string) (channel.Channel, bool)
	AlternateChannels(model, excludeID string) []channel.Channel
	Key(channelID string) (channel.KeySelection, bool)
	NextKey(channelID string, afterIndex int) (channel.KeySelection, bool)
	ReportError(channelID string, report channel.ErrorReport)
	ReportSuccess(channelID string)
	ReportUsage(channelID string, tokens int)
	StartRequest(channelID string)
	EndRequest(channelID string)
}

// Options tunes retries and delays.
type Options struct {
	MaxRetries   int
	EmptyRetries int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	EmptyDelay   time.Duration
}

// DefaultOptions returns the default retry policy.
func DefaultOptions() Options {
	return Options{
		MaxRetries:   3,
		EmptyRetries: 2,
		BaseDelay:    time.Second,
		MaxDelay:     10 * time.Second,
		EmptyDelay:   500 * time.Millisecond,
	}
}

// Backoff returns min(BaseDelay * 2^(retry-1), MaxDelay). MaxDelay <= 0
// leaves the delay uncapped.
func (o Options) Backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := o.BaseDelay
	for i := 1; i < retry && d <= math.MaxInt64/2; i++ {
		d *= 2
		if o.MaxDelay > 0 && d >= o.MaxDelay {
			return o.MaxDelay
		}
	}
	if o.MaxDelay > 0 && d > o.MaxDelay {
		return o.MaxDelay
	}
	return d
}

// Call is one logical model request.
type Call struct {
	// Models lists the primary model first, then fallbacks.
	Models   []string
	Request  provider.Request
	Scenario string

	ConversationID string
	UserID         string
	GroupID        string
}

// Outcome is the state an attempt ended in.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeEmpty   Outcome = "empty"
	OutcomeError   Outcome = "error"
)

// Attempt records one request sent to a model on a channel with a key.
type Attempt struct {
	Model      string             `json:"model"`
	ChannelID  string             `json:"channel"`
	KeyIndex   int                `json:"keyIndex"`
	RetryCount int                `json:"retryCount"`
	Outcome    Outcome            `json:"outcome"`
	ErrorType  provider.ErrorType `json:"errorType,omitempty"`
	Error      string             `json:"error,omitempty"`
	Duration   time.Duration      `json:"duration"`
}

// Result describes how a call ended. It is returned on failure too.
type Result struct {
	Response     *provider.Response `json:"-"`
	Model        string             `json:"model"`
	ChannelID    string             `json:"channel"`
	ChannelName  string             `json:"channelName"`
	KeyIndex     int                `json:"keyIndex"`
	FallbackUsed bool               `json:"fallbackUsed"`
	TotalRetries int                `json:"totalRetries"`
	Attempts     []Attempt          `json:"attempts"`
	SwitchChain  []string           `json:"switchChain"`
	Duration     time.Duration      `json:"duration"`
}

// hop formats one switchChain entry.
func hop(model, channelID string, keyIndex int) string {
	return fmt.Sprintf("%s@%s#%d", model, channelID, keyIndex)
}

// ErrorTypeOf classifies err, mapping ErrEmptyResponse to ErrorTypeEmpty.
func ErrorTypeOf(err error) provider.ErrorType {
	if errors.Is(err, ErrEmptyResponse) {
		return provider.ErrorTypeEmpty
	}
	return provider.Classify(err)
}
