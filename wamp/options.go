// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wamp

// MatchPolicy is the URI pattern-matching policy for a subscription or
// registration.
type MatchPolicy string

const (
	MatchExact    MatchPolicy = "exact"
	MatchPrefix   MatchPolicy = "prefix"
	MatchWildcard MatchPolicy = "wildcard"
)

func matchPolicyOf(options map[string]any) MatchPolicy {
	if options == nil {
		return MatchExact
	}
	if v, ok := options["match"].(string); ok {
		switch MatchPolicy(v) {
		case MatchPrefix:
			return MatchPrefix
		case MatchWildcard:
			return MatchWildcard
		}
	}
	return MatchExact
}

// CancelMode is the wire cancellation mode.
type CancelMode string

const (
	CancelKill       CancelMode = "kill"
	CancelKillNoWait CancelMode = "killnowait"
	CancelSkip       CancelMode = "skip"
)

// SubscribeOptions are the recognized SUBSCRIBE.options keys.
type SubscribeOptions struct {
	Match MatchPolicy
}

func (o SubscribeOptions) toWire() map[string]any {
	m := map[string]any{}
	if o.Match != "" && o.Match != MatchExact {
		m["match"] = string(o.Match)
	}
	return m
}

// PublishOptions are the recognized PUBLISH.options keys.
type PublishOptions struct {
	Exclude         []uint64
	ExcludeAuthID   []string
	ExcludeAuthRole []string
	Eligible        []uint64
	EligibleAuthID  []string
	EligibleAuthRole []string
	ExcludeMe       bool
	DiscloseMe      bool
	Acknowledge     bool
}

func (o PublishOptions) toWire() map[string]any {
	m := map[string]any{}
	if len(o.Exclude) > 0 {
		m["exclude"] = o.Exclude
	}
	if len(o.ExcludeAuthID) > 0 {
		m["exclude_authid"] = o.ExcludeAuthID
	}
	if len(o.ExcludeAuthRole) > 0 {
		m["exclude_authrole"] = o.ExcludeAuthRole
	}
	if len(o.Eligible) > 0 {
		m["eligible"] = o.Eligible
	}
	if len(o.EligibleAuthID) > 0 {
		m["eligible_authid"] = o.EligibleAuthID
	}
	if len(o.EligibleAuthRole) > 0 {
		m["eligible_authrole"] = o.EligibleAuthRole
	}
	if o.ExcludeMe {
		m["exclude_me"] = true
	}
	if o.DiscloseMe {
		m["disclose_me"] = true
	}
	if o.Acknowledge {
		m["acknowledge"] = true
	}
	return m
}

// CallOptions are the recognized CALL.options keys.
type CallOptions struct {
	TimeoutMillis   uint64
	ReceiveProgress bool
	DiscloseMe      bool
}

func (o CallOptions) toWire() map[string]any {
	m := map[string]any{}
	if o.TimeoutMillis > 0 {
		m["timeout"] = o.TimeoutMillis
	}
	if o.ReceiveProgress {
		m["receive_progress"] = true
	}
	if o.DiscloseMe {
		m["disclose_me"] = true
	}
	return m
}

// RegisterOptions are the recognized REGISTER.options keys.
type RegisterOptions struct {
	Match          MatchPolicy
	DiscloseCaller bool
}

func (o RegisterOptions) toWire() map[string]any {
	m := map[string]any{}
	if o.Match != "" && o.Match != MatchExact {
		m["match"] = string(o.Match)
	}
	if o.DiscloseCaller {
		m["disclose_caller"] = true
	}
	return m
}

// CancelOptions are the recognized CANCEL.options keys.
type CancelOptions struct {
	Mode CancelMode
}

func (o CancelOptions) toWire() map[string]any {
	return map[string]any{"mode": string(o.Mode)}
}

func cancelModeOf(options map[string]any) CancelMode {
	if options == nil {
		return CancelKill
	}
	if v, ok := options["mode"].(string); ok {
		switch CancelMode(v) {
		case CancelKillNoWait:
			return CancelKillNoWait
		case CancelSkip:
			return CancelSkip
		}
	}
	return CancelKill
}

// advertisedRoles builds the HELLO.details.roles map describing the
// client feature set.
func advertisedRoles() map[string]any {
	callerFeatures := map[string]any{
		"progressive_call_results": true,
		"call_canceling":           true,
		"caller_identification":    true,
		"call_timeout":             true,
		"call_trustlevels":         true,
	}
	calleeFeatures := map[string]any{
		"progressive_call_results": true,
		"call_canceling":           true,
		"caller_identification":    true,
		"pattern_based_registration": true,
		"call_timeout":             true,
		"call_trustlevels":         true,
	}
	publisherFeatures := map[string]any{
		"publisher_identification": true,
		"publisher_exclusion":      true,
		"subscriber_blackwhite_listing": true,
	}
	subscriberFeatures := map[string]any{
		"pattern_based_subscription": true,
		"publisher_identification":   true,
	}
	return map[string]any{
		"caller":     map[string]any{"features": callerFeatures},
		"callee":     map[string]any{"features": calleeFeatures},
		"publisher":  map[string]any{"features": publisherFeatures},
		"subscriber": map[string]any{"features": subscriberFeatures},
	}
}
