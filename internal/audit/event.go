// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package audit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// EventType classifies an audit event.
type EventType string

// Event types
const (
	TypeAuthentication        EventType = "authentication"
	TypeAuthorization         EventType = "authorization"
	TypeConfigurationChange   EventType = "configuration_change"
	TypeDataAccess            EventType = "data_access"
	TypeIncidentInvestigation EventType = "incident_investigation"
	TypeRemediationAction     EventType = "remediation_action"
	TypeAPICall               EventType = "api_call"
	TypeCycleTrigger          EventType = "cycle_trigger"
	TypeRuleModification      EventType = "rule_modification"
	TypeSecretAccess          EventType = "secret_access"
	TypeSystemEvent           EventType = "system_event"
)

var eventTypes = []EventType{
	TypeAuthentication,
	TypeAuthorization,
	TypeConfigurationChange,
	TypeDataAccess,
	TypeIncidentInvestigation,
	TypeRemediationAction,
	TypeAPICall,
	TypeCycleTrigger,
	TypeRuleModification,
	TypeSecretAccess,
	TypeSystemEvent,
}

// EventTypes returns every event type in declaration order.
func EventTypes() []EventType {
	out := make([]EventType, len(eventTypes))
	copy(out, eventTypes)
	return out
}

// Valid reports whether t is part of the taxonomy.
func (t EventType) Valid() bool {
	for _, known := range eventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEventType converts s to an EventType.
func ParseEventType(s string) (EventType, error) {
	t := EventType(strings.TrimSpace(s))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, s)
	}
	return t, nil
}

// Status is the outcome of an audited action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// Valid reports whether s is a known outcome.
func (s Status) Valid() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusDenied
}

// ParseStatus converts s to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidEvent, s)
	}
	return st, nil
}

// Event is an immutable audit record.
type Event struct {
	ID        string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"event_type"`
	User      string         `json:"user"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Status    Status         `json:"status"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

// Entry is the caller-supplied part of an event. Record fills in the id and
// timestamps.
type Entry struct {
	Type      EventType
	User      string
	Action    string
	Resource  string
	Status    Status
	Details   map[string]any
	IPAddress string
	UserAgent string
}

// AnonymousUser is recorded when an entry carries no user.
const AnonymousUser = "anonymous"

// Syslog renders the event as an RFC 5424 style line at local0.info.
// Values holding spaces, quotes, '=' or control characters are quoted so
// the line stays a single record.
func (e *Event) Syslog() string {
	ip := e.IPAddress
	if ip == "" {
		ip = "N/A"
	}
	return fmt.Sprintf("<134>1 %s trustcore %s - - - user=%s action=%s resource=%s status=%s ip=%s",
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		syslogValue(string(e.Type)),
		syslogValue(e.User),
		syslogValue(e.Action),
		syslogValue(e.Resource),
		syslogValue(string(e.Status)),
		syslogValue(ip),
	)
}

func syslogValue(s string) string {
	if strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return strconv.Quote(s)
}

func needsQuote(r rune) bool {
	return r == '=' || r == '"' || r == '\\' || unicode.IsSpace(r) || !unicode.IsPrint(r)
}
