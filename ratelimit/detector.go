package ratelimit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMaxEvents = 10000
	// Longest correlation window; older events can never match a rule.
	logRetention = 30 * time.Minute
	trimEvery    = time.Minute
)

// Detection rule thresholds and correlation windows.
var (
	bruteForceWindow  = 15 * time.Minute
	bruteForceCount   = 5
	stuffingWindow    = 30 * time.Minute
	stuffingCount     = 10
	stuffingWallets   = 5
	enumerationWindow = 5 * time.Minute
	enumerationCount  = 20
	abuseWindow       = 10 * time.Minute
	abuseCount        = 3
)

// AlertFunc receives detection events. Detection is advisory: the handler
// alerts, it never blocks traffic.
type AlertFunc func(SecurityEvent)

// Detector appends auth outcomes to a bounded rolling log and correlates
// them over sliding windows to flag brute-force, credential-stuffing,
// session-enumeration and blacklist-abuse patterns.
type Detector struct {
	mu        sync.Mutex
	events    []SecurityEvent
	maxEvents int
	alert     AlertFunc
	nowFunc   func() time.Time

	stopTrim  chan struct{}
	closeOnce sync.Once
}

// DetectorOption modifies a Detector instance.
type DetectorOption func(*Detector)

// WithMaxEvents bounds the rolling log; the oldest entries are dropped
// beyond it.
func WithMaxEvents(max int) DetectorOption {
	return func(d *Detector) {
		d.maxEvents = max
	}
}

// WithDetectorNowFunc sets the now time function (primarily for testing).
func WithDetectorNowFunc(now func() time.Time) DetectorOption {
	return func(d *Detector) {
		d.nowFunc = now
	}
}

// NewDetector creates a detector delivering alerts to the given handler
// and starts its background log trim.
func NewDetector(alert AlertFunc, options ...DetectorOption) *Detector {
	d := &Detector{
		maxEvents: defaultMaxEvents,
		alert:     alert,
		nowFunc:   time.Now,
		stopTrim:  make(chan struct{}),
	}

	for _, opt := range options {
		opt(d)
	}

	go d.trimLoop()

	return d
}

// Record appends an event to the log and runs the correlation rules it can
// newly satisfy. An alert fires once, at the moment a threshold is crossed.
func (d *Detector) Record(event SecurityEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.nowFunc()
	}

	var alerts []SecurityEvent

	d.mu.Lock()
	d.events = append(d.events, event)
	if len(d.events) > d.maxEvents {
		d.events = d.events[len(d.events)-d.maxEvents:]
	}
	alerts = d.correlate(event)
	d.mu.Unlock()

	if d.alert != nil {
		for _, a := range alerts {
			d.alert(a)
		}
	}
}

// EventCount reports the current log size.
func (d *Detector) EventCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

// Trim drops events older than the retention bound, capping memory.
func (d *Detector) Trim() int {
	cutoff := d.nowFunc().Add(-logRetention)

	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.events[:0]
	removed := 0
	for _, e := range d.events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		} else {
			removed++
		}
	}
	d.events = kept
	return removed
}

// Close stops the background trim goroutine.
func (d *Detector) Close() {
	d.closeOnce.Do(func() {
		close(d.stopTrim)
	})
}

func (d *Detector) trimLoop() {
	ticker := time.NewTicker(trimEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.Trim()
		case <-d.stopTrim:
			return
		}
	}
}

// correlate runs under d.mu. The just-recorded event is the last log entry;
// a rule fires when it is the one that crosses the threshold.
func (d *Detector) correlate(event SecurityEvent) []SecurityEvent {
	var alerts []SecurityEvent

	switch event.Type {
	case EventLoginFailure:
		failures := d.matching(event.Identifier, EventLoginFailure, bruteForceWindow)
		if len(failures) == bruteForceCount {
			alerts = append(alerts, d.detection(EventBruteForce, event))
		}

		recent := d.matching(event.Identifier, EventLoginFailure, stuffingWindow)
		wallets := distinctWallets(recent)
		if len(recent) >= stuffingCount && wallets >= stuffingWallets {
			prev := recent[:len(recent)-1]
			if len(prev) < stuffingCount || distinctWallets(prev) < stuffingWallets {
				alerts = append(alerts, d.detection(EventCredentialStuffing, event))
			}
		}

	case EventSessionCheckFailure:
		if len(d.matching(event.Identifier, EventSessionCheckFailure, enumerationWindow)) == enumerationCount {
			alerts = append(alerts, d.detection(EventSessionEnumeration, event))
		}

	case EventBlacklistHit:
		if len(d.matching(event.Identifier, EventBlacklistHit, abuseWindow)) == abuseCount {
			alerts = append(alerts, d.detection(EventBlacklistAbuse, event))
		}
	}

	return alerts
}

func (d *Detector) matching(identifier string, eventType EventType, window time.Duration) []SecurityEvent {
	cutoff := d.nowFunc().Add(-window)

	var matched []SecurityEvent
	for _, e := range d.events {
		if e.Identifier == identifier && e.Type == eventType && e.Timestamp.After(cutoff) {
			matched = append(matched, e)
		}
	}
	return matched
}

func (d *Detector) detection(detected EventType, trigger SecurityEvent) SecurityEvent {
	return SecurityEvent{
		ID:         uuid.New().String(),
		Type:       detected,
		Timestamp:  d.nowFunc(),
		Identifier: trigger.Identifier,
		UserID:     trigger.UserID,
		Wallet:     trigger.Wallet,
		Metadata:   map[string]string{"trigger_event": trigger.ID},
	}
}

func distinctWallets(events []SecurityEvent) int {
	seen := make(map[string]bool)
	for _, e := range events {
		if e.Wallet != "" {
			seen[e.Wallet] = true
		}
	}
	return len(seen)
}
