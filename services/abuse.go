package services

import (
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/summit-chronicles/summit_api/dto"
	log "github.com/sirupsen/logrus"
)

// AbuseTrackerService keeps per-source-address violation history and
// escalates repeat offenders to a temporary block. Records live in memory
// only; unblocking is evaluated lazily at query time, never by a sweeper.
type AbuseTrackerService struct {
	appContext.DefaultService

	mutex   sync.Mutex
	records map[string]*suspiciousRecord
	now     func() time.Time

	amqpSvc *AmqpService
	monSvc  *MonitoringService
}

type suspiciousRecord struct {
	violations     int
	firstViolation time.Time
	lastViolation  time.Time
	blocked        bool
}

const (
	ABUSE_TRACKER_SVC = "abuse_tracker_svc"

	blockThreshold  = 5
	escalationSpan  = 24 * time.Hour
	unblockAfter    = 24 * time.Hour
	recordRetention = 7 * 24 * time.Hour
)

func (svc AbuseTrackerService) Id() string {
	return ABUSE_TRACKER_SVC
}

func (svc *AbuseTrackerService) Configure(ctx *appContext.Context) error {
	svc.records = make(map[string]*suspiciousRecord)
	svc.now = time.Now
	return svc.DefaultService.Configure(ctx)
}

func (svc *AbuseTrackerService) Start() error {
	svc.amqpSvc, _ = svc.Service(AMQP_SVC).(*AmqpService)
	svc.monSvc, _ = svc.Service(MONITORING_SVC).(*MonitoringService)

	go svc.startRetentionJob()
	return nil
}

// ==================== VIOLATION TRACKING ====================

// RecordViolation counts one violation against the address and reports
// whether this violation tipped it into the blocked state.
func (svc *AbuseTrackerService) RecordViolation(sourceAddress, violationType string) bool {
	now := svc.now()

	svc.mutex.Lock()
	record, exists := svc.records[sourceAddress]
	if !exists {
		svc.records[sourceAddress] = &suspiciousRecord{
			violations:     1,
			firstViolation: now,
			lastViolation:  now,
		}
		svc.mutex.Unlock()

		log.WithFields(log.Fields{
			"address": sourceAddress,
			"type":    violationType,
		}).Debug("First violation recorded")

		if svc.monSvc != nil {
			svc.monSvc.RecordViolation(violationType)
		}
		return false
	}

	if record.violations == 0 {
		// Counter was reset by a lazy unblock; start a fresh escalation window
		record.firstViolation = now
	}
	record.violations++
	record.lastViolation = now

	blockedNow := false
	if !record.blocked &&
		record.violations >= blockThreshold &&
		now.Sub(record.firstViolation) < escalationSpan {
		record.blocked = true
		blockedNow = true
	}
	violations := record.violations
	svc.mutex.Unlock()

	log.WithFields(log.Fields{
		"address":    sourceAddress,
		"type":       violationType,
		"violations": violations,
	}).Info("Violation recorded")

	if svc.monSvc != nil {
		svc.monSvc.RecordViolation(violationType)
	}

	if blockedNow {
		log.WithField("address", sourceAddress).Warn("Address escalated to blocked")
		svc.publishBlockEvent(sourceAddress, true, violations)
	}

	return blockedNow
}

// IsBlocked reports the address state, lazily lifting the block (and
// resetting the counter) once more than 24h have passed since the last
// violation.
func (svc *AbuseTrackerService) IsBlocked(sourceAddress string) bool {
	svc.mutex.Lock()
	record, exists := svc.records[sourceAddress]
	if !exists {
		svc.mutex.Unlock()
		return false
	}

	unblocked := false
	if record.blocked && svc.now().Sub(record.lastViolation) > unblockAfter {
		record.blocked = false
		record.violations = 0
		unblocked = true
	}
	blocked := record.blocked
	svc.mutex.Unlock()

	if unblocked {
		log.WithField("address", sourceAddress).Info("Address automatically unblocked")
		svc.publishBlockEvent(sourceAddress, false, 0)
	}

	return blocked
}

func (svc *AbuseTrackerService) GetStats() *dto.AbuseStats {
	now := svc.now()
	cutoff := now.Add(-24 * time.Hour)

	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	stats := &dto.AbuseStats{}
	for _, record := range svc.records {
		if record.blocked {
			stats.BlockedIPs++
		}
		stats.TotalViolations += int64(record.violations)
		if record.lastViolation.After(cutoff) {
			stats.RecentViolations += int64(record.violations)
		}
	}
	return stats
}

// ==================== EVENTS & RETENTION ====================

// publishBlockEvent is fail-soft: enforcement downstream is best-effort and
// must never affect the admission path.
func (svc *AbuseTrackerService) publishBlockEvent(sourceAddress string, blocked bool, violations int) {
	if svc.amqpSvc == nil {
		return
	}
	svc.amqpSvc.PublishBlockEvent(sourceAddress, blocked, violations)
}

// Records aren't hard-deleted on unblock, but idle ones do age out so the map
// stays bounded.
func (svc *AbuseTrackerService) startRetentionJob() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := svc.now().Add(-recordRetention)

		svc.mutex.Lock()
		for address, record := range svc.records {
			if record.lastViolation.Before(cutoff) {
				delete(svc.records, address)
			}
		}
		svc.mutex.Unlock()
	}
}
