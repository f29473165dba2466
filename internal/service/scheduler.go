// internal/service/scheduler.go
package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/textpulse/sms-marketing-backend/internal/repository"
)

// Scheduler polls for due campaigns and hands them to the dispatcher.
// It owns its cron instance and in-flight set, so instances can be
// created and torn down independently.
type Scheduler struct {
	CampaignRepo repository.CampaignRepositoryInterface
	Dispatcher   *CampaignDispatcher

	interval time.Duration
	cron     *cron.Cron
	entry    cron.EntryID

	mu      sync.Mutex
	started bool

	inFlightMu sync.Mutex
	inFlight   map[int]struct{}
}

// NewScheduler creates a scheduler ticking at the given interval
// (minute granularity by default).
func NewScheduler(repo repository.CampaignRepositoryInterface, dispatcher *CampaignDispatcher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		CampaignRepo: repo,
		Dispatcher:   dispatcher,
		interval:     interval,
		cron:         cron.New(),
		inFlight:     make(map[int]struct{}),
	}
}

// Start begins the tick loop. Starting an already-running scheduler is
// a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	entry, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.Tick)
	if err != nil {
		return err
	}
	s.entry = entry
	s.cron.Start()
	s.started = true
	log.Printf("🚀 scheduler started, polling every %s\n", s.interval)
	return nil
}

// Stop halts the tick loop. Stopping a non-running scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.cron.Remove(s.entry)
	s.cron.Stop()
	s.started = false
	log.Println("scheduler stopped")
}

// Tick processes every due campaign once, sequentially. One campaign's
// failure never stops the rest of the tick, and a campaign whose
// dispatch from a previous tick is still running is skipped.
func (s *Scheduler) Tick() {
	due, err := s.CampaignRepo.ListDue(time.Now())
	if err != nil {
		log.Println("⚠️ scheduler failed to list due campaigns:", err)
		return
	}

	for _, campaign := range due {
		if !s.acquire(campaign.ID) {
			log.Printf("campaign %d dispatch still in flight, skipping\n", campaign.ID)
			continue
		}
		s.dispatchDue(campaign.OrganizationID, campaign.ID)
	}
}

func (s *Scheduler) dispatchDue(organizationID, campaignID int) {
	defer s.release(campaignID)

	// userID 0 marks scheduler-triggered dispatches in the audit trail
	if _, err := s.Dispatcher.SendCampaignNow(context.Background(), organizationID, 0, campaignID); err != nil {
		log.Printf("⚠️ scheduled dispatch failed for campaign %d: %v\n", campaignID, err)
	}
}

func (s *Scheduler) acquire(campaignID int) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	if _, busy := s.inFlight[campaignID]; busy {
		return false
	}
	s.inFlight[campaignID] = struct{}{}
	return true
}

func (s *Scheduler) release(campaignID int) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	delete(s.inFlight, campaignID)
}
