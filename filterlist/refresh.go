package filterlist

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// ErrEmptyBody is returned when the downloaded list is empty.
const ErrEmptyBody errors.Error = "got empty subscription rules"

// CheckForUpdate refreshes the subscription if it has never been updated or if
// the update period has passed since the last update or since the remote
// modification time.  Custom subscriptions are never updated.
func (s *Subscription) CheckForUpdate(ctx context.Context) (err error) {
	if s.custom {
		return nil
	}

	now := s.now()

	s.mu.RLock()
	period := s.effectiveUpdatePeriod()
	needed := s.lastUpdate.IsZero() ||
		(!s.remoteModified.IsZero() && s.remoteModified.Add(period).Before(now)) ||
		s.lastUpdate.Add(period).Before(now)
	s.mu.RUnlock()

	if !needed {
		return nil
	}

	return s.Refresh(ctx)
}

// Refresh updates the rules of the subscription from the location.  It does
// nothing if another refresh is in flight or if the location is not a valid
// URL.  "file:" locations are simply reloaded.
//
// A downloaded list replaces the cache file only if its checksum is correct or
// the update is confirmed, so a rejected list leaves the previous rules in
// place.
func (s *Subscription) Refresh(ctx context.Context) (err error) {
	if !s.refreshing.CompareAndSwap(false, true) {
		s.logger.DebugContext(ctx, "refresh already in progress", "title", s.Title())

		return nil
	}
	defer s.refreshing.Store(false)

	loc := s.Location()
	u, err := url.Parse(loc)
	if err != nil || u.Scheme == "" {
		s.logger.DebugContext(ctx, "not refreshing invalid location", "location", loc)

		return nil
	}

	if u.Scheme == "file" {
		s.setLastUpdate()

		return s.loadRules(ctx)
	}

	body, err := s.fetcher.Fetch(ctx, loc)
	if err != nil {
		return s.fetchFailed(ctx, err)
	} else if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("refreshing %q: %w", s.Title(), ErrEmptyBody)
	}

	err = s.validate(ctx, body)
	if err != nil {
		return fmt.Errorf("refreshing %q: %w", s.Title(), err)
	}

	l, err := parseList(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("refreshing %q: parsing: %w", s.Title(), err)
	}

	err = writeFile(s.RulesFileName(), body)
	if err != nil {
		return fmt.Errorf("refreshing %q: %w", s.Title(), err)
	}

	s.setLastUpdate()
	s.setRules(l)

	s.logger.InfoContext(ctx, "refreshed", "title", s.Title(), "rules", len(l.rules))

	return nil
}

// fetchFailed handles a failed download.  The first failure of the default
// subscription is only logged.
func (s *Subscription) fetchFailed(ctx context.Context, fetchErr error) (err error) {
	s.mu.Lock()
	suppress := s.suppressError
	s.suppressError = false
	s.mu.Unlock()

	if suppress {
		s.logger.WarnContext(ctx, "first download failed", "title", s.Title(), slogutil.KeyError, fetchErr)

		return nil
	}

	return fmt.Errorf("downloading %q: %w", s.Title(), fetchErr)
}

// validate checks the checksum of the list and asks for confirmation if it is
// wrong.
func (s *Subscription) validate(ctx context.Context, body []byte) (err error) {
	err = ValidateChecksum(body)
	if err == nil {
		return nil
	}

	csErr := &ChecksumError{}
	if !errors.As(err, &csErr) {
		return err
	}

	if s.confirm != nil && s.confirm(ctx, s, csErr) {
		s.logger.InfoContext(ctx, "using list with wrong checksum", "title", s.Title())

		return nil
	}

	return err
}

// setLastUpdate sets the time of the last update to now.
func (s *Subscription) setLastUpdate() {
	now := s.now()

	s.mu.Lock()
	s.lastUpdate = now
	s.mu.Unlock()

	s.emit(EventChanged)
}
