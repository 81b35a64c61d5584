package filterlist

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/AdguardTeam/abpfilter/internal/fileutil"
	"github.com/AdguardTeam/abpfilter/rules"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// ErrNoHeader is returned when a list doesn't start with the "[Adblock"
// header.
const ErrNoHeader errors.Error = "list does not start with [Adblock"

// Header is written to the cache files of lists that have no header of their
// own.
const Header = "[Adblock Plus 1.1.1]"

// headerPrefix is the prefix every list must start with.
const headerPrefix = "[Adblock"

// maxLineLength is the maximum length of a line of a list.
const maxLineLength = 1024 * 1024

// File permissions of the cache directory and files.
const (
	cacheDirPerm  fs.FileMode = 0o755
	cacheFilePerm fs.FileMode = 0o644
)

// parsedList is the result of parsing the text of a list.
type parsedList struct {
	remoteModified time.Time
	rules          []*rules.Rule
	updatePeriod   time.Duration
}

// parseList parses the text of a list.  The first non-empty line must be the
// header.
func parseList(r io.Reader) (l *parsedList, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineLength)

	l = &parsedList{}
	headerFound := false
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if !headerFound {
			if strings.TrimSpace(line) == "" {
				continue
			}

			if !strings.HasPrefix(line, headerPrefix) {
				return nil, ErrNoHeader
			}

			headerFound = true
		}

		r := rules.NewRule(line)
		l.rules = append(l.rules, r)

		if !r.IsComment() {
			continue
		}

		if period, ok := parseExpires(line); ok {
			l.updatePeriod = period
		}

		if t, ok := parseLastModified(line); ok {
			l.remoteModified = t
		}
	}

	if err = sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning: %w", err)
	}

	if !headerFound {
		return nil, ErrNoHeader
	}

	return l, nil
}

// Load reads the rules from the cache file, if there is one, and then checks
// if the subscription needs an update.
func (s *Subscription) Load(ctx context.Context) (err error) {
	err = s.LoadCache(ctx)
	if err != nil {
		return err
	}

	return s.CheckForUpdate(ctx)
}

// LoadCache reads the rules from the cache file, if there is one, without
// any network requests.  A cache file without the header is deleted and the
// subscription is considered never updated.
func (s *Subscription) LoadCache(ctx context.Context) (err error) {
	err = s.loadRules(ctx)
	if err != nil {
		return fmt.Errorf("loading %q: %w", s.Title(), err)
	}

	return nil
}

// loadRules reads the cache file and replaces the rules.
func (s *Subscription) loadRules(ctx context.Context) (err error) {
	fileName := s.RulesFileName()
	if fileName == "" {
		return nil
	}

	data, err := os.ReadFile(fileName)
	if errors.Is(err, fs.ErrNotExist) {
		if !s.custom {
			s.mu.Lock()
			s.lastUpdate = time.Time{}
			s.mu.Unlock()
		}

		return nil
	} else if err != nil {
		return fmt.Errorf("reading rules: %w", err)
	}

	l, err := parseList(bytes.NewReader(data))
	if errors.Is(err, ErrNoHeader) {
		s.logger.WarnContext(ctx, "removing corrupt rules file", "file", fileName, slogutil.KeyError, err)

		s.mu.Lock()
		s.lastUpdate = time.Time{}
		s.mu.Unlock()

		return errors.Annotate(os.Remove(fileName), "removing corrupt rules file: %w")
	} else if err != nil {
		return fmt.Errorf("parsing rules: %w", err)
	}

	s.setRules(l)

	s.logger.DebugContext(ctx, "loaded rules", "title", s.Title(), "count", len(l.rules))

	return nil
}

// setRules replaces the rules and the directives with the ones from l and
// rebuilds the caches.
func (s *Subscription) setRules(l *parsedList) {
	s.mu.Lock()
	s.rules = l.rules
	s.updatePeriod = l.updatePeriod
	s.remoteModified = l.remoteModified
	s.populateCache()
	s.mu.Unlock()

	s.emit(EventRulesChanged)
}

// Save writes the rules to the cache file.  The header is added unless the
// first rule is a header.  Saving is the inverse of loading and keeps the
// order and the text of the rules.
func (s *Subscription) Save() (err error) {
	s.mu.RLock()
	fileName := s.rulesFileName()
	buf := &bytes.Buffer{}
	if len(s.rules) == 0 || !s.rules[0].IsHeader() {
		buf.WriteString(Header + "\n")
	}

	for _, r := range s.rules {
		buf.WriteString(r.Text())
		buf.WriteByte('\n')
	}
	s.mu.RUnlock()

	if fileName == "" {
		return nil
	}

	return writeFile(fileName, buf.Bytes())
}

// RemoveFile removes the cache file of the subscription.  A missing file is
// not an error.
func (s *Subscription) RemoveFile() (err error) {
	fileName := s.RulesFileName()
	if fileName == "" {
		return nil
	}

	err = os.Remove(fileName)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}

// writeFile atomically replaces the cache file fileName with data.
func writeFile(fileName string, data []byte) (err error) {
	return errors.Annotate(
		fileutil.WriteAtomic(fileName, data, cacheFilePerm, cacheDirPerm),
		"writing cache file: %w",
	)
}
