package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/teamcutter/patchr/internal/domain"
)

const (
	DefaultMaxScan      = 100
	DefaultWorkers      = 10
	DefaultProbeTimeout = 5 * time.Second
)

// Service finds published patches by probing every candidate number in
// [0, maxScan]. The patch host has no index, so absence is the common case.
type Service struct {
	client       *http.Client
	baseURL      string
	maxScan      int
	workers      int
	probeTimeout time.Duration
	userAgent    string
	state        domain.State
	log          logrus.FieldLogger
}

type Option func(*Service)

func WithClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

func WithMaxScan(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxScan = n
		}
	}
}

func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithProbeTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(s *Service) { s.userAgent = ua }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

func New(baseURL string, state domain.State, opts ...Option) *Service {
	s := &Service{
		client:       &http.Client{},
		baseURL:      strings.TrimRight(baseURL, "/"),
		maxScan:      DefaultMaxScan,
		workers:      DefaultWorkers,
		probeTimeout: DefaultProbeTimeout,
		userAgent:    "Mozilla/5.0",
		state:        state,
		log:          logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Locator builds the download URL of one patch.
func (s *Service) Locator(platformID, archID string, patch int) string {
	return fmt.Sprintf("%s/%s/%s/release/0/%s", s.baseURL, platformID, archID, domain.PatchFileName(patch))
}

// Scan probes the whole range and replaces the available collection with what
// it found, newest first. Individual probe failures count as absence. The
// cached collection is left alone when the scan itself cannot run.
func (s *Service) Scan(ctx context.Context, platformID, archID string, report domain.ProgressFunc) ([]domain.VersionRecord, error) {
	if err := s.validate(platformID, archID); err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{"platform": platformID, "arch": archID, "range": s.maxScan})
	log.Info("scanning for versions")
	report.Report(domain.Progress{Percent: 0, Total: -1, Message: "Scanning versions..."})

	total := s.maxScan + 1

	var (
		mu        sync.Mutex
		completed int
		found     []domain.VersionRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for n := 0; n <= s.maxScan; n++ {
		n := n
		g.Go(func() error {
			rec, ok := s.probe(gctx, platformID, archID, n)

			mu.Lock()
			defer mu.Unlock()

			completed++
			if ok {
				found = append(found, rec)
			}
			report.Report(domain.Progress{
				Percent:     float64(completed * 100 / total),
				Transferred: int64(completed),
				Total:       int64(total),
				Message:     fmt.Sprintf("found %d", len(found)),
			})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		log.Info("scan cancelled, keeping cached versions")
		return nil, fmt.Errorf("scan: %w: %w", domain.ErrCancelled, err)
	}

	slices.SortFunc(found, func(a, b domain.VersionRecord) int {
		return b.PatchNumber - a.PatchNumber
	})
	if found == nil {
		found = []domain.VersionRecord{}
	}

	if err := s.state.SaveAvailable(found); err != nil {
		return found, fmt.Errorf("saving available versions: %w", err)
	}

	log.WithField("found", len(found)).Info("scan complete")
	return found, nil
}

// ScanOrCached runs Scan and falls back to the last saved collection when it
// fails. The returned error is the scan failure, if any.
func (s *Service) ScanOrCached(ctx context.Context, platformID, archID string, report domain.ProgressFunc) ([]domain.VersionRecord, error) {
	versions, err := s.Scan(ctx, platformID, archID, report)
	if err == nil {
		return versions, nil
	}

	s.log.Warnf("scan failed, using cached versions: %v", err)
	return s.state.LoadAvailable(), err
}

func (s *Service) validate(platformID, archID string) error {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return fmt.Errorf("invalid patches url %q: %w", s.baseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid patches url %q", s.baseURL)
	}
	if platformID == "" || archID == "" {
		return fmt.Errorf("platform and arch are required")
	}
	return nil
}

// probe issues a HEAD for one patch. Only a 200 means the patch exists.
func (s *Service) probe(ctx context.Context, platformID, archID string, patch int) (domain.VersionRecord, bool) {
	locator := s.Locator(platformID, archID, patch)
	log := s.log.WithField("patch", patch)

	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, locator, nil)
	if err != nil {
		log.Debugf("probe: %v", err)
		return domain.VersionRecord{}, false
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		log.Debugf("probe: %v", err)
		return domain.VersionRecord{}, false
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Debugf("probe: %s", resp.Status)
		return domain.VersionRecord{}, false
	}

	size := resp.ContentLength
	if size < 0 {
		size = -1
	}
	log.WithField("size", size).Debug("patch found")

	return domain.VersionRecord{
		Name:        domain.PatchName(patch),
		FileName:    domain.PatchFileName(patch),
		DownloadURL: locator,
		PatchNumber: patch,
		Size:        size,
	}, true
}
