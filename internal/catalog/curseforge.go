package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teamcutter/patchr/internal/domain"
)

const (
	DefaultBaseURL = "https://api.curseforge.com/v1/"
	DefaultTTL     = 10 * time.Minute
)

var ErrNotFound = errors.New("not found in catalog")

// CurseForge is a read-only client for the mod catalog. Responses are kept in
// the blob cache for ttl so repeated lookups stay offline.
type CurseForge struct {
	client  *http.Client
	baseURL string
	apiKey  string
	cache   domain.Cache
	ttl     time.Duration
	log     logrus.FieldLogger
}

type Option func(*CurseForge)

func WithClient(c *http.Client) Option {
	return func(cf *CurseForge) { cf.client = c }
}

func WithBaseURL(u string) Option {
	return func(cf *CurseForge) {
		if u != "" {
			cf.baseURL = u
		}
	}
}

func WithAPIKey(key string) Option {
	return func(cf *CurseForge) { cf.apiKey = key }
}

func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(cf *CurseForge) {
		cf.cache = c
		cf.ttl = ttl
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(cf *CurseForge) { cf.log = l }
}

func New(opts ...Option) *CurseForge {
	cf := &CurseForge{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: DefaultBaseURL,
		ttl:     DefaultTTL,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(cf)
	}
	if !strings.HasSuffix(cf.baseURL, "/") {
		cf.baseURL += "/"
	}
	return cf
}

type envelope[T any] struct {
	Data T `json:"data"`
}

func (cf *CurseForge) GetMod(ctx context.Context, modID int) (*domain.CatalogMod, error) {
	var resp envelope[domain.CatalogMod]
	if err := cf.get(ctx, fmt.Sprintf("mods/%d", modID), &resp); err != nil {
		return nil, fmt.Errorf("mod %d: %w", modID, err)
	}
	return &resp.Data, nil
}

func (cf *CurseForge) GetFile(ctx context.Context, modID, fileID int) (*domain.CatalogFile, error) {
	var resp envelope[domain.CatalogFile]
	if err := cf.get(ctx, fmt.Sprintf("mods/%d/files/%d", modID, fileID), &resp); err != nil {
		return nil, fmt.Errorf("mod %d file %d: %w", modID, fileID, err)
	}
	if resp.Data.ModID == 0 {
		resp.Data.ModID = modID
	}
	return &resp.Data, nil
}

// GetLatestFile picks the file with the newest fileDate.
func (cf *CurseForge) GetLatestFile(ctx context.Context, modID int) (*domain.CatalogFile, error) {
	var resp envelope[[]domain.CatalogFile]
	if err := cf.get(ctx, fmt.Sprintf("mods/%d/files", modID), &resp); err != nil {
		return nil, fmt.Errorf("mod %d files: %w", modID, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("mod %d: no files: %w", modID, ErrNotFound)
	}

	latest := resp.Data[0]
	for _, f := range resp.Data[1:] {
		if f.FileDate.After(latest.FileDate) {
			latest = f
		}
	}
	if latest.ModID == 0 {
		latest.ModID = modID
	}
	return &latest, nil
}

func (cf *CurseForge) get(ctx context.Context, path string, out any) error {
	url := cf.baseURL + path

	if cf.cache != nil {
		if cached, ok := cf.cache.Get(url, cf.ttl); ok {
			if err := json.Unmarshal(cached, out); err == nil {
				cf.log.WithField("url", url).Debug("catalog cache hit")
				return nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "patchr")
	if cf.apiKey != "" {
		req.Header.Set("x-api-key", cf.apiKey)
	}

	resp, err := cf.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	if err := json.NewDecoder(io.TeeReader(resp.Body, &buf)).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if cf.cache != nil {
		if err := cf.cache.Put(url, buf.Bytes()); err != nil {
			cf.log.WithField("url", url).Warnf("caching catalog response: %v", err)
		}
	}

	return nil
}
