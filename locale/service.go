package locale

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"
)

// DefaultTag is the locale used when no supported locale matches the
// device's language tags.
const DefaultTag = "en"

// localesDiskKey addresses the persisted server-advertised locale list.
const localesDiskKey = "locales"

// Getter fetches locale bundles over HTTP. Satisfied by transport.Client.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Service resolves localized strings. GetString is synchronous and never
// blocks on the network: it serves from cache or the compiled-in fallback
// and refreshes stale locales in the background. A single Service instance
// is shared by all concurrent flow sessions of a host.
type Service struct {
	baseURL string
	getter  Getter
	mem     *cache.Cache
	disk    *diskCache

	mu           sync.Mutex
	supported    []string // server-advertised language tags
	matcher      language.Matcher
	matcherTags  []string
	overrideTags string
	deviceTags   func() []string
	currentTag   string
	dirty        bool

	inflightMu sync.Mutex
	inflight   map[string]struct{}
	limiters   map[string]*rate.Limiter
}

// Option configures a Service.
type Option func(*Service)

// WithCacheDir enables the on-disk bundle cache.
func WithCacheDir(dir string) Option {
	return func(s *Service) { s.disk = newDiskCache(dir, 32) }
}

// WithDeviceTags supplies the host's current language-tag list, consulted
// whenever no explicit override is set.
func WithDeviceTags(provider func() []string) Option {
	return func(s *Service) { s.deviceTags = provider }
}

// New creates a Service fetching bundles from baseURL.
func New(baseURL string, getter Getter, opts ...Option) *Service {
	s := &Service{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		getter:     getter,
		mem:        cache.New(cache.NoExpiration, 0),
		currentTag: DefaultTag,
		dirty:      true,
		inflight:   make(map[string]struct{}),
		limiters:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Cold start: restore the last known supported-locale list so locale
	// selection works before the server configuration arrives.
	if _, raw, ok := s.disk.load(localesDiskKey); ok {
		var persisted struct {
			Locales []string `json:"locales"`
		}
		if err := json.Unmarshal(raw, &persisted); err == nil {
			s.setSupportedLocked(persisted.Locales)
		}
	}
	return s
}

// SetSupportedLocales installs the server-advertised locale list and
// persists it for the next cold start.
func (s *Service) SetSupportedLocales(tags []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setSupportedLocked(tags)

	raw, err := json.Marshal(struct {
		Locales []string `json:"locales"`
	}{Locales: tags})
	if err == nil {
		if err := s.disk.store(localesDiskKey, time.Now(), raw); err != nil {
			slog.Warn("locale: failed to persist supported locales", "error", err)
		}
	}
}

func (s *Service) setSupportedLocked(tags []string) {
	s.supported = s.supported[:0]
	s.matcherTags = s.matcherTags[:0]
	var parsed []language.Tag
	for _, tag := range tags {
		t, err := language.Parse(tag)
		if err != nil {
			slog.Warn("locale: ignoring malformed server locale", "tag", tag)
			continue
		}
		s.supported = append(s.supported, tag)
		s.matcherTags = append(s.matcherTags, tag)
		parsed = append(parsed, t)
	}
	if len(parsed) > 0 {
		s.matcher = language.NewMatcher(parsed)
	} else {
		s.matcher = nil
	}
	s.dirty = true
}

// SetLanguageTags installs an explicit comma-separated language-tag
// override; an empty string reverts to the device tags.
func (s *Service) SetLanguageTags(tags string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrideTags = tags
	s.dirty = true
}

// CurrentTag returns the server language tag selected for the device.
func (s *Service) CurrentTag() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureCurrentLocked()
	return s.currentTag
}

// GetString resolves a localized string for key. It always returns a
// non-empty usable string: current-locale cache, default-locale cache,
// then the compiled-in fallback.
func (s *Service) GetString(key Key) string {
	s.mu.Lock()
	s.ensureCurrentLocked()
	current := s.currentTag
	haveCurrent := s.containsLocked(current)
	haveDefault := s.containsLocked(DefaultTag)
	s.mu.Unlock()

	// The server does not publish content for any locale the engine could
	// use; skip cache and network entirely.
	if !haveCurrent && !haveDefault {
		return fallbackString(key)
	}

	currentContent := s.content(current)
	defaultContent := currentContent
	if current != DefaultTag {
		defaultContent = s.content(DefaultTag)
	}

	if currentContent != nil {
		if v, ok := currentContent.Lookup(key); ok {
			return v
		}
	}
	if defaultContent != nil && defaultContent != currentContent {
		if v, ok := defaultContent.Lookup(key); ok {
			return v
		}
	}
	return fallbackString(key)
}

func fallbackString(key Key) string {
	if key.Fallback != "" {
		return key.Fallback
	}
	return KeyUnspecifiedError.Fallback
}

func (s *Service) containsLocked(tag string) bool {
	for _, t := range s.supported {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// ensureCurrentLocked recomputes the selected locale after the device
// tags, the override, or the supported set changed.
func (s *Service) ensureCurrentLocked() {
	if !s.dirty {
		return
	}
	s.dirty = false
	s.currentTag = s.selectLocked()
	slog.Debug("locale: selected", "tag", s.currentTag)
}

func (s *Service) selectLocked() string {
	if s.matcher == nil {
		return DefaultTag
	}

	var candidates []language.Tag
	for _, raw := range s.candidateTagsLocked() {
		tag, err := language.Parse(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		candidates = append(candidates, tag)
	}
	if len(candidates) == 0 {
		return DefaultTag
	}

	_, index, conf := s.matcher.Match(candidates...)
	if conf == language.No || index >= len(s.matcherTags) {
		return DefaultTag
	}
	return s.matcherTags[index]
}

func (s *Service) candidateTagsLocked() []string {
	if s.overrideTags != "" {
		return strings.Split(s.overrideTags, ",")
	}
	if s.deviceTags != nil {
		return s.deviceTags()
	}
	return nil
}

// content returns the cached bundle for tag, triggering a background
// refresh when it is missing or expired.
func (s *Service) content(tag string) *Content {
	if entry, ok := s.mem.Get(cacheKey(tag)); ok {
		c := entry.(*Content)
		if c.Expired() {
			s.refresh(tag)
		}
		return c
	}

	if fetchedAt, raw, ok := s.disk.load(cacheKey(tag)); ok {
		if c, err := ParseContent(tag, raw, fetchedAt); err == nil {
			s.mem.Set(cacheKey(tag), c, cache.NoExpiration)
			if c.Expired() {
				s.refresh(tag)
			}
			return c
		}
	}

	s.refresh(tag)
	return nil
}

// refresh fetches a locale bundle in the background. Refreshes are
// deduplicated per URL and rate-limited per locale so repeated GetString
// calls against a failing server do not stampede it.
func (s *Service) refresh(tag string) {
	if s.getter == nil || s.baseURL == "" {
		return
	}
	bundleURL := s.bundleURL(tag)

	s.inflightMu.Lock()
	if _, busy := s.inflight[bundleURL]; busy {
		s.inflightMu.Unlock()
		return
	}
	limiter, ok := s.limiters[tag]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(30*time.Second), 2)
		s.limiters[tag] = limiter
	}
	if !limiter.Allow() {
		s.inflightMu.Unlock()
		return
	}
	s.inflight[bundleURL] = struct{}{}
	s.inflightMu.Unlock()

	go func() {
		defer func() {
			s.inflightMu.Lock()
			delete(s.inflight, bundleURL)
			s.inflightMu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		raw, err := s.getter.Get(ctx, bundleURL)
		if err != nil {
			slog.Warn("locale: refresh failed", "tag", tag, "error", err)
			return
		}

		now := time.Now()
		content, err := ParseContent(tag, raw, now)
		if err != nil {
			slog.Warn("locale: refresh returned invalid content", "tag", tag, "error", err)
			return
		}

		s.mem.Set(cacheKey(tag), content, cache.NoExpiration)
		if err := s.disk.store(cacheKey(tag), now, raw); err != nil {
			slog.Warn("locale: failed to persist bundle", "tag", tag, "error", err)
		}
		slog.Debug("locale: refreshed", "tag", tag)
	}()
}

func (s *Service) bundleURL(tag string) string {
	return fmt.Sprintf("%s/%s/mobile-sdk.json", s.baseURL, url.PathEscape(tag))
}

func cacheKey(tag string) string { return strings.ToLower(tag) }
